package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"from=+33612345678", "from=[REDACTED:phone]"},
		{"from=%2B33612345678", "from=[REDACTED:phone]"},
		{"call 06 12 34 56 78 please", "call [REDACTED:phone] please"},
		{"mail a.b+tag@example.com", "mail [REDACTED:email]"},
		{"date=2026-03-02", "date=2026-03-02"},
		{"id 123e4567-e89b-12d3-a456-426614174000", "id [REDACTED:id]"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactingLogger_MasksAndAttachesLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.POST("/webhooks/:channel/inbound", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/inbound?from=%2B33611111111", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Signature-256", "sha256=abcd")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Forwarded-For-Phone", "+33622222222")
	req.Header.Set(requestIDHeader, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	for _, want := range []string{
		`"message":"inside"`,
		`"path":"/webhooks/:channel/inbound"`,
		`"channel":"sms"`,
		`"request_id":"rid-1"`,
		`"Authorization":"[REDACTED]"`,
		`"X-Signature-256":"[REDACTED]"`,
		`"X-Api-Key":"[REDACTED]"`,
		`"X-Forwarded-For-Phone":"[REDACTED:phone]"`,
		`"query":"from=[REDACTED:phone]"`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("missing %s in logs:\n%s", want, logs)
		}
	}
	if strings.Contains(logs, "33611111111") || strings.Contains(logs, "shhh") {
		t.Fatalf("sensitive values leaked: %s", logs)
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/warn", nil)
	req.Header.Set(requestIDHeader, "rid-warn")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/error", nil))

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-warn"`) {
		t.Fatalf("warn log missing request id fallback: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) {
		t.Fatalf("error log missing: %s", logs)
	}
}
