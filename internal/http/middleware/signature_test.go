package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestVerifySignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const secret = "s3cret"
	body := `{"tenantId":"t1","clientId":"c1","text":"STOP"}`

	r := gin.New()
	r.Use(VerifySignature(secret))
	r.POST("/in", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(b))
	})

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/in", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(HeaderSignature, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send(Sign(secret, []byte(body)))
	if w.Code != http.StatusOK || w.Body.String() != body {
		t.Fatalf("valid signature: code=%d body=%q", w.Code, w.Body.String())
	}
	if w := send(strings.ToUpper(Sign(secret, []byte(body))[7:])); w.Code != http.StatusForbidden {
		t.Fatalf("missing prefix should fail, got %d", w.Code)
	}

	base := testutil.ToFloat64(webhookRejected.WithLabelValues("bad_signature"))
	if w := send(Sign("other", []byte(body))); w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "signature_invalid") {
		t.Fatalf("wrong secret: code=%d body=%s", w.Code, w.Body.String())
	}
	if got := testutil.ToFloat64(webhookRejected.WithLabelValues("bad_signature")); got != base+1 {
		t.Fatalf("rejection not counted: %v", got)
	}
	if w := send(""); w.Code != http.StatusForbidden {
		t.Fatalf("missing signature should fail, got %d", w.Code)
	}
}

func TestVerifySignature_DisabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(VerifySignature(""))
	r.POST("/in", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/in", strings.NewReader("{}")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}
