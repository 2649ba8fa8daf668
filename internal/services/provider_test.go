package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-reminder-agent/internal/queue"
)

func TestHTTPProvider_Send(t *testing.T) {
	var got ProviderMessage
	var auth, idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		auth, idem = r.Header.Get("Authorization"), r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"messageId":"wamid.42"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("whatsapp-cloud", srv.URL+"/", "tok", time.Second)
	rcpt, err := p.Send(context.Background(), ProviderMessage{TenantID: "t1", To: "+336", Content: "hi", IdempotencyKey: "k1"})
	if err != nil || rcpt.MessageID != "wamid.42" {
		t.Fatalf("send: %+v err=%v", rcpt, err)
	}
	if got.To != "+336" || got.Content != "hi" || auth != "Bearer tok" || idem != "k1" {
		t.Fatalf("request not forwarded: %+v auth=%q idem=%q", got, auth, idem)
	}
	if p.Name() != "whatsapp-cloud" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestHTTPProvider_ErrorClasses(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		permanent bool
	}{
		{http.StatusBadRequest, `{"error":"bad number"}`, true},
		{http.StatusTooManyRequests, ``, false},
		{http.StatusBadGateway, ``, false},
		{http.StatusOK, `{}`, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewHTTPProvider("p", srv.URL, "", time.Second).Send(context.Background(), ProviderMessage{To: "x"})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if queue.IsPermanent(err) != tc.permanent {
			t.Fatalf("status %d: permanent=%v err=%v", tc.status, queue.IsPermanent(err), err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPProvider("p", "http://127.0.0.1:1", "", time.Second).Send(ctx, ProviderMessage{})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestDryRunProvider(t *testing.T) {
	rcpt, err := DryRunProvider{Log: zerolog.Nop()}.Send(context.Background(), ProviderMessage{To: "+336"})
	if err != nil || !strings.HasPrefix(rcpt.MessageID, "dry-") {
		t.Fatalf("got %+v err=%v", rcpt, err)
	}
}
