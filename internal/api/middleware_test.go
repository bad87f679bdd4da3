package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/redis"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Forwarded-For chain", "1.2.3.4, 10.0.0.1", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			if got := IPKeyFunc(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := RateLimitMiddleware(nil, "webhooks", zap.NewNop(), IPKeyFunc)(okHandler())

	req := httptest.NewRequest("POST", "/webhooks/whatsapp", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestRateLimitMiddleware_LocalLimiter(t *testing.T) {
	handler := RateLimitMiddleware(NewLocalLimiter(2), "webhooks", zap.NewNop(), IPKeyFunc)(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/webhooks/whatsapp", nil)
		req.RemoteAddr = ip + ":5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("9.9.9.9"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	rr := send("9.9.9.9")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rr.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("expected limit header 2, got %q", rr.Header().Get("X-RateLimit-Limit"))
	}

	// Other clients have their own bucket
	if rr := send("8.8.8.8"); rr.Code != http.StatusOK {
		t.Errorf("expected status 200 for a different ip, got %d", rr.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (*redis.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	handler := RateLimitMiddleware(failingLimiter{}, "webhooks", zap.NewNop(), IPKeyFunc)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/webhooks/whatsapp", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 when the limiter errors, got %d", rr.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		header   string
		expected int
	}{
		{"valid", "s3cret", "Bearer s3cret", http.StatusOK},
		{"wrong token", "s3cret", "Bearer other", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"unset secret rejects everything", "", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := BearerAuth(tt.secret, zap.NewNop())(okHandler())
			req := httptest.NewRequest("GET", "/cron/tick", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, rr.Code)
			}
		})
	}
}

func TestTwilioSignatureFor(t *testing.T) {
	a := TwilioSignatureFor("tok", "https://med.example/hook", url.Values{"B": {"2"}, "A": {"1"}})
	b := TwilioSignatureFor("tok", "https://med.example/hook", url.Values{"A": {"1"}, "B": {"2"}})
	if a != b {
		t.Errorf("expected parameter order not to matter, got %q and %q", a, b)
	}
	if c := TwilioSignatureFor("other", "https://med.example/hook", url.Values{"A": {"1"}, "B": {"2"}}); c == a {
		t.Error("expected token to change the signature")
	}
	if len(a) != 28 {
		t.Errorf("expected base64 SHA1 digest, got %q", a)
	}
}

func TestTwilioSignature(t *testing.T) {
	const token = "auth-token"
	const base = "https://med.example"
	form := url.Values{"Body": {"done"}, "From": {"whatsapp:+15551234567"}}

	tests := []struct {
		name     string
		sig      string
		expected int
	}{
		{"valid", TwilioSignatureFor(token, base+"/webhooks/whatsapp", form), http.StatusOK},
		{"tampered", TwilioSignatureFor(token, base+"/webhooks/other", form), http.StatusForbidden},
		{"missing", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := TwilioSignature(token, base+"/", zap.NewNop())(okHandler())
			req := httptest.NewRequest("POST", "/webhooks/whatsapp", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.sig != "" {
				req.Header.Set("X-Twilio-Signature", tt.sig)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, rr.Code)
			}
		})
	}
}

func TestMessengerSignature(t *testing.T) {
	const secret = "app-secret"
	body := `{"object":"page"}`

	var seen string
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})
	handler := MessengerSignature(secret, zap.NewNop())(echo)

	req := httptest.NewRequest("POST", "/webhooks/messenger", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+MessengerSignatureFor(secret, []byte(body)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if seen != body {
		t.Errorf("expected handler to see restored body, got %q", seen)
	}

	req = httptest.NewRequest("POST", "/webhooks/messenger", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+MessengerSignatureFor("wrong", []byte(body)))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}

	// The verification handshake is a GET and carries no signature
	req = httptest.NewRequest("GET", "/webhooks/messenger?hub.mode=subscribe", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected GET to pass through, got %d", rr.Code)
	}
}
