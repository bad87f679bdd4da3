package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/medreminder/internal/metrics"
	"github.com/lalithlochan/medreminder/internal/redis"
)

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (*redis.RateLimitResult, error)
}

// RateLimitMiddleware enforces limiter per key. A limiter error lets the
// request through.
func RateLimitMiddleware(limiter Limiter, route string, logger *zap.Logger, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), route+":"+key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.String("route", route), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection(route)
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests",
					"Rate limit exceeded. Please retry after the specified time.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LocalLimiter is a process-local token bucket per key, used when no Redis
// is configured. Idle keys are evicted after an hour.
type LocalLimiter struct {
	mu      sync.Mutex
	perMin  int
	buckets *gocache.Cache
}

// NewLocalLimiter allows perMinute requests per key with bursts of the same size.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	return &LocalLimiter{
		perMin:  perMinute,
		buckets: gocache.New(time.Hour, 10*time.Minute),
	}
}

func (l *LocalLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
	l.buckets.SetDefault(key, lim)
	return lim
}

// Allow takes one token for key.
func (l *LocalLimiter) Allow(ctx context.Context, key string) (*redis.RateLimitResult, error) {
	lim := l.limiter(key)
	now := time.Now()
	allowed := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &redis.RateLimitResult{
		Allowed:   allowed,
		Limit:     l.perMin,
		Remaining: remaining,
		ResetAt:   now.Add(time.Minute / time.Duration(l.perMin)),
	}, nil
}

// IPKeyFunc extracts the client IP for rate limiting. Behind a proxy the
// first X-Forwarded-For entry is the client.
func IPKeyFunc(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

// BearerAuth requires "Authorization: Bearer <secret>". An empty secret
// rejects every request.
func BearerAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				logger.Warn("rejected unauthenticated request", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "a valid bearer token is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TwilioSignature verifies X-Twilio-Signature: base64 HMAC-SHA1 of the full
// request URL followed by every POST parameter name and value, sorted by
// name. baseURL is the public origin Twilio was configured with.
func TwilioSignature(authToken, baseURL string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "Malformed form body", err.Error())
				return
			}

			url := strings.TrimSuffix(baseURL, "/") + r.URL.RequestURI()
			expected := TwilioSignatureFor(authToken, url, r.PostForm)
			got := r.Header.Get("X-Twilio-Signature")
			if authToken == "" || !hmac.Equal([]byte(got), []byte(expected)) {
				logger.Warn("rejected webhook with bad twilio signature", zap.String("url", url))
				writeError(w, http.StatusForbidden, "invalid_signature", "Forbidden", "signature verification failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TwilioSignatureFor computes the signature Twilio sends for url and params.
func TwilioSignatureFor(authToken, url string, params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// MessengerSignature verifies X-Hub-Signature-256 ("sha256=" + hex HMAC of
// the raw body) on POST requests. The body is restored for the handler.
func MessengerSignature(appSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", err.Error())
				return
			}

			sig, ok := strings.CutPrefix(r.Header.Get("X-Hub-Signature-256"), "sha256=")
			if appSecret == "" || !ok || !hmac.Equal([]byte(sig), []byte(MessengerSignatureFor(appSecret, body))) {
				logger.Warn("rejected webhook with bad messenger signature")
				writeError(w, http.StatusForbidden, "invalid_signature", "Forbidden", "signature verification failed")
				return
			}

			r.Body = io.NopCloser(strings.NewReader(string(body)))
			next.ServeHTTP(w, r)
		})
	}
}

// MessengerSignatureFor computes the hex HMAC-SHA256 of body.
func MessengerSignatureFor(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
