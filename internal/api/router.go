package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/metrics"
)

// RouterConfig carries the secrets and collaborators the router wires in.
type RouterConfig struct {
	Handler  *Handler
	Webhooks *WebhookHandler
	// Limiter guards the public webhook routes. Nil disables limiting.
	Limiter Limiter

	// APIToken is the bearer token the dashboard sends on /v1.
	APIToken           string
	CronSecret         string
	TwilioAuthToken    string
	MessengerAppSecret string
	// PublicBaseURL is the origin Twilio signs webhook URLs against.
	PublicBaseURL string
}

// NewRouter builds the HTTP surface: dashboard API, trigger endpoints,
// chat webhooks, health and metrics.
func NewRouter(cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	h := cfg.Handler
	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.APIToken, logger))

		r.Get("/reminders/pending", h.ListPending)
		r.Delete("/reminders/pending", h.ClearPending)
		r.Post("/reminders/{id}/confirm", h.ConfirmReminder)
		r.Post("/pending/dedupe", h.DedupePending)

		r.Get("/medications", h.ListMedications)
		r.Post("/medications/{id}/confirm-early", h.ConfirmEarly)
		r.Get("/confirmations", h.ListConfirmations)

		r.Get("/overrides", h.ListOverrides)
		r.Get("/overrides/{id}", h.GetOverride)
		r.Put("/overrides/{id}", h.PutOverride)
		r.Delete("/overrides/{id}", h.DeleteOverride)

		r.Get("/push/key", h.PushKey)
		r.Post("/push/subscriptions", h.SaveSubscription)
		r.Delete("/push/subscriptions", h.DeleteSubscription)

		r.Post("/trigger", h.Tick)
		r.Get("/channels", h.ChannelStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.CronSecret, logger))
		r.Get("/cron/tick", h.Tick)
		r.Post("/cron/tick", h.Tick)
	})

	if wh := cfg.Webhooks; wh != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, "webhooks", logger, IPKeyFunc))

			r.With(TwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL, logger)).
				Post("/whatsapp", wh.WhatsApp)

			r.Group(func(r chi.Router) {
				r.Use(MessengerSignature(cfg.MessengerAppSecret, logger))
				r.Get("/messenger", wh.MessengerVerify)
				r.Post("/messenger", wh.MessengerReceive)
			})
		})
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
