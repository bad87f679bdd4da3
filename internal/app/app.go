// Package app assembles the reminder engine from configuration. The gateway
// and the operator CLI share it so both see the same store and catalog.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/api"
	"github.com/lalithlochan/medreminder/internal/circuitbreaker"
	"github.com/lalithlochan/medreminder/internal/config"
	"github.com/lalithlochan/medreminder/internal/confirm"
	"github.com/lalithlochan/medreminder/internal/db"
	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/notify"
	"github.com/lalithlochan/medreminder/internal/redis"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/schedule"
	"github.com/lalithlochan/medreminder/internal/sqs"
	"github.com/lalithlochan/medreminder/internal/store"
	"github.com/lalithlochan/medreminder/internal/trigger"
)

// App holds every wired component.
type App struct {
	Catalog   *medication.Catalog
	Store     store.Store
	Overrides store.OverrideStore
	Resolver  *schedule.Resolver
	Confirm   *confirm.Resolver
	Runner    *trigger.Runner
	Breakers  []*circuitbreaker.CircuitBreaker

	cfg       *config.Config
	logger    *zap.Logger
	redis     *redis.Client
	database  *db.DB
	scheduler *trigger.LocalScheduler
	messenger notify.Sender
}

// New loads the catalog, connects the configured backends and wires the
// lifecycle components. Optional integrations that fail to initialize are
// logged and left out; the store and catalog are required.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	catalog, err := medication.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.Info("medication catalog loaded",
		zap.String("path", cfg.CatalogPath),
		zap.Int("medications", len(catalog.Medications)),
		zap.String("anchor_date", catalog.AnchorDate.String()),
	)

	a := &App{Catalog: catalog, cfg: cfg, logger: logger}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.Overrides = a.Store
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("postgres unavailable, overrides kept in the pending store", zap.Error(err))
		} else {
			a.database = database
			a.Overrides = db.NewOverrideRepository(database, logger)
		}
	}

	cache := schedule.NewOverrideCache(a.Overrides, cfg.OverrideCacheTTL, time.Now)
	a.Resolver = schedule.NewResolver(catalog, cfg.Location, cache, logger)

	var events sqs.Publisher = sqs.Nop{}
	if cfg.SQSEventsQueueURL != "" {
		producer, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSEventsQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, lifecycle events will not be published", zap.Error(err))
		} else {
			events = producer
		}
	}

	a.Confirm = confirm.NewResolver(a.Store, catalog, cfg.Location, logger, time.Now)
	a.Confirm.SetEvents(events)

	dispatcher, err := a.buildDispatcher(ctx)
	if err != nil {
		return nil, err
	}

	a.Runner = trigger.NewRunner(
		a.Resolver,
		reminder.NewGenerator(a.Resolver, logger),
		a.Store,
		dispatcher,
		events,
		trigger.Config{
			ResendThreshold: cfg.ResendThreshold,
			MaxResends:      cfg.MaxResends,
		},
		logger,
		time.Now,
	)

	if cfg.LocalCron != "" {
		a.scheduler, err = trigger.NewLocalScheduler(cfg.LocalCron, cfg.Location, a.Runner, logger)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.StoreBackend != config.BackendRedis {
		a.Store = store.NewMemoryStore(a.logger, time.Now)
		return nil
	}

	client, err := redis.New(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	a.Store = redis.NewStore(client, a.logger, time.Now)
	return nil
}

// protect wraps a provider sender in a per-channel circuit breaker.
func (a *App) protect(name string, s notify.Sender) notify.Sender {
	cb := circuitbreaker.New(circuitbreaker.Config{
		Name:            name,
		MaxFailures:     5,
		RecoveryTimeout: time.Minute,
	}, a.logger)
	a.Breakers = append(a.Breakers, cb)
	return circuitbreaker.NewProtectedSender(s, cb, a.logger)
}

func (a *App) buildDispatcher(ctx context.Context) (*notify.Dispatcher, error) {
	cfg := a.cfg

	recipients, err := notify.ParseRecipients(cfg.Recipients)
	if err != nil {
		return nil, fmt.Errorf("invalid RECIPIENTS: %w", err)
	}

	wanted := map[notify.Channel]bool{}
	for _, r := range recipients {
		wanted[r.Channel] = true
	}

	var senders []notify.Sender
	configured := map[notify.Channel]bool{}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioWhatsAppFrom != "" {
		senders = append(senders, a.protect("whatsapp", notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioWhatsAppFrom,
		}, a.logger)))
		configured[notify.ChannelWhatsApp] = true
	}

	if cfg.MessengerPageToken != "" {
		a.messenger = a.protect("messenger", notify.NewMessengerSender(notify.MessengerConfig{
			PageToken: cfg.MessengerPageToken,
		}, a.logger))
		senders = append(senders, a.messenger)
		configured[notify.ChannelMessenger] = true
	}

	if wanted[notify.ChannelEmail] && cfg.SESFromEmail != "" {
		ses, err := notify.NewSESSender(ctx, notify.SESConfig{Region: cfg.AWSRegion, FromEmail: cfg.SESFromEmail}, a.logger)
		if err != nil {
			a.logger.Warn("SES sender unavailable, email reminders disabled", zap.Error(err))
		} else {
			senders = append(senders, a.protect("email", ses))
			configured[notify.ChannelEmail] = true
		}
	}

	if wanted[notify.ChannelSMS] && cfg.SNSRegion != "" {
		sns, err := notify.NewSNSSender(ctx, notify.SNSConfig{Region: cfg.SNSRegion}, a.logger)
		if err != nil {
			a.logger.Warn("SNS sender unavailable, SMS reminders disabled", zap.Error(err))
		} else {
			senders = append(senders, a.protect("sms", sns))
			configured[notify.ChannelSMS] = true
		}
	}

	var subs notify.SubscriptionSource
	if cfg.WebPushEnabled() {
		senders = append(senders, a.protect("webpush", notify.NewWebPushSender(notify.VAPIDConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, a.Store, a.logger)))
		configured[notify.ChannelWebPush] = true
		subs = a.Store
	}

	var missing []notify.Channel
	for _, r := range recipients {
		if !configured[r.Channel] {
			missing = append(missing, r.Channel)
			configured[r.Channel] = true
		}
	}
	if len(missing) > 0 {
		a.logger.Warn("no provider credentials for channels, deliveries will only be logged",
			zap.Any("channels", missing),
		)
		senders = append(senders, notify.NewLogSender(a.logger, missing...))
	}

	a.logger.Info("initialized multi-channel reminder delivery",
		zap.Int("recipients", len(recipients)),
		zap.Int("breakers", len(a.Breakers)),
		zap.Bool("webpush_enabled", subs != nil),
	)

	return notify.NewDispatcher(notify.NewMultiSender(a.logger, senders...), recipients, subs, a.logger), nil
}

// Router builds the HTTP surface over the wired components.
func (a *App) Router() http.Handler {
	handler := api.NewHandler(api.Deps{
		Pending:        a.Store,
		Overrides:      a.Overrides,
		Subscriptions:  a.Store,
		Resolver:       a.Resolver,
		Confirm:        a.Confirm,
		Ticker:         a.Runner,
		Breakers:       a.Breakers,
		VAPIDPublicKey: a.vapidKey(),
	}, a.logger)

	webhooks := api.NewWebhookHandler(a.Confirm, a.messenger, a.cfg.MessengerVerifyToken, a.logger)

	return api.NewRouter(api.RouterConfig{
		Handler:            handler,
		Webhooks:           webhooks,
		Limiter:            a.limiter(),
		APIToken:           a.cfg.APIToken,
		CronSecret:         a.cfg.CronSecret,
		TwilioAuthToken:    a.cfg.TwilioAuthToken,
		MessengerAppSecret: a.cfg.MessengerAppSecret,
		PublicBaseURL:      a.cfg.PublicBaseURL,
	}, a.logger)
}

func (a *App) vapidKey() string {
	if !a.cfg.WebPushEnabled() {
		return ""
	}
	return a.cfg.VAPIDPublicKey
}

// limiter shares webhook budgets across instances when Redis is available.
func (a *App) limiter() api.Limiter {
	if !a.cfg.WebhookRateLimited {
		return nil
	}
	if a.redis != nil {
		return redis.NewRateLimiter(a.redis, a.logger, redis.RateLimitConfig{
			Limit:  a.cfg.WebhookRatePerMin,
			Window: time.Minute,
		})
	}
	return api.NewLocalLimiter(a.cfg.WebhookRatePerMin)
}

// Start runs the in-process scheduler when LOCAL_CRON is set.
func (a *App) Start() {
	if a.scheduler != nil {
		a.scheduler.Start()
	}
}

// Close stops the scheduler and releases backend connections.
func (a *App) Close(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop(ctx)
	}
	if a.database != nil {
		a.database.Close()
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
}
