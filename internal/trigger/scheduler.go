package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultLocalSpec ticks every five minutes, enough to land inside every
// 15-minute slot window at least twice.
const DefaultLocalSpec = "*/5 * * * *"

// Ticker is what the scheduler drives.
type Ticker interface {
	Tick(ctx context.Context) (Result, error)
}

// LocalScheduler calls Tick on a cron cadence inside the process, for
// single-box deployments with no external cron.
type LocalScheduler struct {
	cron    *cron.Cron
	ticker  Ticker
	timeout time.Duration
	logger  *zap.Logger
}

// NewLocalScheduler parses spec (standard five-field cron) in loc.
func NewLocalScheduler(spec string, loc *time.Location, ticker Ticker, logger *zap.Logger) (*LocalScheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &LocalScheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ticker:  ticker,
		timeout: time.Minute,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid LOCAL_CRON spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *LocalScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.ticker.Tick(ctx)
	if err != nil {
		s.logger.Error("scheduled tick failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled tick complete",
		zap.String("status", string(res.Status)),
		zap.String("slot", res.Slot),
		zap.Int("sent", res.Sent),
		zap.Int("resent", res.Resent),
	)
}

// Start begins ticking in the background.
func (s *LocalScheduler) Start() {
	s.logger.Info("local scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running tick to finish or ctx
// to end.
func (s *LocalScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("local scheduler stop timed out with a tick in flight")
	}
}
