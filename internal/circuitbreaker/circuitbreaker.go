// Package circuitbreaker keeps a reminder tick from waiting on a delivery
// provider that is already known to be down.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/metrics"
)

// State of a channel breaker.
//
//	closed    -> open       MaxFailures consecutive failures
//	open      -> half-open  first delivery after RecoveryTimeout
//	half-open -> closed     probe delivered
//	half-open -> open       probe failed, timeout restarts
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a channel's breaker is open and
// deliveries on it are being skipped.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name is the channel the breaker guards ("whatsapp", "sms", "email").
	Name string

	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the defaults used for every channel.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Counts are running totals since the breaker was created.
type Counts struct {
	Requests            int64
	Successes           int64
	Failures            int64
	Rejected            int64
	ConsecutiveFailures int
}

// CircuitBreaker tracks one delivery channel. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	counts      Counts
	openUntil   time.Time
	probes      int
	lastFailure time.Time
	changedAt   time.Time
}

// New creates a closed breaker. Zero config fields take DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	metrics.SetCircuitState(cfg.Name, int(StateClosed))
	return &CircuitBreaker{
		cfg:       cfg,
		logger:    logger,
		now:       now,
		changedAt: now(),
	}
}

// Name returns the channel the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Allow reports whether a delivery may proceed. An open breaker past its
// recovery deadline lets HalfOpenMaxRequests probes through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	if cb.state == StateOpen && !cb.now().Before(cb.openUntil) {
		cb.setState(StateHalfOpen)
		cb.logger.Info("circuit breaker allowing probe delivery", zap.String("channel", cb.cfg.Name))
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxRequests {
			cb.probes++
			return true
		}
	}
	cb.counts.Rejected++
	return false
}

// RecordSuccess records a delivered message. A successful probe closes the
// breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Successes++
	cb.counts.ConsecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed, channel recovered", zap.String("channel", cb.cfg.Name))
	}
}

// RecordFailure records a failed delivery. A failed probe reopens the
// breaker at once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	cb.lastFailure = now

	trip := cb.state == StateHalfOpen ||
		(cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.MaxFailures)
	if !trip {
		return
	}

	cb.openUntil = now.Add(cb.cfg.RecoveryTimeout)
	cb.logger.Warn("circuit breaker opened",
		zap.String("channel", cb.cfg.Name),
		zap.String("from", cb.state.String()),
		zap.Int("consecutive_failures", cb.counts.ConsecutiveFailures),
		zap.Time("retry_after", cb.openUntil),
	)
	cb.setState(StateOpen)
}

// GetState returns the stored state. An open breaker is reported open
// until a delivery probes it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the running totals.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Stats is a snapshot of a breaker for the status endpoint.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
	RetryAfter      string `json:"retry_after,omitempty"`
}

// Stats returns the breaker's current snapshot.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		FailureCount:    cb.counts.ConsecutiveFailures,
		TotalRequests:   cb.counts.Requests,
		TotalFailures:   cb.counts.Failures,
		TotalSuccesses:  cb.counts.Successes,
		TotalRejected:   cb.counts.Rejected,
		LastStateChange: cb.changedAt.Format(time.RFC3339),
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.Format(time.RFC3339)
	}
	if cb.state == StateOpen {
		s.RetryAfter = cb.openUntil.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker closed and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.ConsecutiveFailures = 0
	cb.setState(StateClosed)
	cb.logger.Info("circuit breaker manually reset", zap.String("channel", cb.cfg.Name))
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.changedAt = cb.now()
	cb.probes = 0
	metrics.SetCircuitState(cb.cfg.Name, int(s))
}
