// Package circuitbreaker fails exchange market-data reads fast while the
// exchange adapter service is unhealthy.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open") //nolint:gochecknoglobals // sentinel error

// State is the breaker state.
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
	}
	return "unknown"
}

// Breaker opens after FailureThreshold consecutive failures and lets one
// probe call through once Cooldown has elapsed.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	lastError string
}

// Config holds circuit breaker configuration.
type Config struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *zap.Logger
}

// Status holds current circuit breaker status for debugging.
type Status struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (*Breaker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("failure threshold must be positive")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}

	name := cfg.Name
	if name == "" {
		name = "exchange"
	}

	BreakerState.WithLabelValues(name).Set(float64(StateClosed))

	return &Breaker{
		name:      name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted until its outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			RejectionsTotal.WithLabelValues(b.name).Inc()
			return fmt.Errorf("%w: %s", ErrOpen, b.lastError)
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			RejectionsTotal.WithLabelValues(b.name).Inc()
			return fmt.Errorf("%w: probe in flight", ErrOpen)
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record folds the outcome of an admitted call into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("circuit-breaker-closed", zap.String("breaker", b.name))
		}
		b.failures = 0
		b.lastError = ""
		b.setState(StateClosed)
		return
	}

	b.failures++
	b.lastError = err.Error()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			TripsTotal.WithLabelValues(b.name).Inc()
			b.logger.Warn("circuit-breaker-opened",
				zap.String("breaker", b.name),
				zap.Int("consecutive-failures", b.failures),
				zap.Duration("cooldown", b.cooldown),
				zap.Error(err))
		}
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// Release returns an admitted call's slot without recording an outcome.
// State and the failure count are left as they were.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
}

// GetStatus returns current circuit breaker status for debugging and HTTP endpoints.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		LastError:           b.lastError,
	}
}

func (b *Breaker) setState(s State) {
	b.state = s
	BreakerState.WithLabelValues(b.name).Set(float64(s))
}
