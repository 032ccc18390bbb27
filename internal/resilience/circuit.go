package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// The pipeline pulls from a handful of shared provider hosts (the EIA
// API, the NOAA access endpoint, the Enbridge EBB pair). When one of
// them goes down mid-run, every adapter touching it would otherwise burn
// a full retry schedule per request. A per-host breaker fails those
// calls fast after a streak of errors and lets a single probe through
// once the cooldown has passed.

// CircuitState is the observable position of a breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without invoking the wrapped call.
var ErrCircuitOpen = eris.New("circuit open")

// CircuitBreakerConfig tunes a breaker. Zero values get defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold is the failure streak that opens the circuit.
	// Default 5.
	FailureThreshold int

	// ResetTimeout is the cooldown before a probe is allowed through an
	// open circuit. Default 30s.
	ResetTimeout time.Duration

	// ShouldTrip filters which errors count toward the streak. Nil
	// counts every non-nil error.
	ShouldTrip func(err error) bool
}

// CircuitBreaker guards calls to one provider host. Its state is derived
// rather than stored: closed while openedAt is zero, open during the
// cooldown after a tripping streak, half-open once the cooldown expires.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu       sync.Mutex
	streak   int
	openedAt time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a breaker for the named provider host.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.allow(); err != nil {
		var zero T
		return zero, err
	}
	v, err := fn(ctx)
	cb.record(err)
	return v, err
}

// State reports the breaker's current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state()
}

// Counters exposes the failure streak and state for run summaries.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.streak, cb.state()
}

func (cb *CircuitBreaker) state() CircuitState {
	if cb.openedAt.IsZero() {
		return CircuitClosed
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
		return CircuitOpen
	}
	return CircuitHalfOpen
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state() == CircuitOpen {
		return eris.Wrap(ErrCircuitOpen, cb.name)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	trips := err != nil
	if trips && cb.cfg.ShouldTrip != nil {
		trips = cb.cfg.ShouldTrip(err)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	was := cb.state()
	if !trips {
		if was != CircuitClosed {
			zap.L().Info("provider circuit closed", zap.String("host", cb.name))
		}
		cb.streak = 0
		cb.openedAt = time.Time{}
		return
	}

	cb.streak++
	switch was {
	case CircuitClosed:
		if cb.streak >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			zap.L().Warn("provider circuit opened",
				zap.String("host", cb.name),
				zap.Int("consecutive_failures", cb.streak),
			)
		}
	case CircuitHalfOpen:
		// The probe failed; restart the cooldown.
		cb.openedAt = cb.now()
		zap.L().Warn("provider circuit reopened", zap.String("host", cb.name))
	}
}

// ProviderBreakers hands out one breaker per provider host, lazily.
type ProviderBreakers struct {
	cfg CircuitBreakerConfig

	mu     sync.Mutex
	byHost map[string]*CircuitBreaker
}

// NewProviderBreakers creates an empty per-host breaker registry.
func NewProviderBreakers(cfg CircuitBreakerConfig) *ProviderBreakers {
	return &ProviderBreakers{cfg: cfg, byHost: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for host, creating it on first use.
func (pb *ProviderBreakers) Get(host string) *CircuitBreaker {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	cb, ok := pb.byHost[host]
	if !ok {
		cb = NewCircuitBreaker(host, pb.cfg)
		pb.byHost[host] = cb
	}
	return cb
}

// States snapshots the circuit position of every host seen so far.
func (pb *ProviderBreakers) States() map[string]CircuitState {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	out := make(map[string]CircuitState, len(pb.byHost))
	for host, cb := range pb.byHost {
		out[host] = cb.State()
	}
	return out
}
