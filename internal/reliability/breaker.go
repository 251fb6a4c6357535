package reliability

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the breaker is open and rejecting calls
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrPaymentServiceUnavailable is returned when no payment call can be made at all
	ErrPaymentServiceUnavailable = errors.New("payment service unavailable")
)

// BreakerState represents the current state of a circuit breaker
type BreakerState string

const (
	// BreakerClosed indicates normal operation, calls pass through
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen indicates calls are rejected until the timeout elapses
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen indicates probe calls are allowed to test recovery
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// StateChangeHandler observes breaker transitions. It is invoked outside the
// breaker's lock and must not be assumed to run synchronously with the call
// that caused the transition.
type StateChangeHandler func(dependency string, from, to BreakerState)

// BreakerConfig holds the thresholds for a circuit breaker
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that closes it
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// Excluded reports errors that must not count as failures (caller input errors)
	Excluded func(error) bool
}

// DefaultBreakerConfig returns the default breaker thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// BreakerStatus is a point-in-time snapshot of a breaker for monitoring
type BreakerStatus struct {
	Dependency      string       `json:"dependency"`
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime time.Time    `json:"last_failure_time,omitempty"`
}

// CircuitBreaker guards calls to one named remote dependency.
// All counter reads and writes are serialized through a single mutex; the
// wrapped remote call itself runs with no lock held. The OPEN -> HALF_OPEN
// transition is a lazy timeout check evaluated on access, there is no
// background timer.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	onStateChange StateChangeHandler
	now           func() time.Time // for testing
}

func NewCircuitBreaker(name string, cfg BreakerConfig, onStateChange StateChangeHandler) *CircuitBreaker {
	return &CircuitBreaker{
		name:          name,
		cfg:           cfg,
		state:         BreakerClosed,
		onStateChange: onStateChange,
		now:           time.Now,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsAvailable reports whether a call may pass through right now.
// When the circuit is open and the timeout since the last failure has
// elapsed, this check itself moves the breaker to half-open.
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mu.Lock()

	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.Timeout {
		cb.state = BreakerHalfOpen
		cb.successCount = 0
		cb.mu.Unlock()
		cb.notify(BreakerOpen, BreakerHalfOpen)
		return true
	}

	available := cb.state != BreakerOpen
	cb.mu.Unlock()
	return available
}

// RecordSuccess registers a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.mu.Unlock()
			cb.notify(BreakerHalfOpen, BreakerClosed)
			return
		}
	}

	cb.mu.Unlock()
}

// RecordFailure registers a failed call. Excluded errors never move the breaker.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if cb.cfg.Excluded != nil && cb.cfg.Excluded(err) {
		return
	}

	cb.mu.Lock()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.state = BreakerOpen
			cb.lastFailureTime = cb.now()
			cb.mu.Unlock()
			cb.notify(BreakerClosed, BreakerOpen)
			return
		}
	case BreakerHalfOpen:
		// A single failure while probing reopens immediately
		cb.state = BreakerOpen
		cb.lastFailureTime = cb.now()
		cb.mu.Unlock()
		cb.notify(BreakerHalfOpen, BreakerOpen)
		return
	case BreakerOpen:
		cb.lastFailureTime = cb.now()
	}

	cb.mu.Unlock()
}

// ExecuteGuarded runs fn with breaker protection. The original error from fn
// is returned to the caller after bookkeeping; a rejected call returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) ExecuteGuarded(fn func() error) error {
	if !cb.IsAvailable() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.RecordFailure(err)
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Status returns a snapshot of the breaker state
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStatus{
		Dependency:      cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

func (cb *CircuitBreaker) notify(from, to BreakerState) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Registry holds one breaker per named dependency. Breakers are created
// lazily on first use and live for the process lifetime. The registry is an
// explicit object constructed at startup and passed to call sites, never
// package-global state.
type Registry struct {
	mu            sync.Mutex
	breakers      map[string]*CircuitBreaker
	cfg           BreakerConfig
	onStateChange StateChangeHandler
}

func NewRegistry(cfg BreakerConfig, onStateChange StateChangeHandler) *Registry {
	return &Registry{
		breakers:      make(map[string]*CircuitBreaker),
		cfg:           cfg,
		onStateChange: onStateChange,
	}
}

// Get returns the breaker for a dependency name, creating it on first use
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := NewCircuitBreaker(name, r.cfg, r.onStateChange)
	r.breakers[name] = cb
	return cb
}

// Status returns a snapshot of every registered breaker keyed by dependency name
func (r *Registry) Status() map[string]BreakerStatus {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	statuses := make(map[string]BreakerStatus, len(breakers))
	for _, cb := range breakers {
		statuses[cb.Name()] = cb.Status()
	}
	return statuses
}
