package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errRemote = errors.New("remote call failed")

func newTestBreaker(onChange StateChangeHandler) (*CircuitBreaker, *time.Time) {
	clock := time.Now()
	cb := NewCircuitBreaker("test-dep", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}, onChange)
	cb.now = func() time.Time { return clock }
	return cb, &clock
}

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(nil)

	cb.RecordFailure(errRemote)
	cb.RecordFailure(errRemote)
	assert.Equal(t, BreakerClosed, cb.Status().State)
	assert.True(t, cb.IsAvailable())

	cb.RecordFailure(errRemote)
	assert.Equal(t, BreakerOpen, cb.Status().State)
	assert.False(t, cb.IsAvailable())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(nil)

	cb.RecordFailure(errRemote)
	cb.RecordFailure(errRemote)
	cb.RecordSuccess()
	cb.RecordFailure(errRemote)
	cb.RecordFailure(errRemote)

	// Never three consecutive failures, so still closed
	assert.Equal(t, BreakerClosed, cb.Status().State)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errRemote)
	}
	assert.False(t, cb.IsAvailable())

	// Before the timeout elapses the circuit stays open
	*clock = clock.Add(29 * time.Second)
	assert.False(t, cb.IsAvailable())

	// The availability check itself moves the breaker to half-open
	*clock = clock.Add(2 * time.Second)
	assert.True(t, cb.IsAvailable())
	assert.Equal(t, BreakerHalfOpen, cb.Status().State)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errRemote)
	}
	*clock = clock.Add(31 * time.Second)
	assert.True(t, cb.IsAvailable())

	cb.RecordFailure(errRemote)
	assert.Equal(t, BreakerOpen, cb.Status().State)
	assert.False(t, cb.IsAvailable())
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errRemote)
	}
	*clock = clock.Add(31 * time.Second)
	assert.True(t, cb.IsAvailable())

	cb.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, cb.Status().State)

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.Status().State)
}

func TestCircuitBreaker_ExcludedErrorsDoNotTrip(t *testing.T) {
	errCaller := errors.New("caller error")
	cb := NewCircuitBreaker("test-dep", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		Excluded:         func(err error) bool { return errors.Is(err, errCaller) },
	}, nil)

	for i := 0; i < 10; i++ {
		cb.RecordFailure(errCaller)
	}
	assert.Equal(t, BreakerClosed, cb.Status().State)

	cb.RecordFailure(errRemote)
	cb.RecordFailure(errRemote)
	assert.Equal(t, BreakerOpen, cb.Status().State)
}

func TestCircuitBreaker_ExecuteGuarded(t *testing.T) {
	cb, _ := newTestBreaker(nil)

	calls := 0
	err := cb.ExecuteGuarded(func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Failures propagate the original error
	err = cb.ExecuteGuarded(func() error {
		calls++
		return errRemote
	})
	assert.ErrorIs(t, err, errRemote)

	// Open the circuit, then the wrapped call is never invoked
	cb.RecordFailure(errRemote)
	cb.RecordFailure(errRemote)
	err = cb.ExecuteGuarded(func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestCircuitBreaker_NotifiesStateChanges(t *testing.T) {
	type change struct {
		from, to BreakerState
	}
	var changes []change

	cb, clock := newTestBreaker(func(dependency string, from, to BreakerState) {
		assert.Equal(t, "test-dep", dependency)
		changes = append(changes, change{from, to})
	})

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errRemote)
	}
	*clock = clock.Add(31 * time.Second)
	cb.IsAvailable()
	cb.RecordSuccess()
	cb.RecordSuccess()

	assert.Equal(t, []change{
		{BreakerClosed, BreakerOpen},
		{BreakerOpen, BreakerHalfOpen},
		{BreakerHalfOpen, BreakerClosed},
	}, changes)
}

func TestRegistry_ReturnsSameBreakerPerName(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig(), nil)

	a := r.Get("payment-provider")
	b := r.Get("payment-provider")
	c := r.Get("email-provider")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	statuses := r.Status()
	assert.Len(t, statuses, 2)
	assert.Contains(t, statuses, "payment-provider")
	assert.Contains(t, statuses, "email-provider")
}
