package circuitbreaker

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := New("routing", Config{
		Enabled:        true,
		Threshold:      3,
		WindowDuration: time.Minute,
		ResetTimeout:   30 * time.Second,
	}, &logger.EmptyLogger{})
	cb.now = clock.now
	return cb
}

func TestTripsAtThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
	assert.True(t, cb.GetState().Open)
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	clock.advance(2 * time.Minute)
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, 1, cb.GetState().FailureCount)
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.IsOpen())

	clock.advance(31 * time.Second)
	assert.False(t, cb.IsOpen())
	assert.Equal(t, "half-open", cb.GetState().Phase)
}

func TestFailedTrialCallReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.advance(31 * time.Second)
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
	assert.Equal(t, float64(Open), testutil.ToFloat64(metrics.CircuitState.WithLabelValues("routing")))
}

func TestSuccessfulTrialCallCloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.advance(31 * time.Second)
	cb.RecordSuccess()

	st := cb.GetState()
	assert.Equal(t, "closed", st.Phase)
	assert.Equal(t, 0, st.FailureCount)
	assert.False(t, cb.RecordFailure())
}

func TestSuccessClearsStreakAndManualReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.GetState().FailureCount)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	assert.False(t, cb.IsOpen())
}

func TestDisabledNeverOpens(t *testing.T) {
	cb := New("routing", Config{Enabled: false, Threshold: 1}, &logger.EmptyLogger{})
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}

func TestHalfOpenAdmitsOneTrialCall(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.advance(31 * time.Second)

	assert.False(t, cb.IsOpen(), "first caller gets the trial call")
	assert.True(t, cb.IsOpen(), "second caller waits for the trial call")
	assert.True(t, cb.IsOpen())

	// a trial call that never reports back frees the slot after a reset timeout
	clock.advance(31 * time.Second)
	assert.False(t, cb.IsOpen())
	assert.True(t, cb.IsOpen())

	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsOpen())
}
