package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
)

// Config holds circuit breaker settings
type Config struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// Phase is where a breaker sits in the closed -> open -> half-open cycle.
type Phase int

const (
	Closed Phase = iota
	HalfOpen
	Open
)

func (p Phase) String() string {
	switch p {
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	}
	return "closed"
}

// State is a point-in-time view of a breaker
type State struct {
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	Phase         string        `json:"phase"`
	Open          bool          `json:"open"`
	FailureCount  int           `json:"failureCount"`
	FailThreshold int           `json:"failThreshold"`
	FailureWindow time.Duration `json:"failureWindow"`
	LastFailure   time.Time     `json:"lastFailure"`
	TripTime      time.Time     `json:"tripTime"`
}

// CircuitBreaker guards one backend. Failures are counted over a sliding
// window; once the threshold is reached calls are refused until the reset
// timeout passes, after which a single trial call decides whether to close again.
type CircuitBreaker struct {
	name       string
	cfg        Config
	phase      Phase
	failures   []time.Time
	tripTime   time.Time
	// set while the single half-open trial call is out
	trialStart time.Time
	now        func() time.Time
	logger     logger.Logger
	mu         sync.Mutex
}

// New creates a named circuit breaker
func New(name string, cfg Config, logger logger.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	metrics.CircuitState.WithLabelValues(name).Set(float64(Closed))
	return cb
}

func (cb *CircuitBreaker) setPhase(p Phase) {
	if cb.phase == p {
		return
	}
	cb.phase = p
	metrics.CircuitState.WithLabelValues(cb.name).Set(float64(p))
}

// prune drops failures that fell out of the window. Caller holds mu.
func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.cfg.WindowDuration)
	keep := cb.failures[:0]
	for _, f := range cb.failures {
		if f.After(cutoff) {
			keep = append(keep, f)
		}
	}
	cb.failures = keep
}

// refresh moves an open breaker to half-open once the reset timeout has elapsed.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.phase == Open && now.Sub(cb.tripTime) > cb.cfg.ResetTimeout {
		cb.setPhase(HalfOpen)
		cb.logger.Info("Circuit breaker %s half-open, letting a trial call through", cb.name)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.trialStart = time.Time{}
	cb.setPhase(Open)
	cb.tripTime = now
	cb.logger.Notice("Circuit breaker %s tripped: %d failures in %s", cb.name, len(cb.failures), cb.cfg.WindowDuration)
}

// RecordFailure records a failure and reports whether the circuit is now open.
// A failed trial call while half-open reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)

	switch cb.phase {
	case Open:
		return true
	case HalfOpen:
		cb.failures = append(cb.failures, now)
		cb.trip(now)
		return true
	}

	cb.prune(now)
	cb.failures = append(cb.failures, now)
	if len(cb.failures) >= cb.cfg.Threshold {
		cb.trip(now)
		return true
	}
	return false
}

// RecordSuccess clears the failure history and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(cb.now())
	if cb.phase == Open {
		return
	}
	if cb.phase == HalfOpen {
		cb.logger.Info("Circuit breaker %s closed after a successful trial call", cb.name)
	}
	cb.trialStart = time.Time{}
	cb.failures = cb.failures[:0]
	cb.setPhase(Closed)
}

// IsOpen reports whether calls should be refused right now. While half-open
// only the first caller gets through; the others are refused until that trial
// is recorded, or until it has been out for a whole reset timeout.
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)
	switch cb.phase {
	case Open:
		return true
	case HalfOpen:
		if !cb.trialStart.IsZero() && now.Sub(cb.trialStart) <= cb.cfg.ResetTimeout {
			return true
		}
		cb.trialStart = now
	}
	return false
}

// Reset manually closes the circuit and forgets past failures
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = cb.failures[:0]
	cb.trialStart = time.Time{}
	cb.setPhase(Closed)
	cb.logger.Info("Circuit breaker %s reset", cb.name)
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)
	if cb.phase == Closed {
		cb.prune(now)
	}
	st := State{
		Name:          cb.name,
		Enabled:       cb.cfg.Enabled,
		Phase:         cb.phase.String(),
		Open:          cb.phase == Open,
		FailureCount:  len(cb.failures),
		FailThreshold: cb.cfg.Threshold,
		FailureWindow: cb.cfg.WindowDuration,
		TripTime:      cb.tripTime,
	}
	if n := len(cb.failures); n > 0 {
		st.LastFailure = cb.failures[n-1]
	}
	return st
}
