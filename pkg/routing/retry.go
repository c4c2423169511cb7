package routing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/lificlient"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// RetryPolicy bounds executeWithRetry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is used when a Config leaves the policy zero.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
}

// Backoff returns the delay before retry number n (zero based): InitialDelay
// doubled n times, capped at MaxDelay.
func (r RetryPolicy) Backoff(n int) time.Duration {
	delay := r.InitialDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// ClassifyError decides whether a backend error is worth retrying and which
// reason code it maps to once retries are exhausted.
func ClassifyError(err error) (bool, models.ReasonCode) {
	if errors.Is(err, lificlient.ErrEmptyResponse) {
		return false, models.ReasonEmptyResponse
	}

	var httpErr *lificlient.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusBadRequest || httpErr.StatusCode == http.StatusUnprocessableEntity:
			return false, models.ReasonBadRequest
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return true, models.ReasonRateLimited
		case httpErr.StatusCode >= 500:
			return true, models.ReasonServerError
		default:
			return false, models.ReasonUnavailable
		}
	}

	if errors.Is(err, context.Canceled) {
		return false, models.ReasonUnavailable
	}

	// connection failures and per-call timeouts
	return true, models.ReasonUnavailable
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// executeWithRetry runs call up to MaxRetries+1 times. Each attempt is bounded
// by the provider's per-call timeout. Cancelling ctx stops retrying early.
func executeWithRetry[T any](ctx context.Context, p *Provider, stage string, call func(context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retry.Backoff(attempt - 1)
			metrics.BackendRetries.WithLabelValues(stage).Inc()
			p.logger.Debug("Retrying %s call in %v (attempt %d/%d): %v", stage, delay, attempt+1, p.retry.MaxRetries+1, lastErr)
			if err := p.sleep(ctx, delay); err != nil {
				return zero, attempts, lastErr
			}
		}

		attempts++
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		start := time.Now()
		value, err := call(callCtx)
		metrics.BackendLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		cancel()

		if err == nil {
			return value, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempts, err
		}
		if retryable, _ := ClassifyError(err); !retryable {
			return zero, attempts, err
		}
	}
	return zero, attempts, lastErr
}
