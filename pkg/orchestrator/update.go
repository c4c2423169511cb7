package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/events"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
)

const publishTimeout = 5 * time.Second

var statusRank = map[models.Status]int{
	models.StatusCreated:   0,
	models.StatusQuoted:    1,
	models.StatusExecuting: 2,
	models.StatusSettling:  3,
}

// advance moves r to status `to` unless that would leave a terminal status or
// step backwards. It reports whether the status changed.
func advance(r *models.IntentRecord, to models.Status) bool {
	if r.Status.Terminal() || r.Status == to {
		return false
	}
	if !to.Terminal() && statusRank[to] < statusRank[r.Status] {
		return false
	}
	r.Status = to
	return true
}

// mutation edits a record in place and reports whether it should be written.
type mutation func(r *models.IntentRecord, now time.Time) bool

// update applies mutate to the stored record under the intent's lock, retrying
// on version conflicts. Terminal records are handed to mutate only when
// allowTerminal is set; otherwise they are returned unchanged.
func (o *Orchestrator) update(ctx context.Context, id string, allowTerminal bool, mutate mutation) (*models.IntentRecord, bool, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt <= o.cfg.CASRetries; attempt++ {
		rec, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if rec.Status.Terminal() && !allowTerminal {
			return rec, false, nil
		}

		from, expected := rec.Status, rec.Version
		now := o.now()
		if !mutate(rec, now) {
			return rec, false, nil
		}
		rec.UpdatedAt = now.UnixMilli()

		err = o.store.CompareAndSwap(ctx, expected, rec)
		if err == nil {
			o.committed(ctx, from, rec, now)
			return rec, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, fmt.Errorf("failed to update intent %s: %w", id, err)
		}
		metrics.StoreConflicts.WithLabelValues("retried").Inc()
		o.logger.Debug("Version conflict on intent %s (attempt %d)", id, attempt+1)
	}

	metrics.StoreConflicts.WithLabelValues("exhausted").Inc()
	return nil, false, ErrConflictsExhausted
}

// committed records metrics and publishes the transition of a written record.
func (o *Orchestrator) committed(ctx context.Context, from models.Status, rec *models.IntentRecord, now time.Time) {
	if from == rec.Status {
		return
	}
	metrics.StateTransitions.WithLabelValues(string(from), string(rec.Status)).Inc()
	if rec.Status.Terminal() {
		elapsed := time.Duration(now.UnixMilli()-rec.CreatedAt) * time.Millisecond
		metrics.IntentLifecycleTime.WithLabelValues(string(rec.Status)).Observe(elapsed.Seconds())
	}

	t := events.Transition{
		IntentID:  rec.Intent.ID,
		From:      from,
		To:        rec.Status,
		Timestamp: now.UnixMilli(),
	}
	for _, r := range rec.ReasonCodes {
		t.Reasons = append(t.Reasons, r.Code)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, t); err != nil {
		metrics.PublishErrors.Inc()
		o.logger.Error("Failed to publish transition %s -> %s for intent %s: %v", from, rec.Status, rec.Intent.ID, err)
	}
}

// abortOnConflict gives up on an intent whose record could not be updated.
func (o *Orchestrator) abortOnConflict(ctx context.Context, id, stage string) {
	entry := fmt.Sprintf("store conflict: gave up applying %s after %d attempts", stage, o.cfg.CASRetries+1)
	_, _, err := o.update(context.WithoutCancel(ctx), id, false, func(r *models.IntentRecord, now time.Time) bool {
		advance(r, models.StatusAborted)
		r.AppendStep("Aborted After Store Conflict", models.StepFailed, now, map[string]string{"stage": stage})
		r.AppendReason(models.ReasonStoreConflict, "orchestrator", now)
		r.OperatorLog = append(r.OperatorLog, entry)
		return true
	})
	if err != nil {
		o.logger.Error("Intent %s could not be aborted after a store conflict in %s: %v", id, stage, err)
		return
	}
	o.logger.Error("Intent %s aborted: %s", id, entry)
}
