package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
)

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer o.workers.Done()
	o.logger.Info("Expiry sweep started (interval %v)", o.cfg.SweepInterval)
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Expiry sweep shutting down")
			return
		case <-ticker.C:
			if _, err := o.SweepExpired(ctx); err != nil {
				o.logger.Error("Expiry sweep failed: %v", err)
			}
		}
	}
}

// SweepExpired moves every open intent past its deadline to EXPIRED and
// returns how many it closed.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	open, err := o.store.List(ctx, store.ListOptions{Statuses: []models.Status{
		models.StatusCreated, models.StatusQuoted, models.StatusExecuting, models.StatusSettling,
	}})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, rec := range open {
		if !rec.Intent.Expired(o.now()) {
			continue
		}
		_, applied, err := o.update(ctx, rec.Intent.ID, false, func(r *models.IntentRecord, now time.Time) bool {
			if !r.Intent.Expired(now) {
				return false
			}
			advance(r, models.StatusExpired)
			r.AppendStep("Intent Expired", models.StepFailed, now, map[string]string{
				"deadline": strconv.FormatInt(r.Intent.Deadline, 10),
			})
			r.AppendReason(models.ReasonIntentExpired, "expiry-sweep", now)
			return true
		})
		if err != nil {
			o.logger.Error("Failed to expire intent %s: %v", rec.Intent.ID, err)
			continue
		}
		if applied {
			expired++
			o.cancelDriver(rec.Intent.ID)
			o.logger.Notice("Intent %s expired", rec.Intent.ID)
		}
	}
	return expired, nil
}
