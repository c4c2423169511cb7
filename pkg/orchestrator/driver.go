package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/settlement"
)

// Lifecycle stages
const (
	StageQuote      = "quote"
	StageRoute      = "route"
	StageSettlement = "settlement"
	StageStatus     = "status"
)

// drive runs the lifecycle of one intent. Stages run strictly in order and
// each result is applied only while the intent is still open. An intent whose
// settlement was already submitted, for instance one resumed after a restart,
// goes straight to status polling.
func (o *Orchestrator) drive(ctx context.Context, id string) {
	rec, ok := o.open(ctx, id)
	if !ok {
		return
	}
	if rec.SettlementTx != "" || rec.Status == models.StatusSettling {
		o.logger.Info("Intent %s resumes at the status stage (tx %q)", id, rec.SettlementTx)
	} else if !o.prepare(ctx, id, rec.Intent) {
		return
	}
	o.poll(ctx, id)
}

// prepare runs the quote, route and settlement stages.
func (o *Orchestrator) prepare(ctx context.Context, id string, intent models.Intent) bool {
	// quote
	quote := o.router.FetchQuote(ctx, intent)
	if !o.apply(ctx, id, StageQuote, func(r *models.IntentRecord, now time.Time) bool {
		q := quote.Value()
		r.Quote = &q
		advance(r, models.StatusQuoted)
		r.AppendStep(stepLabel("Quote Received", quote.IsFallback()), models.StepCompleted, now, payloadDetails(quote.Provider(), quote.Cause(), map[string]string{
			"routeId":   q.RouteID,
			"amountOut": q.AmountOut,
		}))
		r.RecordFallback(StageQuote, quote.Cause(), now)
		return true
	}) {
		return false
	}
	if !o.pause(ctx, o.cfg.StageDelay) {
		return false
	}

	// route
	route := o.router.FetchRoute(ctx, intent)
	if !o.apply(ctx, id, StageRoute, func(r *models.IntentRecord, now time.Time) bool {
		rt := route.Value()
		r.Route = &rt
		advance(r, models.StatusExecuting)
		r.AppendStep(stepLabel("Route Selected", route.IsFallback()), models.StepCompleted, now, payloadDetails(route.Provider(), route.Cause(), map[string]string{
			"routeId":   rt.RouteID,
			"amountOut": rt.AmountOut,
			"steps":     strconv.Itoa(len(rt.Steps)),
		}))
		r.RecordFallback(StageRoute, route.Cause(), now)
		return true
	}) {
		return false
	}
	if !o.pause(ctx, o.cfg.StageDelay) {
		return false
	}

	// settlement, only on payloads that may be executed
	if o.settler == nil {
		return true
	}
	if !quote.Executable(o.cfg.AcceptDegraded) || !route.Executable(o.cfg.AcceptDegraded) {
		o.logger.Notice("Intent %s not settled: synthetic quote or route and degraded mode is off", id)
		return true
	}
	if !o.settle(ctx, id, intent, route) {
		return false
	}
	return o.pause(ctx, o.cfg.StageDelay)
}

// poll checks the transfer status until it is final or the attempts run out.
func (o *Orchestrator) poll(ctx context.Context, id string) {
	for attempt := 1; attempt <= o.cfg.StatusPollAttempts; attempt++ {
		rec, ok := o.open(ctx, id)
		if !ok {
			return
		}
		status := o.router.FetchStatus(ctx, rec.SettlementTx)
		result := classifyStatus(status)

		if !o.apply(ctx, id, StageStatus, func(r *models.IntentRecord, now time.Time) bool {
			s := status.Value()
			advance(r, models.StatusSettling)
			r.AppendStep(stepLabel("Status Checked", status.IsFallback()), models.StepCompleted, now, payloadDetails(status.Provider(), status.Cause(), map[string]string{
				"state":   s.State,
				"txHash":  s.TxHash,
				"attempt": strconv.Itoa(attempt),
			}))
			r.RecordFallback(StageStatus, status.Cause(), now)

			switch result {
			case outcomeSuccess:
				advance(r, models.StatusSettled)
				r.AppendStep("Settlement Finalized", models.StepCompleted, now, nil)
				if s.ReceivingTx != "" {
					r.SetSettlementTx(s.ReceivingTx)
				}
			case outcomeFailure:
				advance(r, models.StatusAborted)
				r.AppendStep("Execution Failed", models.StepFailed, now, map[string]string{"state": s.State})
			case outcomeUnavailable:
				advance(r, models.StatusAborted)
				r.AppendStep("Settlement Unavailable", models.StepFailed, now, nil)
				r.AppendReason(models.ReasonSettlementUnavailable, "orchestrator", now)
			}
			return true
		}) {
			return
		}

		if result != outcomePending {
			o.logger.Info("Intent %s finished the status stage after %d checks", id, attempt)
			return
		}
		if attempt < o.cfg.StatusPollAttempts && !o.pause(ctx, o.cfg.StatusPollInterval) {
			return
		}
	}
	o.logger.Notice("Intent %s still settling after %d status checks", id, o.cfg.StatusPollAttempts)
}

// settle runs the settlement stage and reports whether the driver should go on.
// The settled amount is the output of the selected route.
func (o *Orchestrator) settle(ctx context.Context, id string, intent models.Intent, route models.RouteResult) bool {
	if _, ok := o.open(ctx, id); !ok {
		return false
	}

	rt := route.Value()
	var (
		receipt *settlement.Receipt
		err     error
	)
	venue, venueErr := o.settler.VenueFor(intent, rt.ToChainID, rt.RouteID)
	if venueErr != nil {
		err = &settlement.RejectionError{Code: models.ReasonPoolMismatch, Detail: venueErr.Error()}
	} else {
		receipt, err = o.settler.Settle(ctx, settlement.Request{
			Intent:          intent,
			Venue:           venue,
			QuotedAmountOut: rt.AmountOut,
			Caller:          o.cfg.Executor,
		})
	}
	if err == nil {
		return o.recordReceipt(ctx, id, receipt)
	}

	o.apply(ctx, id, StageSettlement, func(r *models.IntentRecord, now time.Time) bool {
		code, rejected := settlement.RejectionCode(err)
		if code == models.ReasonIntentExpired {
			advance(r, models.StatusExpired)
		} else {
			advance(r, models.StatusAborted)
		}
		if rejected {
			r.AppendStep("Settlement Rejected", models.StepFailed, now, map[string]string{"error": err.Error()})
			r.AppendReason(code, "settlement", now)
		} else {
			r.AppendStep("Settlement Failed", models.StepFailed, now, map[string]string{"error": err.Error()})
			r.AppendReason(models.ReasonSettlementUnavailable, "settlement", now)
		}
		return true
	})
	return false
}

// recordReceipt writes a committed settlement. Assets have moved at this point,
// so the receipt is recorded even when the intent was aborted or expired in
// the meantime; only the status is left alone then.
func (o *Orchestrator) recordReceipt(ctx context.Context, id string, receipt *settlement.Receipt) bool {
	rec, _, err := o.update(context.WithoutCancel(ctx), id, true, func(r *models.IntentRecord, now time.Time) bool {
		details := map[string]string{
			"txHash":    receipt.TxHash,
			"amountOut": receipt.AmountOut.String(),
		}
		if r.Status.Terminal() {
			details["after"] = string(r.Status)
			r.OperatorLog = append(r.OperatorLog, fmt.Sprintf("settlement %s committed after the intent became %s", receipt.TxHash, r.Status))
		} else {
			advance(r, models.StatusSettling)
		}
		r.SetSettlementTx(receipt.TxHash)
		r.AppendStep("Settlement Submitted", models.StepCompleted, now, details)
		return true
	})
	if err != nil {
		o.logger.Error("Intent %s settled in %s but the receipt could not be recorded: %v", id, receipt.TxHash, err)
		if errors.Is(err, ErrConflictsExhausted) {
			o.abortOnConflict(ctx, id, StageSettlement)
		}
		return false
	}
	if rec.Status.Terminal() {
		o.logger.Notice("Intent %s settled in %s after it became %s", id, receipt.TxHash, rec.Status)
		return false
	}
	return ctx.Err() == nil
}

// open returns the record while the intent is still being driven.
func (o *Orchestrator) open(ctx context.Context, id string) (*models.IntentRecord, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("Failed to load intent %s: %v", id, err)
		}
		return nil, false
	}
	return rec, !rec.Status.Terminal()
}

// apply writes a stage result and reports whether the driver should go on.
// Results arriving after the intent was cancelled or closed are discarded.
func (o *Orchestrator) apply(ctx context.Context, id, stage string, mutate mutation) bool {
	if ctx.Err() != nil {
		o.logger.Debug("Discarding %s result for cancelled intent %s", stage, id)
		return false
	}
	rec, applied, err := o.update(ctx, id, false, mutate)
	switch {
	case errors.Is(err, ErrConflictsExhausted):
		o.abortOnConflict(ctx, id, stage)
		return false
	case err != nil:
		if ctx.Err() == nil {
			o.logger.Error("Failed to apply %s result for intent %s: %v", stage, id, err)
		}
		return false
	case !applied:
		o.logger.Debug("Discarding late %s result for intent %s", stage, id)
		return false
	}
	return !rec.Status.Terminal()
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	return o.sleep(ctx, d) == nil
}

func stepLabel(label string, fallback bool) string {
	if fallback {
		return label + " (fallback)"
	}
	return label
}

func payloadDetails(provider models.Provider, cause *models.ReasonedFallback, extra map[string]string) map[string]string {
	details := map[string]string{"provider": string(provider)}
	for k, v := range extra {
		if v != "" {
			details[k] = v
		}
	}
	if cause != nil {
		details["reasonCode"] = string(cause.ReasonCode)
	}
	return details
}
