package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// Notification is an asynchronous push from an execution provider.
type Notification struct {
	IntentID     string                 `json:"intentId"`
	Event        string                 `json:"event,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Timestamp    int64                  `json:"timestamp,omitempty"`
	ReasonCode   string                 `json:"reasonCode,omitempty"`
	OperatorLog  string                 `json:"operatorLog,omitempty"`
	SettlementTx string                 `json:"settlementTx,omitempty"`
	SessionID    string                 `json:"sessionId,omitempty"`
	Channel      string                 `json:"channel,omitempty"`
	Provider     string                 `json:"provider,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Name returns the event name, falling back to the status field.
func (n Notification) Name() string {
	if n.Event != "" {
		return strings.ToLower(strings.TrimSpace(n.Event))
	}
	return strings.ToLower(strings.TrimSpace(n.Status))
}

// effect is what a known event does to a record.
type effect struct {
	status     models.Status
	step       string
	stepStatus string
}

var notificationEffects = map[string]effect{
	"quote_accepted":       {models.StatusQuoted, "Quote Accepted", models.StepCompleted},
	"route_selected":       {models.StatusExecuting, "Route Selected", models.StepCompleted},
	"execution_started":    {models.StatusExecuting, "Execution Started", models.StepCompleted},
	"settlement_submitted": {models.StatusSettling, "Settlement Submitted", models.StepPending},
	"settlement_finalized": {models.StatusSettled, "Settlement Finalized", models.StepCompleted},
	"execution_failed":     {models.StatusAborted, "Execution Failed", models.StepFailed},
	"intent_expired":       {models.StatusExpired, "Intent Expired", models.StepFailed},
}

// KnownEvent reports whether name maps to a status change.
func KnownEvent(name string) bool {
	_, ok := notificationEffects[strings.ToLower(name)]
	return ok
}

// Notify applies a provider notification. Unknown events add a generic
// "Provider Update (<event>)" step. A reasonCode outside the known set is kept
// in the step details rather than the record's reason codes. Once an intent is terminal a notification
// only adds audit entries. An unknown intent id yields store.ErrNotFound and
// changes nothing.
func (o *Orchestrator) Notify(ctx context.Context, n Notification) (*models.IntentRecord, error) {
	name := n.Name()
	known := KnownEvent(name)
	label := name
	if !known {
		label = "other"
	}

	var closed bool
	rec, _, err := o.update(ctx, n.IntentID, true, func(r *models.IntentRecord, now time.Time) bool {
		at := now
		if n.Timestamp > 0 {
			at = time.UnixMilli(n.Timestamp)
		}
		details := notificationDetails(n)
		source := "provider"
		if n.Provider != "" {
			source = "provider:" + n.Provider
		}

		reason, knownReason := models.ParseReasonCode(n.ReasonCode)
		if n.ReasonCode != "" && !knownReason {
			details["providerReasonCode"] = n.ReasonCode
		}

		wasTerminal := r.Status.Terminal()
		eff, ok := notificationEffects[name]
		switch {
		case !ok:
			r.AppendStep(fmt.Sprintf("Provider Update (%s)", name), models.StepInfo, at, details)
		case wasTerminal:
			details["ignored"] = "intent already " + string(r.Status)
			r.AppendStep(eff.step, models.StepInfo, at, details)
		default:
			advance(r, eff.status)
			r.AppendStep(eff.step, eff.stepStatus, at, details)
		}

		if knownReason {
			r.AppendReason(reason, source, at)
		}
		if n.OperatorLog != "" {
			r.OperatorLog = append(r.OperatorLog, n.OperatorLog)
		}
		if n.SettlementTx != "" {
			r.SetSettlementTx(n.SettlementTx)
		}
		closed = !wasTerminal && r.Status.Terminal()
		return true
	})
	if err != nil {
		metrics.Notifications.WithLabelValues(label, "error").Inc()
		return nil, err
	}
	metrics.Notifications.WithLabelValues(label, "applied").Inc()

	if closed {
		o.cancelDriver(n.IntentID)
		o.logger.Info("Intent %s closed as %s by provider event %s", n.IntentID, rec.Status, name)
	}
	return rec, nil
}

func notificationDetails(n Notification) map[string]string {
	details := map[string]string{}
	if n.Provider != "" {
		details["provider"] = n.Provider
	}
	if n.Channel != "" {
		details["channel"] = n.Channel
	}
	keys := make([]string, 0, len(n.Details))
	for k := range n.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		details[k] = fmt.Sprint(n.Details[k])
	}
	return details
}
