package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIdle builds an orchestrator that is never started, so only
// notifications touch the stored records.
func newIdle(t *testing.T) (*Orchestrator, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(testConfig(), st, newScriptedRouter(liveStatus("DONE")), &logger.EmptyLogger{}), st
}

func putIntent(t *testing.T, st store.Store) string {
	t.Helper()
	intent := testIntent()
	require.NoError(t, st.Put(context.Background(), models.NewIntentRecord(intent, time.Now())))
	return intent.ID
}

func TestNotificationEventTable(t *testing.T) {
	tests := []struct {
		event    string
		want     models.Status
		step     string
		stepStat string
	}{
		{"quote_accepted", models.StatusQuoted, "Quote Accepted", models.StepCompleted},
		{"route_selected", models.StatusExecuting, "Route Selected", models.StepCompleted},
		{"execution_started", models.StatusExecuting, "Execution Started", models.StepCompleted},
		{"settlement_submitted", models.StatusSettling, "Settlement Submitted", models.StepPending},
		{"SETTLEMENT_FINALIZED", models.StatusSettled, "Settlement Finalized", models.StepCompleted},
		{"execution_failed", models.StatusAborted, "Execution Failed", models.StepFailed},
		{"intent_expired", models.StatusExpired, "Intent Expired", models.StepFailed},
		{"bridge_delayed", models.StatusCreated, "Provider Update (bridge_delayed)", models.StepInfo},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			o, st := newIdle(t)
			id := putIntent(t, st)

			rec, err := o.Notify(context.Background(), Notification{IntentID: id, Event: tt.event, Provider: "lifi"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Status)

			last := rec.ExecutionSteps[len(rec.ExecutionSteps)-1]
			assert.Equal(t, tt.step, last.Step)
			assert.Equal(t, tt.stepStat, last.Status)
			assert.Equal(t, "lifi", last.Details["provider"])
		})
	}
}

func TestNotificationStatusFieldActsAsEvent(t *testing.T) {
	o, st := newIdle(t)
	id := putIntent(t, st)

	rec, err := o.Notify(context.Background(), Notification{IntentID: id, Status: "quote_accepted"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQuoted, rec.Status)
}

func TestNotificationsNeverRegressTerminal(t *testing.T) {
	o, st := newIdle(t)
	id := putIntent(t, st)
	ctx := context.Background()

	_, err := o.Notify(ctx, Notification{IntentID: id, Event: "settlement_finalized", SettlementTx: "0xfinal"})
	require.NoError(t, err)

	for _, event := range []string{"execution_failed", "quote_accepted", "intent_expired", "settlement_submitted"} {
		rec, err := o.Notify(ctx, Notification{IntentID: id, Event: event, SettlementTx: "0xother", ReasonCode: "LATE"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, rec.Status, event)
		assert.Equal(t, "0xfinal", rec.SettlementTx)

		last := rec.ExecutionSteps[len(rec.ExecutionSteps)-1]
		assert.Equal(t, models.StepInfo, last.Status)
		assert.Equal(t, "intent already SETTLED", last.Details["ignored"])
	}

	rec, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.ExecutionSteps, 6)
	assert.Len(t, rec.ReasonCodes, 4)
}

func TestNotificationsOnlyMoveForward(t *testing.T) {
	o, st := newIdle(t)
	id := putIntent(t, st)
	ctx := context.Background()

	_, err := o.Notify(ctx, Notification{IntentID: id, Event: "settlement_submitted"})
	require.NoError(t, err)
	rec, err := o.Notify(ctx, Notification{IntentID: id, Event: "quote_accepted"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSettling, rec.Status)
	assert.Equal(t, "Quote Accepted", rec.ExecutionSteps[len(rec.ExecutionSteps)-1].Step)
}

func TestNotificationAuditFields(t *testing.T) {
	o, st := newIdle(t)
	id := putIntent(t, st)

	ts := time.Now().Add(-time.Minute).UnixMilli()
	rec, err := o.Notify(context.Background(), Notification{
		IntentID:     id,
		Event:        "settlement_submitted",
		Timestamp:    ts,
		ReasonCode:   "SLOW_BRIDGE",
		OperatorLog:  "bridge congested",
		SettlementTx: "0xabc",
		Provider:     "lifi",
		Channel:      "ops",
		Details:      map[string]interface{}{"confirmations": 3},
	})
	require.NoError(t, err)

	last := rec.ExecutionSteps[len(rec.ExecutionSteps)-1]
	assert.Equal(t, ts, last.Timestamp)
	assert.Equal(t, "3", last.Details["confirmations"])
	assert.Equal(t, "ops", last.Details["channel"])
	assert.Equal(t, "SLOW_BRIDGE", last.Details["providerReasonCode"])
	assert.Empty(t, rec.ReasonCodes)
	assert.Equal(t, []string{"bridge congested"}, rec.OperatorLog)
	assert.Equal(t, "0xabc", rec.SettlementTx)
}

func TestNotificationReasonCodeMustBeKnown(t *testing.T) {
	o, st := newIdle(t)
	id := putIntent(t, st)

	rec, err := o.Notify(context.Background(), Notification{
		IntentID:   id,
		Event:      "intent_expired",
		ReasonCode: " intent_expired ",
		Provider:   "lifi",
	})
	require.NoError(t, err)

	require.Len(t, rec.ReasonCodes, 1)
	assert.Equal(t, models.ReasonIntentExpired, rec.ReasonCodes[0].Code)
	assert.Equal(t, "provider:lifi", rec.ReasonCodes[0].Source)
	last := rec.ExecutionSteps[len(rec.ExecutionSteps)-1]
	assert.NotContains(t, last.Details, "providerReasonCode")

	rec, err = o.Notify(context.Background(), Notification{
		IntentID:   id,
		Event:      "bridge_delay",
		ReasonCode: "DROP TABLE",
	})
	require.NoError(t, err)
	assert.Len(t, rec.ReasonCodes, 1)
	last = rec.ExecutionSteps[len(rec.ExecutionSteps)-1]
	assert.Equal(t, "Provider Update (bridge_delay)", last.Step)
	assert.Equal(t, "DROP TABLE", last.Details["providerReasonCode"])
}

func TestNotifyUnknownIntentHasNoSideEffect(t *testing.T) {
	o, st := newIdle(t)
	id := putIntent(t, st)
	before, err := st.Get(context.Background(), id)
	require.NoError(t, err)

	_, err = o.Notify(context.Background(), Notification{IntentID: uuid.NewString(), Event: "settlement_finalized"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := st.List(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, before, all[0])
}

func TestNotificationClosesRunningDriver(t *testing.T) {
	router := newScriptedRouter(liveStatus("DONE"))
	router.started = make(chan struct{})
	h := startHarness(t, testConfig(), nil, router)

	intent := testIntent()
	_, err := h.orch.Submit(context.Background(), intent)
	require.NoError(t, err)
	<-router.started

	_, err = h.orch.Notify(context.Background(), Notification{IntentID: intent.ID, Event: "execution_failed"})
	require.NoError(t, err)
	h.orch.Wait()

	rec, err := h.store.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, rec.Status)
	assert.Equal(t, []string{"Intent Created", "Execution Failed"}, stepNames(rec))
	assert.Empty(t, router.statusCalls())
}
