package models

import "time"

// Status is a state of the intent lifecycle.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusQuoted    Status = "QUOTED"
	StatusExecuting Status = "EXECUTING"
	StatusSettling  Status = "SETTLING"
	StatusSettled   Status = "SETTLED"
	StatusAborted   Status = "ABORTED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further automatic transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusAborted || s == StatusExpired
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusQuoted, StatusExecuting, StatusSettling,
		StatusSettled, StatusAborted, StatusExpired:
		return true
	}
	return false
}

// Step statuses
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepPending   = "pending"
	StepInfo      = "info"
)

// ExecutionStep is one entry of the append-only step trace.
type ExecutionStep struct {
	Step      string            `json:"step"`
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// ReasonEntry records a reason code and where it came from.
type ReasonEntry struct {
	Code      ReasonCode `json:"code"`
	Timestamp int64      `json:"timestamp"`
	Source    string     `json:"source"`
}

// FallbackReason is a ReasonedFallback observed at a lifecycle stage.
type FallbackReason struct {
	Stage      string     `json:"stage"`
	ReasonCode ReasonCode `json:"reasonCode"`
	Message    string     `json:"message"`
	Timestamp  int64      `json:"timestamp"`
}

// FallbackMode aggregates every fallback seen by an intent. Enabled never resets.
type FallbackMode struct {
	Enabled bool             `json:"enabled"`
	Reasons []FallbackReason `json:"reasons"`
}

// IntentRecord is the orchestrator's mutable view of an intent lifecycle.
type IntentRecord struct {
	Intent         Intent          `json:"intent"`
	Status         Status          `json:"status"`
	Version        int64           `json:"version"`
	CreatedAt      int64           `json:"createdAt"`
	UpdatedAt      int64           `json:"updatedAt"`
	ExecutionSteps []ExecutionStep `json:"executionSteps"`
	ReasonCodes    []ReasonEntry   `json:"reasonCodes"`
	FallbackMode   FallbackMode    `json:"fallbackMode"`
	SettlementTx   string          `json:"settlementTx,omitempty"`
	Quote          *Quote          `json:"quote,omitempty"`
	Route          *Route          `json:"route,omitempty"`
	OperatorLog    []string        `json:"operatorLog,omitempty"`
}

// NewIntentRecord builds the CREATED record for a freshly accepted intent.
func NewIntentRecord(intent Intent, now time.Time) *IntentRecord {
	ts := now.UnixMilli()
	return &IntentRecord{
		Intent:    intent,
		Status:    StatusCreated,
		CreatedAt: ts,
		UpdatedAt: ts,
		ExecutionSteps: []ExecutionStep{{
			Step:      "Intent Created",
			Status:    StepCompleted,
			Timestamp: ts,
		}},
		ReasonCodes:  []ReasonEntry{},
		FallbackMode: FallbackMode{Reasons: []FallbackReason{}},
	}
}

// Clone returns a deep copy so that stores never share slices with callers.
func (r *IntentRecord) Clone() *IntentRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.ExecutionSteps = make([]ExecutionStep, len(r.ExecutionSteps))
	for i, s := range r.ExecutionSteps {
		out.ExecutionSteps[i] = s
		if s.Details != nil {
			d := make(map[string]string, len(s.Details))
			for k, v := range s.Details {
				d[k] = v
			}
			out.ExecutionSteps[i].Details = d
		}
	}
	out.ReasonCodes = append([]ReasonEntry{}, r.ReasonCodes...)
	out.FallbackMode.Reasons = append([]FallbackReason{}, r.FallbackMode.Reasons...)
	out.OperatorLog = append([]string(nil), r.OperatorLog...)
	if r.Quote != nil {
		q := *r.Quote
		out.Quote = &q
	}
	if r.Route != nil {
		rt := *r.Route
		rt.Steps = append([]RouteStep(nil), r.Route.Steps...)
		out.Route = &rt
	}
	return &out
}

// AppendStep appends an execution step stamped at now.
func (r *IntentRecord) AppendStep(step, status string, now time.Time, details map[string]string) {
	r.ExecutionSteps = append(r.ExecutionSteps, ExecutionStep{
		Step:      step,
		Status:    status,
		Timestamp: now.UnixMilli(),
		Details:   details,
	})
}

// AppendReason appends a reason code entry.
func (r *IntentRecord) AppendReason(code ReasonCode, source string, now time.Time) {
	r.ReasonCodes = append(r.ReasonCodes, ReasonEntry{Code: code, Timestamp: now.UnixMilli(), Source: source})
}

// RecordFallback notes a stage fallback and latches fallback mode on.
func (r *IntentRecord) RecordFallback(stage string, fb *ReasonedFallback, now time.Time) {
	if fb == nil {
		return
	}
	r.FallbackMode.Enabled = true
	r.FallbackMode.Reasons = append(r.FallbackMode.Reasons, FallbackReason{
		Stage:      stage,
		ReasonCode: fb.ReasonCode,
		Message:    fb.Message,
		Timestamp:  now.UnixMilli(),
	})
}

// SetSettlementTx sets the settlement transaction once; later values are ignored.
func (r *IntentRecord) SetSettlementTx(tx string) bool {
	if tx == "" || r.SettlementTx != "" {
		return false
	}
	r.SettlementTx = tx
	return true
}
