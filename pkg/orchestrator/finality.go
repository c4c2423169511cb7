package orchestrator

import (
	"strings"

	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeSuccess
	outcomeFailure
	outcomeUnavailable
)

var successStates = map[string]bool{
	"DONE":      true,
	"SUCCESS":   true,
	"COMPLETED": true,
	"SETTLED":   true,
	"FINALIZED": true,
}

var failureStates = map[string]bool{
	"FAILED":    true,
	"FAILURE":   true,
	"INVALID":   true,
	"REVERTED":  true,
	"CANCELLED": true,
	"ABORTED":   true,
}

// knownPendingStates are live non-terminal states that need no attention.
var knownPendingStates = map[string]bool{
	"PENDING":   true,
	"NOT_FOUND": true,
	"STARTED":   true,
	"SUBMITTED": true,
}

// classifyStatus derives the settlement outcome from a status payload.
// Unrecognized live states stay pending and are counted for monitoring.
func classifyStatus(res models.StatusResult) outcome {
	if res.IsFallback() {
		return outcomeUnavailable
	}
	state := strings.ToUpper(strings.TrimSpace(res.Value().State))
	switch {
	case successStates[state]:
		return outcomeSuccess
	case failureStates[state]:
		return outcomeFailure
	case !knownPendingStates[state]:
		metrics.UnclassifiedStates.WithLabelValues(state).Inc()
	}
	return outcomePending
}
