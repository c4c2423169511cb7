package settlement

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Policy reason codes returned by LimitsPolicy
const (
	PolicyAmountAboveLimit = "AMOUNT_ABOVE_LIMIT"
	PolicyIntentBlocked    = "INTENT_BLOCKED"
)

// PolicyAuthority can veto an otherwise valid settlement.
type PolicyAuthority interface {
	Authorize(ctx context.Context, intentID string, quotedAmountOut decimal.Decimal) (allowed bool, reasonCode string)
}

// AllowAll approves every settlement.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, decimal.Decimal) (bool, string) { return true, "" }

// LimitsPolicy caps the quoted output and blocks individual intents.
type LimitsPolicy struct {
	// MaxAmountOut is ignored when zero
	MaxAmountOut decimal.Decimal

	mu      sync.RWMutex
	blocked map[string]bool
}

func NewLimitsPolicy(maxAmountOut decimal.Decimal) *LimitsPolicy {
	return &LimitsPolicy{MaxAmountOut: maxAmountOut, blocked: make(map[string]bool)}
}

// Block makes every later Authorize for intentID fail.
func (p *LimitsPolicy) Block(intentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked[intentID] = true
}

func (p *LimitsPolicy) Authorize(_ context.Context, intentID string, quotedAmountOut decimal.Decimal) (bool, string) {
	p.mu.RLock()
	blocked := p.blocked[intentID]
	p.mu.RUnlock()
	if blocked {
		return false, PolicyIntentBlocked
	}
	if p.MaxAmountOut.IsPositive() && quotedAmountOut.GreaterThan(p.MaxAmountOut) {
		return false, PolicyAmountAboveLimit
	}
	return true, ""
}
