// Package settlement authorizes and executes the settlement of an intent
// against a venue, at most once per intent id.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-router/pkg/chains"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/units"
)

var (
	// ErrNotOwner is returned when a configuration change is not made by the owner.
	ErrNotOwner = errors.New("caller is not the owner")
	// ErrNotPendingOwner is returned when ownership is accepted by anyone but the proposed owner.
	ErrNotPendingOwner = errors.New("caller is not the pending owner")
)

// Venue is a pool holding two asset legs on one chain.
type Venue struct {
	ID      string
	ChainID int
	Pool    common.Address
	AssetA  common.Address
	AssetB  common.Address
}

// Request asks for one intent to be settled against one venue.
type Request struct {
	Intent models.Intent
	Venue  Venue
	// QuotedAmountOut is the decimal output quoted for this venue in tokenOut units
	QuotedAmountOut string
	Caller          common.Address
}

// Receipt describes a committed settlement.
type Receipt struct {
	IntentID  string
	TxHash    string
	AmountIn  *big.Int
	AmountOut *big.Int
	SettledAt time.Time
}

// Config holds the validator's initial authority settings.
type Config struct {
	Owner     common.Address
	Executors []common.Address
	Domain    Domain
	// Pool is the liquidity account used for venues built by VenueFor
	Pool common.Address
}

// Validator runs the ordered settlement checks and drives the engine.
type Validator struct {
	resolver *chains.Resolver
	engine   Engine
	replay   ReplayGuard
	policy   PolicyAuthority
	domain   Domain
	pool     common.Address
	logger   logger.Logger
	now      func() time.Time

	mu           sync.RWMutex
	owner        common.Address
	pendingOwner common.Address
	executors    map[common.Address]bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used for the deadline check.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a validator. A nil policy approves everything.
func NewValidator(cfg Config, resolver *chains.Resolver, engine Engine, replay ReplayGuard, policy PolicyAuthority, logger logger.Logger, opts ...Option) *Validator {
	if policy == nil {
		policy = AllowAll{}
	}
	v := &Validator{
		resolver:  resolver,
		engine:    engine,
		replay:    replay,
		policy:    policy,
		domain:    cfg.Domain,
		pool:      cfg.Pool,
		logger:    logger,
		now:       time.Now,
		owner:     cfg.Owner,
		executors: make(map[common.Address]bool),
	}
	for _, e := range cfg.Executors {
		v.executors[e] = true
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Domain returns the EIP-712 domain signatures are checked under.
func (v *Validator) Domain() Domain { return v.domain }

// VenueFor builds the venue pairing the intent's tokens on chainID.
func (v *Validator) VenueFor(intent models.Intent, chainID int, id string) (Venue, error) {
	in, err := v.resolver.ResolveToken(chainID, intent.TokenIn)
	if err != nil {
		return Venue{}, err
	}
	out, err := v.resolver.ResolveToken(chainID, intent.TokenOut)
	if err != nil {
		return Venue{}, err
	}
	return Venue{
		ID:      id,
		ChainID: chainID,
		Pool:    v.pool,
		AssetA:  common.HexToAddress(in.Address),
		AssetB:  common.HexToAddress(out.Address),
	}, nil
}

// Settle validates req and, when every check passes, executes it through the
// engine. A *RejectionError means nothing moved and the intent is not settled.
func (v *Validator) Settle(ctx context.Context, req Request) (*Receipt, error) {
	receipt, err := v.settle(ctx, req)
	if code, ok := RejectionCode(err); ok {
		metrics.SettlementRejections.WithLabelValues(string(code)).Inc()
		v.logger.NoticeWithChain(req.Venue.ChainID, "Settlement of intent %s rejected: %v", req.Intent.ID, err)
	}
	return receipt, err
}

func (v *Validator) settle(ctx context.Context, req Request) (*Receipt, error) {
	intent := req.Intent

	// 1. replay
	if err := v.replay.Reserve(ctx, intent.ID); err != nil {
		if errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrSettlementInFlight) {
			return nil, reject(models.ReasonIntentAlreadySettled, "%v", err)
		}
		return nil, err
	}
	keepReservation := false
	defer func() {
		if keepReservation {
			return
		}
		if releaseErr := v.replay.Release(context.WithoutCancel(ctx), intent.ID); releaseErr != nil {
			v.logger.Error("Failed to release settlement reservation for %s: %v", intent.ID, releaseErr)
		}
	}()

	tokenIn, inErr := v.resolver.ResolveToken(req.Venue.ChainID, intent.TokenIn)
	tokenOut, outErr := v.resolver.ResolveToken(req.Venue.ChainID, intent.TokenOut)

	// 2. native asset
	native := common.HexToAddress(chains.NativeAssetAddress)
	if req.Venue.AssetA == native || req.Venue.AssetB == native ||
		(inErr == nil && common.HexToAddress(tokenIn.Address) == native) ||
		(outErr == nil && common.HexToAddress(tokenOut.Address) == native) {
		return nil, reject(models.ReasonNativeAssetNotSupported, "venue %s settles in the native asset", req.Venue.ID)
	}

	// 3. deadline
	now := v.now()
	if intent.Expired(now) {
		return nil, reject(models.ReasonIntentExpired, "deadline %d passed at %d", intent.Deadline, now.Unix())
	}

	// 4. minimum output
	quoted, qErr := decimal.NewFromString(strings.TrimSpace(req.QuotedAmountOut))
	if qErr != nil {
		return nil, reject(models.ReasonQuotedAmountTooLow, "quoted amount %q is not a number", req.QuotedAmountOut)
	}
	minOut := decimal.Zero
	if strings.TrimSpace(intent.MinAmountOut) != "" {
		if minOut, qErr = decimal.NewFromString(strings.TrimSpace(intent.MinAmountOut)); qErr != nil {
			return nil, reject(models.ReasonQuotedAmountTooLow, "minAmountOut %q is not a number", intent.MinAmountOut)
		}
	}
	if quoted.LessThan(minOut) {
		return nil, reject(models.ReasonQuotedAmountTooLow, "quoted %s below minimum %s", quoted, minOut)
	}

	// 5. signature
	if err := v.domain.VerifySignature(intent); err != nil {
		return nil, reject(models.ReasonInvalidSignature, "%v", err)
	}

	// 6. venue legs
	if inErr != nil || outErr != nil {
		return nil, reject(models.ReasonPoolMismatch, "intent tokens are not listed on chain %d", req.Venue.ChainID)
	}
	if !legsMatch(req.Venue, common.HexToAddress(tokenIn.Address), common.HexToAddress(tokenOut.Address)) {
		return nil, reject(models.ReasonPoolMismatch, "venue %s does not pair %s and %s", req.Venue.ID, intent.TokenIn, intent.TokenOut)
	}

	// 7. policy
	if allowed, reason := v.policy.Authorize(ctx, intent.ID, quoted); !allowed {
		return nil, reject(models.ReasonPolicyRejected, "%s", reason)
	}

	// 8. caller
	if !v.IsAuthorized(req.Caller) {
		return nil, reject(models.ReasonUnauthorizedExecutor, "%s is neither owner nor executor", req.Caller.Hex())
	}

	amountIn, err := units.ToBaseUnitsInt(intent.AmountIn, tokenIn.Decimals)
	if err != nil {
		return nil, reject(models.ReasonInvalidAmount, "%v", err)
	}
	amountOut, err := units.ToBaseUnitsInt(quoted.String(), tokenOut.Decimals)
	if err != nil {
		return nil, reject(models.ReasonInvalidAmount, "%v", err)
	}

	var invoked atomic.Int32
	signer := common.HexToAddress(intent.Signer)
	callback := func(ctx context.Context, source common.Address, session *Session) error {
		if source != v.engine.Address() {
			return reject(models.ReasonUnauthorizedCallbackSource, "callback invoked by %s", source.Hex())
		}
		if invoked.Add(1) > 1 {
			return reject(models.ReasonUnauthorizedCallbackSource, "callback invoked more than once")
		}
		session.Move(common.HexToAddress(tokenIn.Address), signer, req.Venue.Pool, amountIn)
		session.Move(common.HexToAddress(tokenOut.Address), req.Venue.Pool, signer, amountOut)
		return nil
	}

	txHash, err := v.engine.Unlock(ctx, intent.ID, callback)
	if err != nil {
		if _, ok := RejectionCode(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("settlement of intent %s reverted: %w", intent.ID, err)
	}
	if invoked.Load() != 1 {
		return nil, fmt.Errorf("settlement engine did not invoke the callback for intent %s", intent.ID)
	}

	// assets moved; from here on the reservation must never be released
	keepReservation = true
	if err := v.replay.Commit(context.WithoutCancel(ctx), intent.ID); err != nil {
		v.logger.ErrorWithChain(req.Venue.ChainID, "Intent %s settled in %s but the settled flag was not committed: %v", intent.ID, txHash, err)
		return nil, err
	}

	metrics.SettlementsCommitted.Inc()
	v.logger.InfoWithChain(req.Venue.ChainID, "Intent %s settled in %s", intent.ID, txHash)
	return &Receipt{
		IntentID:  intent.ID,
		TxHash:    txHash,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		SettledAt: now,
	}, nil
}

func legsMatch(venue Venue, in, out common.Address) bool {
	return (venue.AssetA == in && venue.AssetB == out) || (venue.AssetA == out && venue.AssetB == in)
}

// Owner returns the current owner.
func (v *Validator) Owner() common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.owner
}

// PendingOwner returns the proposed owner, or the zero address.
func (v *Validator) PendingOwner() common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pendingOwner
}

// ProposeOwner starts an ownership transfer. Ownership moves only when
// newOwner calls AcceptOwnership.
func (v *Validator) ProposeOwner(caller, newOwner common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrNotOwner
	}
	v.pendingOwner = newOwner
	v.logger.Notice("Ownership transfer proposed from %s to %s", v.owner.Hex(), newOwner.Hex())
	return nil
}

// AcceptOwnership completes a transfer started by ProposeOwner.
func (v *Validator) AcceptOwnership(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pendingOwner == (common.Address{}) || caller != v.pendingOwner {
		return ErrNotPendingOwner
	}
	v.owner = caller
	v.pendingOwner = common.Address{}
	v.logger.Notice("Ownership accepted by %s", caller.Hex())
	return nil
}

// SetExecutor grants or revokes executor rights. Only the owner may call it.
func (v *Validator) SetExecutor(caller, executor common.Address, allowed bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrNotOwner
	}
	if allowed {
		v.executors[executor] = true
	} else {
		delete(v.executors, executor)
	}
	return nil
}

// IsAuthorized reports whether addr is the owner or an executor.
func (v *Validator) IsAuthorized(addr common.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return addr != (common.Address{}) && (addr == v.owner || v.executors[addr])
}
