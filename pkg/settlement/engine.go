package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInsufficientBalance reverts an unlock whose deltas would overdraw an account.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Transfer is one asset movement recorded during an unlock.
type Transfer struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Session collects the transfers of one unlock. They are applied together
// when the callback returns, or not at all.
type Session struct {
	transfers []Transfer
}

// Move records a transfer of amount of asset.
func (s *Session) Move(asset, from, to common.Address, amount *big.Int) {
	s.transfers = append(s.transfers, Transfer{Asset: asset, From: from, To: to, Amount: new(big.Int).Set(amount)})
}

// Transfers returns the movements recorded so far.
func (s *Session) Transfers() []Transfer {
	return append([]Transfer(nil), s.transfers...)
}

// UnlockCallback performs the asset movement of a settlement. source is the
// identity of whoever invoked it.
type UnlockCallback func(ctx context.Context, source common.Address, session *Session) error

// Engine executes settlements. Unlock invokes cb exactly once, then either
// applies every recorded transfer or reverts them all.
type Engine interface {
	Address() common.Address
	Unlock(ctx context.Context, intentID string, cb UnlockCallback) (txHash string, err error)
}

// LocalEngine is an in-process engine over an in-memory balance ledger.
type LocalEngine struct {
	address common.Address

	overdraft bool

	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
	nonce    uint64
}

var _ Engine = (*LocalEngine)(nil)

// EngineOption configures a LocalEngine.
type EngineOption func(*LocalEngine)

// AllowOverdraft turns the ledger into a net-delta book: balances may go
// negative and are settled outside the engine.
func AllowOverdraft() EngineOption {
	return func(e *LocalEngine) { e.overdraft = true }
}

func NewLocalEngine(address common.Address, opts ...EngineOption) *LocalEngine {
	e := &LocalEngine{
		address:  address,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LocalEngine) Address() common.Address { return e.address }

// Credit mints amount of asset to account.
func (e *LocalEngine) Credit(account, asset common.Address, amount *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add(e.balances, account, asset, amount)
}

// Balance returns the balance of asset held by account.
func (e *LocalEngine) Balance(account, asset common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.balances[account][asset]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (e *LocalEngine) add(ledger map[common.Address]map[common.Address]*big.Int, account, asset common.Address, amount *big.Int) {
	if ledger[account] == nil {
		ledger[account] = make(map[common.Address]*big.Int)
	}
	current, ok := ledger[account][asset]
	if !ok {
		current = new(big.Int)
	}
	ledger[account][asset] = new(big.Int).Add(current, amount)
}

func (e *LocalEngine) Unlock(ctx context.Context, intentID string, cb UnlockCallback) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session := &Session{}
	if err := cb(ctx, e.address, session); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// apply to a scratch copy so a failing transfer leaves the ledger untouched
	scratch := make(map[common.Address]map[common.Address]*big.Int, len(e.balances))
	for account, assets := range e.balances {
		scratch[account] = make(map[common.Address]*big.Int, len(assets))
		for asset, amount := range assets {
			scratch[account][asset] = amount
		}
	}
	for _, t := range session.transfers {
		if t.Amount.Sign() < 0 {
			return "", fmt.Errorf("negative transfer of %s", t.Asset.Hex())
		}
		held, ok := scratch[t.From][t.Asset]
		if !e.overdraft && (!ok || held.Cmp(t.Amount) < 0) {
			return "", fmt.Errorf("%w: %s holds %v of %s, needs %s",
				ErrInsufficientBalance, t.From.Hex(), held, t.Asset.Hex(), t.Amount)
		}
		e.add(scratch, t.From, t.Asset, new(big.Int).Neg(t.Amount))
		e.add(scratch, t.To, t.Asset, t.Amount)
	}
	e.balances = scratch

	e.nonce++
	return crypto.Keccak256Hash([]byte(intentID), new(big.Int).SetUint64(e.nonce).Bytes()).Hex(), nil
}
