package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies which path produced a payload.
type Provider string

const (
	ProviderLive     Provider = "live"
	ProviderFallback Provider = "fallback"
)

// ReasonedFallback is attached to every synthetic payload.
type ReasonedFallback struct {
	Enabled    bool       `json:"enabled"`
	ReasonCode ReasonCode `json:"reasonCode"`
	Message    string     `json:"message"`
}

// NewReasonedFallback builds an enabled fallback descriptor.
func NewReasonedFallback(code ReasonCode, format string, args ...interface{}) ReasonedFallback {
	return ReasonedFallback{Enabled: true, ReasonCode: code, Message: fmt.Sprintf(format, args...)}
}

// Quote is the stage-specific body of a quote payload.
type Quote struct {
	RouteID           string `json:"routeId"`
	FromChain         string `json:"fromChain"`
	ToChain           string `json:"toChain"`
	FromChainID       int    `json:"fromChainId"`
	ToChainID         int    `json:"toChainId"`
	TokenIn           string `json:"tokenIn"`
	TokenOut          string `json:"tokenOut"`
	TokenInAddress    string `json:"tokenInAddress"`
	TokenOutAddress   string `json:"tokenOutAddress"`
	AmountIn          string `json:"amountIn"`
	AmountOut         string `json:"amountOut"`
	AmountOutMin      string `json:"amountOutMin"`
	EstimatedDuration int64  `json:"estimatedDuration"`
	Tool              string `json:"tool"`
}

// PayloadKey implements Body.
func (Quote) PayloadKey() string { return "quote" }

// RouteStep is one hop of a route.
type RouteStep struct {
	Type        string `json:"type"`
	Tool        string `json:"tool"`
	FromChainID int    `json:"fromChainId"`
	ToChainID   int    `json:"toChainId"`
	FromToken   string `json:"fromToken"`
	ToToken     string `json:"toToken"`
	AmountOut   string `json:"amountOut"`
}

// Route is the stage-specific body of a route payload.
type Route struct {
	RouteID     string      `json:"routeId"`
	FromChainID int         `json:"fromChainId"`
	ToChainID   int         `json:"toChainId"`
	TokenIn     string      `json:"tokenIn"`
	TokenOut    string      `json:"tokenOut"`
	AmountIn    string      `json:"amountIn"`
	AmountOut   string      `json:"amountOut"`
	Steps       []RouteStep `json:"steps"`
}

// PayloadKey implements Body.
func (Route) PayloadKey() string { return "route" }

// TransferStatus is the stage-specific body of a status payload.
type TransferStatus struct {
	TxHash      string `json:"txHash"`
	State       string `json:"state"`
	Substatus   string `json:"substatus"`
	SendingTx   string `json:"sendingTx"`
	ReceivingTx string `json:"receivingTx"`
}

// PayloadKey implements Body.
func (TransferStatus) PayloadKey() string { return "status" }

// Body is implemented by every stage-specific payload body.
type Body interface {
	Quote | Route | TransferStatus
	PayloadKey() string
}

// Result is either a live backend result or a synthetic fallback. The zero
// value is not meaningful; use Live or Fallback.
type Result[T Body] struct {
	provider  Provider
	timestamp int64
	value     T
	fallback  *ReasonedFallback
}

// Live wraps a normalized backend response.
func Live[T Body](value T, now time.Time) Result[T] {
	return Result[T]{provider: ProviderLive, timestamp: now.UnixMilli(), value: value}
}

// Fallback wraps a synthetic response and its cause.
func Fallback[T Body](value T, cause ReasonedFallback, now time.Time) Result[T] {
	cause.Enabled = true
	return Result[T]{provider: ProviderFallback, timestamp: now.UnixMilli(), value: value, fallback: &cause}
}

func (r Result[T]) Provider() Provider { return r.provider }
func (r Result[T]) Timestamp() int64   { return r.timestamp }
func (r Result[T]) Value() T           { return r.value }
func (r Result[T]) IsFallback() bool   { return r.fallback != nil }

// Cause returns the fallback descriptor, or nil for live results.
func (r Result[T]) Cause() *ReasonedFallback {
	if r.fallback == nil {
		return nil
	}
	fb := *r.fallback
	return &fb
}

// Executable reports whether the payload may drive a real execution.
func (r Result[T]) Executable(acceptDegraded bool) bool {
	return !r.IsFallback() || acceptDegraded
}

// MarshalJSON emits {provider, timestamp, <key>, fallback?}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"provider":  r.provider,
		"timestamp": r.timestamp,
	}
	out[r.value.PayloadKey()] = r.value
	if r.fallback != nil {
		out["fallback"] = r.fallback
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var zero T
	var decoded Result[T]
	if err := json.Unmarshal(raw["provider"], &decoded.provider); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := json.Unmarshal(raw["timestamp"], &decoded.timestamp); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	body, ok := raw[zero.PayloadKey()]
	if !ok {
		return fmt.Errorf("missing %q body", zero.PayloadKey())
	}
	if err := json.Unmarshal(body, &decoded.value); err != nil {
		return fmt.Errorf("%s: %w", zero.PayloadKey(), err)
	}
	if fb, ok := raw["fallback"]; ok && string(fb) != "null" {
		decoded.fallback = &ReasonedFallback{}
		if err := json.Unmarshal(fb, decoded.fallback); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	*r = decoded
	return nil
}

// QuoteResult, RouteResult and StatusResult are the three RoutingProvider outputs.
type (
	QuoteResult  = Result[Quote]
	RouteResult  = Result[Route]
	StatusResult = Result[TransferStatus]
)
