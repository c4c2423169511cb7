package models

import "strings"

// ReasonCode is a stable identifier explaining why a fallback or rejection occurred.
type ReasonCode string

// Input validation
const (
	ReasonMissingParams    ReasonCode = "MISSING_PARAMS"
	ReasonInvalidAmount    ReasonCode = "INVALID_AMOUNT"
	ReasonUnsupportedChain ReasonCode = "UNSUPPORTED_CHAIN"
	ReasonUnsupportedToken ReasonCode = "UNSUPPORTED_TOKEN"
)

// Provider path
const (
	ReasonBadRequest    ReasonCode = "LIFI_BAD_REQUEST"
	ReasonRateLimited   ReasonCode = "LIFI_RATE_LIMITED"
	ReasonServerError   ReasonCode = "LIFI_SERVER_ERROR"
	ReasonUnavailable   ReasonCode = "LIFI_UNAVAILABLE"
	ReasonEmptyResponse ReasonCode = "LIFI_EMPTY_RESPONSE"
	ReasonMissingTxHash ReasonCode = "MISSING_TX_HASH"
)

// Settlement path
const (
	ReasonNativeAssetNotSupported    ReasonCode = "NATIVE_ASSET_NOT_SUPPORTED"
	ReasonIntentExpired              ReasonCode = "INTENT_EXPIRED"
	ReasonQuotedAmountTooLow         ReasonCode = "QUOTED_AMOUNT_TOO_LOW"
	ReasonInvalidSignature           ReasonCode = "INVALID_SIGNATURE"
	ReasonPoolMismatch               ReasonCode = "POOL_MISMATCH"
	ReasonPolicyRejected             ReasonCode = "POLICY_REJECTED"
	ReasonUnauthorizedExecutor       ReasonCode = "UNAUTHORIZED_EXECUTOR"
	ReasonIntentAlreadySettled       ReasonCode = "INTENT_ALREADY_SETTLED"
	ReasonUnauthorizedCallbackSource ReasonCode = "UNAUTHORIZED_CALLBACK_SOURCE"
)

// Orchestrator
const (
	ReasonSettlementUnavailable ReasonCode = "SETTLEMENT_UNAVAILABLE"
	ReasonStoreConflict         ReasonCode = "STORE_CONFLICT"
	ReasonOperatorAbort         ReasonCode = "OPERATOR_ABORT"
)

var knownReasons = map[ReasonCode]struct{}{
	ReasonMissingParams: {}, ReasonInvalidAmount: {}, ReasonUnsupportedChain: {}, ReasonUnsupportedToken: {},
	ReasonBadRequest: {}, ReasonRateLimited: {}, ReasonServerError: {}, ReasonUnavailable: {},
	ReasonEmptyResponse: {}, ReasonMissingTxHash: {},
	ReasonNativeAssetNotSupported: {}, ReasonIntentExpired: {}, ReasonQuotedAmountTooLow: {},
	ReasonInvalidSignature: {}, ReasonPoolMismatch: {}, ReasonPolicyRejected: {},
	ReasonUnauthorizedExecutor: {}, ReasonIntentAlreadySettled: {}, ReasonUnauthorizedCallbackSource: {},
	ReasonSettlementUnavailable: {}, ReasonStoreConflict: {}, ReasonOperatorAbort: {},
}

// ParseReasonCode maps free text onto the closed code set, ignoring case and
// surrounding space.
func ParseReasonCode(s string) (ReasonCode, bool) {
	code := ReasonCode(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := knownReasons[code]
	return code, ok
}
