package settlement

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// Domain is the EIP-712 domain intents are signed under.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// DefaultDomain is used when no domain is configured.
var DefaultDomain = Domain{
	Name:    "SpeedrunRouter",
	Version: "1",
	ChainID: 7000,
}

var intentTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Intent": {
		{Name: "id", Type: "string"},
		{Name: "sourceChain", Type: "string"},
		{Name: "destinationChain", Type: "string"},
		{Name: "tokenIn", Type: "string"},
		{Name: "tokenOut", Type: "string"},
		{Name: "amountIn", Type: "string"},
		{Name: "minAmountOut", Type: "string"},
		{Name: "deadline", Type: "uint256"},
	},
}

func (d Domain) typedData(intent models.Intent) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       intentTypes,
		PrimaryType: "Intent",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"id":               intent.ID,
			"sourceChain":      intent.SourceChain,
			"destinationChain": intent.DestinationChain,
			"tokenIn":          intent.TokenIn,
			"tokenOut":         intent.TokenOut,
			"amountIn":         intent.AmountIn,
			"minAmountOut":     intent.MinAmountOut,
			"deadline":         strconv.FormatInt(intent.Deadline, 10),
		},
	}
}

// IntentHash returns the canonical EIP-712 digest of an intent.
// The signature and signer fields are not part of it.
func (d Domain) IntentHash(intent models.Intent) ([]byte, error) {
	td := d.typedData(intent)

	dataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash intent: %w", err)
	}
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	raw := []byte{0x19, 0x01}
	raw = append(raw, domainSeparator...)
	raw = append(raw, dataHash...)
	return crypto.Keccak256(raw), nil
}

// Sign produces a 65-byte hex signature with v in {27, 28}.
func (d Domain) Sign(intent models.Intent, key *ecdsa.PrivateKey) (string, error) {
	hash, err := d.IntentHash(intent)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign intent: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the address that produced intent.Signature.
func (d Domain) RecoverSigner(intent models.Intent) (common.Address, error) {
	sig, err := hexutil.Decode(intent.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash, err := d.IntentHash(intent)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that the intent was signed by its claimed signer.
func (d Domain) VerifySignature(intent models.Intent) error {
	if !common.IsHexAddress(intent.Signer) {
		return fmt.Errorf("claimed signer %q is not an address", intent.Signer)
	}
	recovered, err := d.RecoverSigner(intent)
	if err != nil {
		return err
	}
	if recovered != common.HexToAddress(intent.Signer) {
		return fmt.Errorf("signature recovers to %s, not %s", recovered.Hex(), intent.Signer)
	}
	return nil
}
