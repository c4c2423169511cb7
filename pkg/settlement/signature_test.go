package settlement

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	intent := models.Intent{
		ID:               "8a1c7c1e-3a8e-4d7e-9d7e-1f2a3b4c5d6e",
		SourceChain:      "arbitrum",
		DestinationChain: "optimism",
		TokenIn:          "USDC",
		TokenOut:         "WETH",
		AmountIn:         "100",
		MinAmountOut:     "0.03",
		Deadline:         1_700_003_600,
		Signer:           signer.Hex(),
	}
	intent.Signature, err = DefaultDomain.Sign(intent, key)
	require.NoError(t, err)

	recovered, err := DefaultDomain.RecoverSigner(intent)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
	require.NoError(t, DefaultDomain.VerifySignature(intent))

	t.Run("v without the 27 offset", func(t *testing.T) {
		raw, err := hexutil.Decode(intent.Signature)
		require.NoError(t, err)
		raw[64] -= 27
		alt := intent
		alt.Signature = hexutil.Encode(raw)
		require.NoError(t, DefaultDomain.VerifySignature(alt))
	})

	t.Run("hash ignores signature fields", func(t *testing.T) {
		a, err := DefaultDomain.IntentHash(intent)
		require.NoError(t, err)
		stripped := intent
		stripped.Signature, stripped.Signer = "", ""
		b, err := DefaultDomain.IntentHash(stripped)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("other domain", func(t *testing.T) {
		other := DefaultDomain
		other.ChainID = 1
		assert.Error(t, other.VerifySignature(intent))
	})

	t.Run("malformed", func(t *testing.T) {
		for _, sig := range []string{"", "0x", "0x1234", "zz"} {
			bad := intent
			bad.Signature = sig
			assert.Error(t, DefaultDomain.VerifySignature(bad), sig)
		}
	})
}
