package units

import (
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		expected string
	}{
		{"100", 6, "100000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{"0.0000001", 6, "0"},
		{"1.23456789", 6, "1234567"},
		{"0", 18, "0"},
		{"000.000", 6, "0"},
		{"007", 0, "7"},
		{".5", 2, "50"},
		{"5.", 2, "500"},
		{"1", 18, "1000000000000000000"},
		{"123456789012345678901234567890.123456789012345678", 18, "123456789012345678901234567890123456789012345678"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.amount, tt.decimals), func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestToBaseUnitsRejectsMalformed(t *testing.T) {
	for _, amount := range []string{"", ".", "-1", "1e6", "1.2.3", "abc", "1,5", "NaN", "Infinity"} {
		_, err := ToBaseUnits(amount, 6)
		assert.Error(t, err, amount)
	}
	_, err := ToBaseUnits("1", -1)
	assert.ErrorIs(t, err, ErrInvalidDecimals)
}

func TestFromBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		expected string
	}{
		{"100000000", 6, "100"},
		{"1500000", 6, "1.5"},
		{"1", 6, "0.000001"},
		{"0", 6, "0"},
		{"40000000000000000", 18, "0.04"},
		{"42", 0, "42"},
		{"1000000000000000000", 18, "1"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.amount, tt.decimals), func(t *testing.T) {
			got, err := FromBaseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := FromBaseUnits("-5", 6)
	assert.Error(t, err)
	_, err = FromBaseUnits("1.5", 6)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	digits := func(n int) string {
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteByte(byte('0' + rng.Intn(10)))
		}
		return b.String()
	}

	for i := 0; i < 500; i++ {
		d := rng.Intn(19)
		x := digits(1 + rng.Intn(25))
		if d > 0 && rng.Intn(2) == 0 {
			x += "." + digits(1+rng.Intn(d))
		}

		base, err := ToBaseUnits(x, d)
		require.NoError(t, err)
		back, err := FromBaseUnits(base, d)
		require.NoError(t, err)

		want := decimal.RequireFromString(x)
		got := decimal.RequireFromString(back)
		assert.True(t, want.Equal(got), "x=%s d=%d base=%s back=%s", x, d, base, back)
	}
}

func TestToBaseUnitsInt(t *testing.T) {
	n, err := ToBaseUnitsInt("2.5", 18)
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("2500000000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(n))
}
