package crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitment(t *testing.T) {
	t.Run("deterministic for same inputs", func(t *testing.T) {
		a := Commitment("P123456", "salt-a")
		b := Commitment("P123456", "salt-a")
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("changes with salt", func(t *testing.T) {
		assert.NotEqual(t, Commitment("P123456", "salt-a"), Commitment("P123456", "salt-b"))
	})
}

func TestNormalizeDocumentNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips separators", "001-1234567-8", "00112345678"},
		{"uppercases", "ab12cd", "AB12CD"},
		{"strips whitespace", " P 123 456 ", "P123456"},
		{"empty stays empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDocumentNumber(tt.in))
		})
	}
}

func TestToHashField(t *testing.T) {
	t.Run("fits in the scalar field", func(t *testing.T) {
		hash := Commitment("P123456", "salt")
		field, err := ToHashField(hash)
		require.NoError(t, err)

		n, ok := new(big.Int).SetString(field, 10)
		require.True(t, ok)
		assert.Negative(t, n.Cmp(bn254ScalarField))
		assert.Positive(t, n.Sign())
	})

	t.Run("deterministic", func(t *testing.T) {
		hash := Commitment("P123456", "salt")
		a, err := ToHashField(hash)
		require.NoError(t, err)
		b, err := ToHashField(hash)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("rejects non-hex input", func(t *testing.T) {
		_, err := ToHashField("not-hex")
		require.Error(t, err)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := ToHashField("")
		require.Error(t, err)
	})
}

func TestClaimHash(t *testing.T) {
	t.Run("pure function", func(t *testing.T) {
		assert.Equal(t, ClaimHash("1990", "42"), ClaimHash("1990", "42"))
	})

	t.Run("changing the value changes the hash", func(t *testing.T) {
		assert.NotEqual(t, ClaimHash("1990", "42"), ClaimHash("1991", "42"))
	})

	t.Run("changing the field changes the hash", func(t *testing.T) {
		assert.NotEqual(t, ClaimHash("1990", "42"), ClaimHash("1990", "43"))
	})
}
