package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := New(WithCost(4))

	hash, err := h.Hash("482913")
	require.NoError(t, err)
	assert.NotEqual(t, "482913", hash)

	assert.NoError(t, h.Verify("482913", hash))
	assert.ErrorIs(t, h.Verify("482914", hash), ErrMismatch)
	assert.ErrorIs(t, h.Verify("482913", "not-a-bcrypt-hash"), ErrInvalidHash)
}

func TestHasher_WithCostIgnoresOutOfRange(t *testing.T) {
	// Out-of-range costs fall back to the default rather than failing at
	// hash time.
	h := New(WithCost(99))
	assert.Equal(t, DefaultCost, h.cost)

	h = New(WithCost(-1))
	assert.Equal(t, DefaultCost, h.cost)
}

func TestHasher_NeedsRehash(t *testing.T) {
	h4 := New(WithCost(4))
	hash, err := h4.Hash("1234")
	require.NoError(t, err)

	assert.False(t, h4.NeedsRehash(hash))
	assert.True(t, New(WithCost(5)).NeedsRehash(hash))
	assert.True(t, h4.NeedsRehash("garbage"))
}

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		name string
		pin  string
		want error
	}{
		{"valid four digits", "1234", nil},
		{"valid long", "48291365", nil},
		{"too short", "123", ErrPINTooShort},
		{"empty", "", ErrPINTooShort},
		{"letters", "12a4", ErrPINNotDigits},
		{"spaces", "12 4", ErrPINNotDigits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePIN(tt.pin)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestGenerateOTP(t *testing.T) {
	code, err := GenerateOTP(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, c := range code {
		assert.GreaterOrEqual(t, c, '0')
		assert.LessOrEqual(t, c, '9')
	}

	// Non-positive lengths fall back to the default.
	code, err = GenerateOTP(0)
	require.NoError(t, err)
	assert.Len(t, code, DefaultOTPLength)
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("123456", "123456"))
	assert.False(t, ConstantTimeEquals("123456", "123457"))
	assert.False(t, ConstantTimeEquals("123456", "12345"))
	assert.True(t, ConstantTimeEquals("", ""))
}
