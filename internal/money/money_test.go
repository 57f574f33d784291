package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQ2RoundsHalfUp(t *testing.T) {
	testCases := []struct {
		in       string
		expected string
	}{
		{"10.005", "10.01"},
		{"10.004", "10.00"},
		{"10.015", "10.02"},
		{"-10.005", "-10.01"},
		{"0.1", "0.10"},
		{"3", "3.00"},
	}

	for _, tc := range testCases {
		d, err := decimal.NewFromString(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, Q2(d).StringFixed(2), "input %s", tc.in)
	}
}

func TestFromString(t *testing.T) {
	d, err := FromString("19.999")
	require.NoError(t, err)
	assert.Equal(t, "20.00", d.StringFixed(2))

	_, err = FromString("not-money")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid money amount")
}

func TestZeroIsTwoDecimal(t *testing.T) {
	assert.Equal(t, "0.00", Zero.StringFixed(2))
	assert.True(t, Zero.IsZero())
}

func TestFromFloat(t *testing.T) {
	assert.Equal(t, "10.50", FromFloat(10.499999999).StringFixed(2))
}
