package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("10000000")
	assert.NoError(t, err)
	assert.Equal(t, "10000000", a.String())

	// full uint256 range must round-trip
	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	a, err = ParseAmount(huge)
	assert.NoError(t, err)
	assert.Equal(t, huge, a.String())

	_, err = ParseAmount("-1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("1.5")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmountArithmetic(t *testing.T) {
	limit := NewAmount(10_000_000)
	cost := NewAmount(50_000)

	spent := Zero().Add(cost).Add(cost).Add(cost)
	assert.Equal(t, "150000", spent.String())

	remaining, err := limit.Sub(spent)
	assert.NoError(t, err)
	assert.Equal(t, "9850000", remaining.String())

	_, err = cost.Sub(limit)
	assert.ErrorIs(t, err, ErrAmountUnderflow)

	assert.Equal(t, 0, remaining.Cmp(MustAmount("9850000")))
	assert.True(t, Zero().IsZero())
	assert.Equal(t, "0", Zero().String())
}

func TestAmountJSON(t *testing.T) {
	out, err := json.Marshal(NewAmount(50_000))
	assert.NoError(t, err)
	assert.Equal(t, `"50000"`, string(out))

	var a Amount
	assert.NoError(t, json.Unmarshal([]byte(`"123"`), &a))
	assert.Equal(t, "123", a.String())
	assert.NoError(t, json.Unmarshal([]byte(`456`), &a))
	assert.Equal(t, "456", a.String())
}

func TestAmountScan(t *testing.T) {
	var a Amount
	assert.NoError(t, a.Scan("789"))
	assert.Equal(t, "789", a.String())
	assert.NoError(t, a.Scan([]byte("42")))
	assert.Equal(t, "42", a.String())
	assert.NoError(t, a.Scan(int64(7)))
	assert.Equal(t, "7", a.String())
	assert.Error(t, a.Scan(3.14))
}
