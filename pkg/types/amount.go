// Package types holds shared value types used across domains.
package types

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrAmountUnderflow = errors.New("amount_underflow")
)

// Amount is an unsigned arbitrary-precision integer in token base units
// (USDC-style, 6 implied decimals). On-chain values span the full uint256
// range, so it is never represented as a native integer or float.
type Amount struct {
	value apd.BigInt
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// NewAmount builds an Amount from a native unsigned integer.
func NewAmount(v uint64) Amount {
	var a Amount
	a.value.SetUint64(v)
	return a
}

// ParseAmount parses a base-10 unsigned integer string.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrInvalidAmount
	}
	var a Amount
	if _, ok := a.value.SetString(s, 10); !ok {
		return Amount{}, ErrInvalidAmount
	}
	if a.value.Sign() < 0 {
		return Amount{}, ErrInvalidAmount
	}
	return a, nil
}

// MustAmount parses s and panics on malformed input. Test helper.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(fmt.Sprintf("types: bad amount %q", s))
	}
	return a
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.value.Add(&a.value, &b.value)
	return out
}

// Sub returns a - b, or ErrAmountUnderflow if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	out.value.Sub(&a.value, &b.value)
	if out.value.Sign() < 0 {
		return Amount{}, ErrAmountUnderflow
	}
	return out, nil
}

// Cmp returns -1, 0 or 1 comparing a against b.
func (a Amount) Cmp(b Amount) int { return a.value.Cmp(&b.value) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.value.Sign() == 0 }

// String renders the amount as a base-10 integer string.
func (a Amount) String() string { return a.value.String() }

// GormDataType stores amounts as numeric text so no precision is lost.
func (Amount) GormDataType() string { return "numeric" }

// Value implements driver.Valuer.
func (a Amount) Value() (driver.Value, error) { return a.value.String(), nil }

// Scan implements sql.Scanner. Accepts text, bytes and native integers.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := ParseAmount(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		if v < 0 {
			return ErrInvalidAmount
		}
		*a = NewAmount(uint64(v))
		return nil
	case uint64:
		*a = NewAmount(v)
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into Amount", src)
	}
}

// MarshalJSON renders the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.value.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted decimal strings and bare integers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	s = strings.Trim(s, `"`)
	if s == "null" || s == "" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
