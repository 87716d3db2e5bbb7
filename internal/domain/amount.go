package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/uint128"
)

// ErrOverflow is returned when an amount addition exceeds 128 bits.
var ErrOverflow = errors.New("arithmetic overflow")

// ErrInvalidAmount is returned when an amount cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// AmountSize is the length of the binary encoding of an Amount.
const AmountSize = 16

// Amount is an unsigned 128-bit token quantity. The zero value is zero.
type Amount struct {
	u uint128.Uint128
}

// MaxAmount is the largest representable amount (2^128 - 1).
var MaxAmount = Amount{u: uint128.Max}

// NewAmount returns an amount holding v.
func NewAmount(v uint64) Amount {
	return Amount{u: uint128.From64(v)}
}

// ParseAmount parses a base-10 unsigned integer string.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if s[0] == '+' || s[0] == '-' {
		return Amount{}, fmt.Errorf("%w: %q must be unsigned", ErrInvalidAmount, s)
	}

	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if b.BitLen() > 128 {
		return Amount{}, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, s)
	}
	return Amount{u: uint128.FromBig(b)}, nil
}

// MustParseAmount is like ParseAmount but panics on error. Intended for tests and constants.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromBytes decodes the 16-byte big-endian form produced by Bytes.
func AmountFromBytes(b []byte) (Amount, error) {
	if len(b) != AmountSize {
		return Amount{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidAmount, AmountSize, len(b))
	}
	return Amount{u: uint128.FromBytesBE(b)}, nil
}

// CheckedAdd returns a+b, or ErrOverflow if the sum does not fit in 128 bits.
func (a Amount) CheckedAdd(b Amount) (Amount, error) {
	sum := a.u.AddWrap(b.u)
	if sum.Cmp(a.u) < 0 {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return Amount{u: sum}, nil
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.u.Cmp(b.u)
}

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool {
	return a.u.Equals(b.u)
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool {
	return a.u.IsZero()
}

// Big returns a as a big.Int.
func (a Amount) Big() *big.Int {
	return a.u.Big()
}

// Float64 returns an approximation of a, for metrics only.
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.u.Big()).Float64()
	return f
}

// Bytes returns the 16-byte big-endian encoding of a.
func (a Amount) Bytes() []byte {
	b := make([]byte, AmountSize)
	a.u.PutBytesBE(b)
	return b
}

func (a Amount) String() string {
	return a.u.String()
}

// MarshalText encodes a as a decimal string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.u.String()), nil
}

// UnmarshalText decodes a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalJSON encodes a as a quoted decimal string so that values beyond
// 2^53 survive JSON clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.u.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
	} else {
		s = string(data)
	}
	return a.UnmarshalText([]byte(s))
}
