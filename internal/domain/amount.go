package domain

import (
	"math/big"
	"regexp"
)

var amountPattern = regexp.MustCompile(`^-?[0-9]+$`)

// Amount is an arbitrary-precision integer carried as a base-10 string.
// Values stay strings on the wire and in storage so canonical JSON never
// rounds them through a float.
type Amount string

// ZeroAmount is the canonical zero value
const ZeroAmount Amount = "0"

// NewAmount converts a big.Int into an Amount. A nil value is zero.
func NewAmount(v *big.Int) Amount {
	if v == nil {
		return ZeroAmount
	}
	return Amount(v.String())
}

// AmountFromUint64 converts a uint64 into an Amount
func AmountFromUint64(v uint64) Amount {
	return NewAmount(new(big.Int).SetUint64(v))
}

// Valid reports whether the amount is a well-formed integer
func (a Amount) Valid() bool {
	return amountPattern.MatchString(string(a))
}

// Big returns the amount as a big.Int. Empty or malformed amounts are zero.
func (a Amount) Big() *big.Int {
	v, ok := new(big.Int).SetString(string(a), 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// IsZero reports whether the amount equals zero
func (a Amount) IsZero() bool {
	return a.Big().Sign() == 0
}

// Cmp compares two amounts numerically
func (a Amount) Cmp(b Amount) int {
	return a.Big().Cmp(b.Big())
}

// Equal reports whether two amounts are numerically equal
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Add returns a + b
func (a Amount) Add(b Amount) Amount {
	return NewAmount(new(big.Int).Add(a.Big(), b.Big()))
}

// Mul returns a * b
func (a Amount) Mul(b Amount) Amount {
	return NewAmount(new(big.Int).Mul(a.Big(), b.Big()))
}

// Quo returns a / n truncated toward zero. Dividing by zero returns zero.
func (a Amount) Quo(n uint64) Amount {
	if n == 0 {
		return ZeroAmount
	}
	return NewAmount(new(big.Int).Quo(a.Big(), new(big.Int).SetUint64(n)))
}

// Normalize returns the canonical decimal form of the amount
func (a Amount) Normalize() Amount {
	return NewAmount(a.Big())
}

func (a Amount) String() string {
	return string(a)
}
