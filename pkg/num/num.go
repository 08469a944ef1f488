// Package num is the fixed-point numeric substrate shared by every
// tradecore component. Prices, quantities and monetary amounts are
// 64-bit signed fixed-point integers scaled by Scale (4 decimal
// places); timestamps are nanoseconds since epoch. This is the only
// package in which a float ever crosses into an int — every other
// component operates exclusively on these integer types.
package num

import (
	"math"
	"math/bits"
	"strconv"
)

// Scale is the fixed-point scale factor: one unit of Fixed represents 1/Scale.
const Scale int64 = 10_000

// Fixed is a base-Scale fixed-point integer used for Price, Qty and Amount.
type Fixed int64

// Zero is the additive identity.
const Zero Fixed = 0

// FromFloat saturates on overflow or non-finite input, per spec §4.A.
// Non-finite values (NaN, +/-Inf) saturate to Zero, matching the
// "unavailable price" convention in spec §9.
func FromFloat(v float64) Fixed {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Zero
	}
	scaled := v * float64(Scale)
	if scaled >= math.MaxInt64 {
		return Fixed(math.MaxInt64)
	}
	if scaled <= math.MinInt64 {
		return Fixed(math.MinInt64)
	}
	return Fixed(int64(scaled))
}

// ToFloat converts back to a float64. Informational only — never fed
// back into a decision path, per spec §4.A.
func (f Fixed) ToFloat() float64 {
	return float64(f) / float64(Scale)
}

// FromString parses a decimal string at an external boundary, saturating
// the same way FromFloat does for malformed/out-of-range input.
func FromString(s string) Fixed {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Zero
	}
	return FromFloat(v)
}

func (f Fixed) String() string {
	return strconv.FormatFloat(f.ToFloat(), 'f', -1, 64)
}

// MarshalText implements encoding.TextMarshaler for zap/JSON logging.
func (f Fixed) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f Fixed) IsZero() bool { return f == Zero }

// Mul multiplies a price by a quantity and returns a fixed-point amount,
// truncating the product toward zero (price.raw*qty.raw / Scale), per
// spec §4.A. The intermediate product is computed at full 128-bit width
// via math/bits; a quotient that would not fit in int64 saturates to
// ±MaxInt64 rather than panicking, the same convention as FromFloat.
func (f Fixed) Mul(other Fixed) Fixed {
	neg := (f < 0) != (other < 0)
	a, b := uint64(f.Abs()), uint64(other.Abs())
	hi, lo := bits.Mul64(a, b)
	if hi >= uint64(Scale) {
		// bits.Div64 requires hi < divisor; past that the quotient
		// cannot fit in 64 bits anyway.
		return saturate(math.MaxUint64, neg)
	}
	q, _ := bits.Div64(hi, lo, uint64(Scale))
	return saturate(q, neg)
}

// Div truncates toward zero; Div by zero returns Zero rather than panicking
// since the book and position layers treat a zero divisor as "no result".
// A quotient beyond the int64 range saturates like Mul.
func (f Fixed) Div(other Fixed) Fixed {
	if other == Zero {
		return Zero
	}
	neg := (f < 0) != (other < 0)
	a, b := uint64(f.Abs()), uint64(other.Abs())
	hi, lo := bits.Mul64(a, uint64(Scale))
	if b <= hi {
		return saturate(math.MaxUint64, neg)
	}
	q, _ := bits.Div64(hi, lo, b)
	return saturate(q, neg)
}

// saturate clamps an unsigned magnitude into the signed fixed-point
// range and applies the sign, the §9 saturation convention applied to
// internal arithmetic.
func saturate(mag uint64, neg bool) Fixed {
	if mag > uint64(math.MaxInt64) {
		mag = uint64(math.MaxInt64)
	}
	if neg {
		return -Fixed(mag)
	}
	return Fixed(mag)
}

func (f Fixed) Add(other Fixed) Fixed { return f + other }
func (f Fixed) Sub(other Fixed) Fixed { return f - other }
func (f Fixed) Neg() Fixed            { return -f }
func (f Fixed) Abs() Fixed {
	if f < 0 {
		return -f
	}
	return f
}

func (f Fixed) Cmp(other Fixed) int {
	switch {
	case f < other:
		return -1
	case f > other:
		return 1
	default:
		return 0
	}
}

func (f Fixed) LessThan(other Fixed) bool    { return f < other }
func (f Fixed) LessOrEqual(other Fixed) bool { return f <= other }
func (f Fixed) GreaterThan(other Fixed) bool { return f > other }
func (f Fixed) GreaterOrEqual(other Fixed) bool { return f >= other }
func (f Fixed) Sign() int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}

// Price is a fixed-point price.
type Price = Fixed

// Qty is a fixed-point quantity.
type Qty = Fixed

// Amount is a fixed-point monetary amount (PnL, commission, notional).
type Amount = Fixed

// Timestamp is nanoseconds since the Unix epoch.
type Timestamp int64

func (t Timestamp) Before(other Timestamp) bool { return t < other }
func (t Timestamp) After(other Timestamp) bool  { return t > other }
func (t Timestamp) IsZero() bool                { return t == 0 }
