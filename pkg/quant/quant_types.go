package quant

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Fp32 is a price in quote lots per base lot, as a 64-bit fixed point
// number with 32 fractional bits.
type Fp32 uint64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	FracBits = 32
	One      = Fp32(1) << FracBits
)

// ErrRange is matched by every *RangeError.
var ErrRange = errors.New("value out of range")

// RangeError reports a negative or overflowing conversion.
type RangeError struct {
	Op    string
	Value string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range error in %s: %s", e.Op, e.Value)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}

// MarketScale carries the token decimals and lot multipliers a price is
// expressed against. A base lot is BaseMultiplier base tokens; a quote lot
// is QuoteMultiplier quote tokens.
type MarketScale struct {
	BaseDecimals    uint8
	QuoteDecimals   uint8
	BaseMultiplier  uint64
	QuoteMultiplier uint64
}

func (m MarketScale) validate(op string) error {
	if m.BaseMultiplier == 0 || m.QuoteMultiplier == 0 {
		return &RangeError{Op: op, Value: "zero currency multiplier"}
	}
	return nil
}

var twoPow32 = decimal.NewFromInt(1 << FracBits)

func decFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// ToFp32 converts a human price (quote tokens per base token) into the
// on-book fixed point representation:
//
//	round(price * 10^quoteDecimals * baseMultiplier * 2^32 / (10^baseDecimals * quoteMultiplier))
func ToFp32(price decimal.Decimal, m MarketScale) (Fp32, error) {
	if err := m.validate("ToFp32"); err != nil {
		return 0, err
	}
	if price.IsNegative() {
		return 0, &RangeError{Op: "ToFp32", Value: price.String()}
	}

	num := price.
		Mul(decimal.New(1, int32(m.QuoteDecimals))).
		Mul(decFromUint64(m.BaseMultiplier)).
		Mul(twoPow32)
	den := decimal.New(1, int32(m.BaseDecimals)).Mul(decFromUint64(m.QuoteMultiplier))

	res := num.DivRound(den, 0).BigInt()
	if !res.IsUint64() {
		return 0, &RangeError{Op: "ToFp32", Value: price.String()}
	}
	return Fp32(res.Uint64()), nil
}

// FromFp32 is the inverse of ToFp32.
func FromFp32(p Fp32, m MarketScale) (decimal.Decimal, error) {
	if err := m.validate("FromFp32"); err != nil {
		return decimal.Zero, err
	}
	num := decFromUint64(uint64(p)).
		Mul(decimal.New(1, int32(m.BaseDecimals))).
		Mul(decFromUint64(m.QuoteMultiplier))
	den := twoPow32.
		Mul(decimal.New(1, int32(m.QuoteDecimals))).
		Mul(decFromUint64(m.BaseMultiplier))
	return num.DivRound(den, 40), nil
}

// MulFp32 returns floor(qty * p / 2^32), the quote lots for qty base lots.
func MulFp32(qty uint64, p Fp32) (uint64, error) {
	hi, lo := bits.Mul64(qty, uint64(p))
	if hi>>FracBits != 0 {
		return 0, &RangeError{Op: "MulFp32", Value: fmt.Sprintf("%d*%d", qty, p)}
	}
	return hi<<FracBits | lo>>FracBits, nil
}

// DivFp32 returns floor(quote * 2^32 / p), the base lots a quote amount buys.
func DivFp32(quote uint64, p Fp32) (uint64, error) {
	if p == 0 {
		return 0, &RangeError{Op: "DivFp32", Value: "zero price"}
	}
	hi, lo := quote>>FracBits, quote<<FracBits
	if hi >= uint64(p) {
		return 0, &RangeError{Op: "DivFp32", Value: fmt.Sprintf("%d/%d", quote, p)}
	}
	q, _ := bits.Div64(hi, lo, uint64(p))
	return q, nil
}

func (p Fp32) String() string {
	return decFromUint64(uint64(p)).Div(twoPow32).String()
}
