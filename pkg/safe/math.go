package safe

import (
	"errors"
	"math/bits"
)

// ErrOverflow is returned when an unsigned operation leaves the uint64 range.
var ErrOverflow = errors.New("CORE_SAFE_OVERFLOW")

// ErrDivByZero is returned on division by zero.
var ErrDivByZero = errors.New("CORE_SAFE_DIV_BY_ZERO")

// Add performs uint64 addition and reports overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub performs uint64 subtraction and reports underflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Mul performs uint64 multiplication and reports overflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulDiv computes floor(a*b/d) with a 128-bit intermediate.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, d)
	return quo, nil
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
