// internal/math/checked.go
package math

import (
	"errors"
	stdmath "math"
	"math/big"
	"sync"
)

// ErrOverflow is returned when an operation would leave the int64 range.
var ErrOverflow = errors.New("math: arithmetic overflow")

// ErrUnderflow is returned when a subtraction would go below zero.
var ErrUnderflow = errors.New("math: arithmetic underflow")

// AddChecked returns a + b for non-negative operands or ErrOverflow.
func AddChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrUnderflow
	}
	if a > stdmath.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubChecked returns a - b and fails closed if the result would be negative.
func SubChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrUnderflow
	}
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// wide is a pooled big.Int for intermediate products
var widePool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

// MulChecked returns a * b or ErrOverflow if the product leaves the int64 range.
func MulChecked(a, b int64) (int64, error) {
	product := widePool.Get().(*big.Int)
	defer func() {
		product.SetInt64(0)
		widePool.Put(product)
	}()

	product.Mul(big.NewInt(a), big.NewInt(b))
	if !product.IsInt64() {
		return 0, ErrOverflow
	}
	return product.Int64(), nil
}

// Product multiplies a and b without a width limit.
// Used for derived values (commitment total value) that are reported, never stored.
func Product(a, b int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
}
