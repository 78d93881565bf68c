package math_test

import (
	fpmath "CarbonLedger/internal/math"
	"errors"
	stdmath "math"
	"testing"
)

func TestAddChecked(t *testing.T) {
	got, err := fpmath.AddChecked(70, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestAddChecked_Overflow(t *testing.T) {
	_, err := fpmath.AddChecked(stdmath.MaxInt64, 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestAddChecked_NegativeOperand(t *testing.T) {
	_, err := fpmath.AddChecked(-1, 1)
	if !errors.Is(err, fpmath.ErrUnderflow) {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
}

func TestSubChecked(t *testing.T) {
	got, err := fpmath.SubChecked(100, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 70 {
		t.Errorf("got %d, want 70", got)
	}

	if _, err := fpmath.SubChecked(1, 2); !errors.Is(err, fpmath.ErrUnderflow) {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
}

func TestMulChecked(t *testing.T) {
	got, err := fpmath.MulChecked(10, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}

	if _, err := fpmath.MulChecked(stdmath.MaxInt64, 2); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestProduct_Wide(t *testing.T) {
	p := fpmath.Product(stdmath.MaxInt64, 2)
	if p.String() != "18446744073709551614" {
		t.Errorf("got %s, want 18446744073709551614", p.String())
	}
}
