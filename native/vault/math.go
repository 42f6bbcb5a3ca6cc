package vault

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

const (
	// Scale is the fixed-point scale shared by both assets (9 decimal places,
	// matching the base asset's smallest unit).
	Scale uint64 = 1_000_000_000
	// RatioPrecision expresses collateralization percentages with 100 as unity.
	RatioPrecision uint64 = 100
	// CollateralRatio is the minimum over-collateralization requirement (150%).
	CollateralRatio uint64 = 150
	// LiquidationBonusPct is the liquidator entitlement relative to the debt
	// value in collateral (110% = 10% bonus).
	LiquidationBonusPct uint64 = 110
	// MinSafeHealthFactor is the boundary between a safe and a liquidatable
	// position.
	MinSafeHealthFactor uint64 = 100
	// MaxHealthFactor is the sentinel health factor of a zero-debt vault.
	MaxHealthFactor uint64 = math.MaxUint64
)

var (
	ErrDivisionByZero = errors.New("vault: division by zero")
	ErrOverflow       = errors.New("vault: arithmetic overflow")
)

// IntegerDivide computes floor(numerator/denominator) and fails on a zero
// denominator. The quotient q always satisfies numerator == q*denominator + r
// with 0 <= r < denominator.
func IntegerDivide(numerator, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}
	return numerator / denominator, nil
}

// SafeDivide wraps IntegerDivide and substitutes the maximum representable
// value for a zero denominator. Health factors of zero-debt vaults become
// "infinite" instead of aborting the transaction.
func SafeDivide(numerator, denominator uint64) uint64 {
	if denominator == 0 {
		return MaxHealthFactor
	}
	return numerator / denominator
}

// MulDiv computes floor(a*b/den) through a 256-bit intermediate so the
// product cannot wrap. ErrOverflow is returned when the quotient exceeds the
// representable range.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivisionByZero
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	product.Div(product, uint256.NewInt(den))
	if !product.IsUint64() {
		return 0, ErrOverflow
	}
	return product.Uint64(), nil
}

// HealthFactor computes the normalized solvency measure shared by mint,
// redeem and liquidate:
//
//	collateralValueUsd = floor(collateral * price / Scale)
//	maxAllowedDebt     = floor(collateralValueUsd * 100 / 150) * 100
//	healthFactor       = SafeDivide(maxAllowedDebt, debt)
//
// A factor >= 100 is safe; < 100 marks the position liquidatable.
func HealthFactor(collateral, debt, price uint64) (uint64, error) {
	collateralValueUsd, err := MulDiv(collateral, price, Scale)
	if err != nil {
		return 0, err
	}
	maxAllowedDebt, err := MulDiv(collateralValueUsd, RatioPrecision, CollateralRatio)
	if err != nil {
		return 0, err
	}
	if maxAllowedDebt > math.MaxUint64/RatioPrecision {
		return 0, ErrOverflow
	}
	maxAllowedDebt *= RatioPrecision
	return SafeDivide(maxAllowedDebt, debt), nil
}

func addChecked(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}
