package vault

import "errors"

var (
	ErrNilVault               = errors.New("vault: not initialised")
	ErrAmountZero             = errors.New("vault: amount must be positive")
	ErrOwnerMismatch          = errors.New("vault: sender is not the vault owner")
	ErrInsufficientCollateral = errors.New("vault: amount exceeds locked collateral")
	ErrAmountExceedsDebt      = errors.New("vault: amount exceeds outstanding debt")
	ErrHealthFactorTooLow     = errors.New("vault: health factor below safe threshold")
	ErrHealthFactorTooHigh    = errors.New("vault: position not eligible for liquidation")
)

// Vault is the per-user collateral/debt record. The zero collateral, zero
// debt state is the valid post-liquidation (and pre-funding) state; vaults
// are zeroed on liquidation, never removed.
type Vault struct {
	CollateralAmount uint64   `json:"collateralAmount"`
	DebtAmount       uint64   `json:"debtAmount"`
	Owner            [20]byte `json:"owner"`
}

// LiquidationResult is the ephemeral split computed at the moment of
// liquidation. LiquidatorCollateral + VaultOwnerCollateral always equals
// CollateralLiquidated, including in the shortfall case where the owner
// receives zero.
type LiquidationResult struct {
	CollateralLiquidated uint64
	DebtRepaid           uint64
	LiquidatorCollateral uint64
	VaultOwnerCollateral uint64
}

// Clone returns a copy so callers can snapshot pre-operation state.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	cloned := *v
	return &cloned
}

// HealthFactor evaluates the vault at the supplied price.
func (v *Vault) HealthFactor(price uint64) (uint64, error) {
	if v == nil {
		return 0, ErrNilVault
	}
	return HealthFactor(v.CollateralAmount, v.DebtAmount, price)
}

// Deposit locks additional collateral. Deposits can never reduce health, so
// no price check is performed.
func (v *Vault) Deposit(amount uint64, owner [20]byte) error {
	if v == nil {
		return ErrNilVault
	}
	if amount == 0 {
		return ErrAmountZero
	}
	if owner != v.Owner {
		return ErrOwnerMismatch
	}
	updated, err := addChecked(v.CollateralAmount, amount)
	if err != nil {
		return err
	}
	v.CollateralAmount = updated
	return nil
}

// Mint increases the vault debt provided the post-mint health factor stays at
// or above the safe threshold.
func (v *Vault) Mint(amount uint64, owner [20]byte, price uint64) error {
	if v == nil {
		return ErrNilVault
	}
	if amount == 0 {
		return ErrAmountZero
	}
	if owner != v.Owner {
		return ErrOwnerMismatch
	}
	projectedDebt, err := addChecked(v.DebtAmount, amount)
	if err != nil {
		return err
	}
	factor, err := HealthFactor(v.CollateralAmount, projectedDebt, price)
	if err != nil {
		return err
	}
	if factor < MinSafeHealthFactor {
		return ErrHealthFactorTooLow
	}
	v.DebtAmount = projectedDebt
	return nil
}

// Redeem releases collateral provided the post-withdrawal position remains
// healthy against the current debt.
func (v *Vault) Redeem(amount uint64, owner [20]byte, price uint64) error {
	if v == nil {
		return ErrNilVault
	}
	if amount == 0 {
		return ErrAmountZero
	}
	if amount > v.CollateralAmount {
		return ErrInsufficientCollateral
	}
	if owner != v.Owner {
		return ErrOwnerMismatch
	}
	remaining := v.CollateralAmount - amount
	factor, err := HealthFactor(remaining, v.DebtAmount, price)
	if err != nil {
		return err
	}
	if factor < MinSafeHealthFactor {
		return ErrHealthFactorTooLow
	}
	v.CollateralAmount = remaining
	return nil
}

// Burn repays outstanding debt. Burning only improves health, so no price
// check is performed.
func (v *Vault) Burn(amount uint64, owner [20]byte) error {
	if v == nil {
		return ErrNilVault
	}
	if amount == 0 {
		return ErrAmountZero
	}
	if amount > v.DebtAmount {
		return ErrAmountExceedsDebt
	}
	if owner != v.Owner {
		return ErrOwnerMismatch
	}
	v.DebtAmount -= amount
	return nil
}

// Liquidate zeroes the vault and computes the collateral split. Anyone may
// trigger it once the health factor has fallen to or below the safe
// threshold. When the bonus-adjusted entitlement exceeds the locked
// collateral the liquidator takes everything and the owner receives zero;
// the protocol favors solvency over fairness in severe shortfalls.
func (v *Vault) Liquidate(price uint64) (LiquidationResult, error) {
	if v == nil {
		return LiquidationResult{}, ErrNilVault
	}
	factor, err := v.HealthFactor(price)
	if err != nil {
		return LiquidationResult{}, err
	}
	if factor > MinSafeHealthFactor {
		return LiquidationResult{}, ErrHealthFactorTooHigh
	}
	debtValueInCollateral, err := MulDiv(v.DebtAmount, Scale, price)
	if err != nil {
		return LiquidationResult{}, err
	}
	entitlement, err := MulDiv(debtValueInCollateral, LiquidationBonusPct, RatioPrecision)
	if err != nil {
		return LiquidationResult{}, err
	}
	liquidatorCollateral := entitlement
	if liquidatorCollateral > v.CollateralAmount {
		liquidatorCollateral = v.CollateralAmount
	}
	result := LiquidationResult{
		CollateralLiquidated: v.CollateralAmount,
		DebtRepaid:           v.DebtAmount,
		LiquidatorCollateral: liquidatorCollateral,
		VaultOwnerCollateral: v.CollateralAmount - liquidatorCollateral,
	}
	v.CollateralAmount = 0
	v.DebtAmount = 0
	return result, nil
}
