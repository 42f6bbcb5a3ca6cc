package events

import (
	"strconv"

	"zkusd/core/types"
	"zkusd/crypto"
)

const (
	// TypeNewVault is emitted when the engine deploys a vault sub-account.
	TypeNewVault = "vault.created"
	// TypeDepositCollateral is emitted when collateral enters the pool.
	TypeDepositCollateral = "vault.depositCollateral"
	// TypeRedeemCollateral is emitted when collateral leaves the pool.
	TypeRedeemCollateral = "vault.redeemCollateral"
	// TypeMintZkUsd is emitted when stablecoin is minted against a vault.
	TypeMintZkUsd = "vault.mintZkUsd"
	// TypeBurnZkUsd is emitted when stablecoin debt is repaid and burned.
	TypeBurnZkUsd = "vault.burnZkUsd"
	// TypeLiquidate is emitted when an undercollateralized vault is seized.
	TypeLiquidate = "vault.liquidate"
	// TypeVaultOwnerUpdated is emitted when a vault owner is reassigned.
	TypeVaultOwnerUpdated = "vault.ownerUpdated"
)

func vaultAddr(raw [20]byte) string {
	return crypto.NewAddress(crypto.VaultPrefix, raw[:]).String()
}

func accountAddr(raw [20]byte) string {
	return crypto.NewAddress(crypto.ZKPrefix, raw[:]).String()
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

type NewVault struct {
	VaultAddress [20]byte
	Owner        [20]byte
}

func (NewVault) EventType() string { return TypeNewVault }

func (e NewVault) Event() *types.Event {
	return &types.Event{
		Type: TypeNewVault,
		Attributes: map[string]string{
			"vaultAddress": vaultAddr(e.VaultAddress),
			"owner":        accountAddr(e.Owner),
		},
	}
}

type DepositCollateral struct {
	VaultAddress          [20]byte
	AmountDeposited       uint64
	VaultCollateralAmount uint64
	VaultDebtAmount       uint64
}

func (DepositCollateral) EventType() string { return TypeDepositCollateral }

func (e DepositCollateral) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositCollateral,
		Attributes: map[string]string{
			"vaultAddress":          vaultAddr(e.VaultAddress),
			"amountDeposited":       formatAmount(e.AmountDeposited),
			"vaultCollateralAmount": formatAmount(e.VaultCollateralAmount),
			"vaultDebtAmount":       formatAmount(e.VaultDebtAmount),
		},
	}
}

type RedeemCollateral struct {
	VaultAddress          [20]byte
	AmountRedeemed        uint64
	VaultCollateralAmount uint64
	VaultDebtAmount       uint64
	Price                 uint64
}

func (RedeemCollateral) EventType() string { return TypeRedeemCollateral }

func (e RedeemCollateral) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemCollateral,
		Attributes: map[string]string{
			"vaultAddress":          vaultAddr(e.VaultAddress),
			"amountRedeemed":        formatAmount(e.AmountRedeemed),
			"vaultCollateralAmount": formatAmount(e.VaultCollateralAmount),
			"vaultDebtAmount":       formatAmount(e.VaultDebtAmount),
			"price":                 formatAmount(e.Price),
		},
	}
}

type MintZkUsd struct {
	VaultAddress          [20]byte
	AmountMinted          uint64
	VaultCollateralAmount uint64
	VaultDebtAmount       uint64
	Price                 uint64
}

func (MintZkUsd) EventType() string { return TypeMintZkUsd }

func (e MintZkUsd) Event() *types.Event {
	return &types.Event{
		Type: TypeMintZkUsd,
		Attributes: map[string]string{
			"vaultAddress":          vaultAddr(e.VaultAddress),
			"amountMinted":          formatAmount(e.AmountMinted),
			"vaultCollateralAmount": formatAmount(e.VaultCollateralAmount),
			"vaultDebtAmount":       formatAmount(e.VaultDebtAmount),
			"price":                 formatAmount(e.Price),
		},
	}
}

type BurnZkUsd struct {
	VaultAddress          [20]byte
	AmountBurned          uint64
	VaultCollateralAmount uint64
	VaultDebtAmount       uint64
}

func (BurnZkUsd) EventType() string { return TypeBurnZkUsd }

func (e BurnZkUsd) Event() *types.Event {
	return &types.Event{
		Type: TypeBurnZkUsd,
		Attributes: map[string]string{
			"vaultAddress":          vaultAddr(e.VaultAddress),
			"amountBurned":          formatAmount(e.AmountBurned),
			"vaultCollateralAmount": formatAmount(e.VaultCollateralAmount),
			"vaultDebtAmount":       formatAmount(e.VaultDebtAmount),
		},
	}
}

type Liquidate struct {
	VaultAddress              [20]byte
	Liquidator                [20]byte
	VaultCollateralLiquidated uint64
	VaultDebtRepaid           uint64
	LiquidatorCollateral      uint64
	VaultOwnerCollateral      uint64
	Price                     uint64
}

func (Liquidate) EventType() string { return TypeLiquidate }

func (e Liquidate) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidate,
		Attributes: map[string]string{
			"vaultAddress":              vaultAddr(e.VaultAddress),
			"liquidator":                accountAddr(e.Liquidator),
			"vaultCollateralLiquidated": formatAmount(e.VaultCollateralLiquidated),
			"vaultDebtRepaid":           formatAmount(e.VaultDebtRepaid),
			"liquidatorCollateral":      formatAmount(e.LiquidatorCollateral),
			"vaultOwnerCollateral":      formatAmount(e.VaultOwnerCollateral),
			"price":                     formatAmount(e.Price),
		},
	}
}

type VaultOwnerUpdated struct {
	VaultAddress  [20]byte
	PreviousOwner [20]byte
	NewOwner      [20]byte
}

func (VaultOwnerUpdated) EventType() string { return TypeVaultOwnerUpdated }

func (e VaultOwnerUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultOwnerUpdated,
		Attributes: map[string]string{
			"vaultAddress":  vaultAddr(e.VaultAddress),
			"previousOwner": accountAddr(e.PreviousOwner),
			"newOwner":      accountAddr(e.NewOwner),
		},
	}
}
