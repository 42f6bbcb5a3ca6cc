package types

// Account tracks the fungible balances held by a protocol participant. All
// amounts use the base asset's smallest unit (9 decimal places); they fit in a
// uint64 by construction since both assets cap supply well below 2^64 units.
type Account struct {
	// Nonce counts accepted state-changing submissions from this account and
	// guards against transaction replay.
	Nonce uint64 `json:"nonce"`
	// BalanceCollateral is the spendable balance of the volatile collateral
	// asset.
	BalanceCollateral uint64 `json:"balanceCollateral"`
	// BalanceZkUsd is the spendable balance of the minted stablecoin.
	BalanceZkUsd uint64 `json:"balanceZkUsd"`
}
