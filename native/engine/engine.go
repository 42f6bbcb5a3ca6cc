package engine

import (
	"errors"
	"math"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"zkusd/core/events"
	"zkusd/core/types"
	nativecommon "zkusd/native/common"
	"zkusd/native/oracle"
	"zkusd/native/vault"
)

var (
	ErrNilState               = errors.New("engine: state not configured")
	ErrNilToken               = errors.New("engine: token capability not configured")
	ErrNilPriceSource         = errors.New("engine: price source not configured")
	ErrNilOracleControl       = errors.New("engine: oracle control not configured")
	ErrProtocolNotInitialised = errors.New("engine: protocol record not initialised")
	ErrAlreadyInitialised     = errors.New("engine: protocol record already initialised")
	ErrVaultExists            = errors.New("engine: vault already exists")
	ErrVaultNotFound          = errors.New("engine: vault not found")
	ErrInsufficientBalance    = errors.New("engine: insufficient balance")
	ErrInteractionFlag        = errors.New("engine: interaction flag not armed")
	ErrCollateralSplit        = errors.New("engine: liquidation split does not conserve collateral")
	ErrCollateralAccounting   = errors.New("engine: tracked collateral accounting underflow")
	ErrApproveBaseDisabled    = errors.New("engine: bulk balance approvals are disabled")
)

type engineState interface {
	GetVault(addr [20]byte) (*vault.Vault, bool, error)
	PutVault(addr [20]byte, v *vault.Vault) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	GetProtocol() (*types.ProtocolRecord, error)
	PutProtocol(record *types.ProtocolRecord) error
}

// TokenCapability is the minimal surface the engine consumes from the
// stablecoin token module. The engine is the exclusive authorized minter;
// the token resolves privilege checks back through the Authority hooks the
// engine implements.
type TokenCapability interface {
	Mint(recipient [20]byte, amount uint64) error
	Burn(payer [20]byte, amount uint64) error
	BalanceOf(addr [20]byte) (uint64, error)
	Circulating() (uint64, error)
	EnsureAccount(addr [20]byte) error
}

// PriceSource yields the settled collateral price for a block height.
type PriceSource interface {
	GetPrice(blockHeight uint64) (uint64, error)
}

// OracleControl is the privileged oracle surface reachable only through
// admin-authorized engine operations.
type OracleControl interface {
	UpdateWhitelist(wl oracle.Whitelist) ([32]byte, [32]byte, error)
	UpdateFallbackPrice(price, blockHeight uint64) error
}

// Engine is the single authority contract: it owns the pooled collateral
// account, creates vault sub-accounts, moves funds, enforces the emergency
// halt and admin authorization, and is the sole entity permitted to mint and
// burn the stablecoin.
type Engine struct {
	state       engineState
	token       TokenCapability
	prices      PriceSource
	oracleCtl   OracleControl
	emitter     events.Emitter
	address     [20]byte
	blockHeight uint64
}

// NewEngine constructs an engine bound to its pooled collateral account
// address, with a no-op event emitter.
func NewEngine(address [20]byte) *Engine {
	return &Engine{address: address, emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the stablecoin capability used for mint/burn.
func (e *Engine) SetToken(token TokenCapability) { e.token = token }

// SetPriceSource configures the oracle read surface.
func (e *Engine) SetPriceSource(prices PriceSource) { e.prices = prices }

// SetOracleControl configures the privileged oracle surface.
func (e *Engine) SetOracleControl(ctl OracleControl) { e.oracleCtl = ctl }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetBlockHeight records the block height used for oracle parity reads.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// Address returns the engine's pooled collateral account address.
func (e *Engine) Address() [20]byte { return e.address }

// DeriveVaultAddress computes the deterministic sub-account address for an
// owner's vault under the given engine.
func DeriveVaultAddress(engineAddr, owner [20]byte) [20]byte {
	digest := ethcrypto.Keccak256(engineAddr[:], owner[:])
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// InitializeProtocol writes the genesis protocol record. It refuses to
// overwrite an existing record.
func (e *Engine) InitializeProtocol(adminAddr [20]byte, oracleFlatFee uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	existing, err := e.state.GetProtocol()
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyInitialised
	}
	return e.state.PutProtocol(&types.ProtocolRecord{
		Admin:         adminAddr,
		OracleFlatFee: oracleFlatFee,
	})
}

// Protocol returns a copy of the packed protocol record.
func (e *Engine) Protocol() (types.ProtocolRecord, error) {
	record, err := e.protocol()
	if err != nil {
		return types.ProtocolRecord{}, err
	}
	return *record, nil
}

// Vault returns the vault record stored at the given sub-account address.
func (e *Engine) Vault(addr [20]byte) (*vault.Vault, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	return e.state.GetVault(addr)
}

func (e *Engine) protocol() (*types.ProtocolRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.state.GetProtocol()
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrProtocolNotInitialised
	}
	return record, nil
}

func (e *Engine) guardedProtocol() (*types.ProtocolRecord, error) {
	record, err := e.protocol()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (e *Engine) loadVault(addr [20]byte) (*vault.Vault, error) {
	v, found, err := e.state.GetVault(addr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

// CreateVault deploys a vault for the sender at the engine-derived
// sub-account address. Creation is idempotency-guarded: deploying twice for
// the same owner fails.
func (e *Engine) CreateVault(owner [20]byte) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, ErrNilState
	}
	if _, err := e.guardedProtocol(); err != nil {
		return [20]byte{}, err
	}
	addr := DeriveVaultAddress(e.address, owner)
	_, found, err := e.state.GetVault(addr)
	if err != nil {
		return [20]byte{}, err
	}
	if found {
		return [20]byte{}, ErrVaultExists
	}
	if err := e.state.PutVault(addr, &vault.Vault{Owner: owner}); err != nil {
		return [20]byte{}, err
	}
	e.emitter.Emit(events.NewVault{VaultAddress: addr, Owner: owner})
	return addr, nil
}

// DepositCollateral moves collateral from the caller into the engine pool and
// credits the vault. No price check: deposits can never reduce health.
func (e *Engine) DepositCollateral(caller, vaultAddr [20]byte, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	protocol, err := e.guardedProtocol()
	if err != nil {
		return err
	}
	v, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if err := v.Deposit(amount, caller); err != nil {
		return err
	}

	callerAcc, err := e.state.GetAccount(caller)
	if err != nil {
		return err
	}
	if callerAcc.BalanceCollateral < amount {
		return ErrInsufficientBalance
	}
	poolAcc, err := e.state.GetAccount(e.address)
	if err != nil {
		return err
	}
	if poolAcc.BalanceCollateral > math.MaxUint64-amount {
		return vault.ErrOverflow
	}
	if protocol.TotalCollateral > math.MaxUint64-amount {
		return vault.ErrOverflow
	}

	callerAcc.BalanceCollateral -= amount
	poolAcc.BalanceCollateral += amount
	protocol.TotalCollateral += amount

	if err := e.state.PutAccount(caller, callerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.address, poolAcc); err != nil {
		return err
	}
	if err := e.state.PutProtocol(protocol); err != nil {
		return err
	}
	if err := e.state.PutVault(vaultAddr, v); err != nil {
		return err
	}

	e.emitter.Emit(events.DepositCollateral{
		VaultAddress:          vaultAddr,
		AmountDeposited:       amount,
		VaultCollateralAmount: v.CollateralAmount,
		VaultDebtAmount:       v.DebtAmount,
	})
	return nil
}

// RedeemCollateral releases collateral from the vault back to its owner,
// provided the post-withdrawal position stays healthy at the current price.
func (e *Engine) RedeemCollateral(caller, vaultAddr [20]byte, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.prices == nil {
		return ErrNilPriceSource
	}
	protocol, err := e.guardedProtocol()
	if err != nil {
		return err
	}
	price, err := e.prices.GetPrice(e.blockHeight)
	if err != nil {
		return err
	}
	v, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if err := v.Redeem(amount, caller, price); err != nil {
		return err
	}

	poolAcc, err := e.state.GetAccount(e.address)
	if err != nil {
		return err
	}
	if poolAcc.BalanceCollateral < amount {
		return ErrInsufficientBalance
	}
	ownerAcc, err := e.state.GetAccount(caller)
	if err != nil {
		return err
	}
	if ownerAcc.BalanceCollateral > math.MaxUint64-amount {
		return vault.ErrOverflow
	}
	if protocol.TotalCollateral < amount {
		return ErrCollateralAccounting
	}

	poolAcc.BalanceCollateral -= amount
	ownerAcc.BalanceCollateral += amount
	protocol.TotalCollateral -= amount

	if err := e.state.PutAccount(e.address, poolAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(caller, ownerAcc); err != nil {
		return err
	}
	if err := e.state.PutProtocol(protocol); err != nil {
		return err
	}
	if err := e.state.PutVault(vaultAddr, v); err != nil {
		return err
	}

	e.emitter.Emit(events.RedeemCollateral{
		VaultAddress:          vaultAddr,
		AmountRedeemed:        amount,
		VaultCollateralAmount: v.CollateralAmount,
		VaultDebtAmount:       v.DebtAmount,
		Price:                 price,
	})
	return nil
}

// MintZkUsd increases the vault debt and mints stablecoin to the vault owner.
// The one-shot interaction flag is armed immediately before the token mint;
// the token's CanMint hook consumes it, which is the mechanism restricting
// minting to engine-authorized flows.
func (e *Engine) MintZkUsd(caller, vaultAddr [20]byte, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.token == nil {
		return ErrNilToken
	}
	if e.prices == nil {
		return ErrNilPriceSource
	}
	protocol, err := e.guardedProtocol()
	if err != nil {
		return err
	}
	price, err := e.prices.GetPrice(e.blockHeight)
	if err != nil {
		return err
	}
	v, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if err := v.Mint(amount, caller, price); err != nil {
		return err
	}
	if err := e.state.PutVault(vaultAddr, v); err != nil {
		return err
	}

	protocol.Interaction = types.InteractionArmedForOneCall
	if err := e.state.PutProtocol(protocol); err != nil {
		return err
	}
	if err := e.token.Mint(v.Owner, amount); err != nil {
		return err
	}

	e.emitter.Emit(events.MintZkUsd{
		VaultAddress:          vaultAddr,
		AmountMinted:          amount,
		VaultCollateralAmount: v.CollateralAmount,
		VaultDebtAmount:       v.DebtAmount,
		Price:                 price,
	})
	return nil
}

// BurnZkUsd repays vault debt by burning stablecoin from the caller's
// balance. Burning needs no interaction-flag gate: it is not a privileged
// action on the token side.
func (e *Engine) BurnZkUsd(caller, vaultAddr [20]byte, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.token == nil {
		return ErrNilToken
	}
	if _, err := e.guardedProtocol(); err != nil {
		return err
	}
	v, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if err := v.Burn(amount, caller); err != nil {
		return err
	}
	if err := e.token.Burn(caller, amount); err != nil {
		return err
	}
	if err := e.state.PutVault(vaultAddr, v); err != nil {
		return err
	}

	e.emitter.Emit(events.BurnZkUsd{
		VaultAddress:          vaultAddr,
		AmountBurned:          amount,
		VaultCollateralAmount: v.CollateralAmount,
		VaultDebtAmount:       v.DebtAmount,
	})
	return nil
}

// Liquidate seizes an undercollateralized vault: the liquidator's stablecoin
// covers the full outstanding debt and the collateral is split between
// liquidator and vault owner per the bonus schedule.
func (e *Engine) Liquidate(liquidator, vaultAddr [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.token == nil {
		return ErrNilToken
	}
	if e.prices == nil {
		return ErrNilPriceSource
	}
	protocol, err := e.guardedProtocol()
	if err != nil {
		return err
	}
	price, err := e.prices.GetPrice(e.blockHeight)
	if err != nil {
		return err
	}
	v, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	owner := v.Owner
	result, err := v.Liquidate(price)
	if err != nil {
		return err
	}
	if result.LiquidatorCollateral+result.VaultOwnerCollateral != result.CollateralLiquidated {
		return ErrCollateralSplit
	}

	if err := e.token.Burn(liquidator, result.DebtRepaid); err != nil {
		return err
	}

	poolAcc, err := e.state.GetAccount(e.address)
	if err != nil {
		return err
	}
	if poolAcc.BalanceCollateral < result.CollateralLiquidated {
		return ErrInsufficientBalance
	}
	liquidatorAcc, err := e.state.GetAccount(liquidator)
	if err != nil {
		return err
	}
	// An owner liquidating their own vault receives both splits on the same
	// account record; loading it twice would drop one of the credits.
	ownerAcc := liquidatorAcc
	if owner != liquidator {
		ownerAcc, err = e.state.GetAccount(owner)
		if err != nil {
			return err
		}
	}
	if liquidatorAcc.BalanceCollateral > math.MaxUint64-result.LiquidatorCollateral {
		return vault.ErrOverflow
	}
	liquidatorAcc.BalanceCollateral += result.LiquidatorCollateral
	if ownerAcc.BalanceCollateral > math.MaxUint64-result.VaultOwnerCollateral {
		return vault.ErrOverflow
	}
	ownerAcc.BalanceCollateral += result.VaultOwnerCollateral
	if protocol.TotalCollateral < result.CollateralLiquidated {
		return ErrCollateralAccounting
	}

	poolAcc.BalanceCollateral -= result.CollateralLiquidated
	protocol.TotalCollateral -= result.CollateralLiquidated

	if err := e.state.PutAccount(e.address, poolAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(liquidator, liquidatorAcc); err != nil {
		return err
	}
	if liquidator != owner {
		if err := e.state.PutAccount(owner, ownerAcc); err != nil {
			return err
		}
	}
	if err := e.state.PutProtocol(protocol); err != nil {
		return err
	}
	if err := e.state.PutVault(vaultAddr, v); err != nil {
		return err
	}

	e.emitter.Emit(events.Liquidate{
		VaultAddress:              vaultAddr,
		Liquidator:                liquidator,
		VaultCollateralLiquidated: result.CollateralLiquidated,
		VaultDebtRepaid:           result.DebtRepaid,
		LiquidatorCollateral:      result.LiquidatorCollateral,
		VaultOwnerCollateral:      result.VaultOwnerCollateral,
		Price:                     price,
	})
	return nil
}

// UpdateVaultOwner reassigns the vault to a new owner. Only the current owner
// may trigger it; the new owner's token account is created eagerly so later
// mints to it cannot fail on a missing record.
func (e *Engine) UpdateVaultOwner(caller, vaultAddr, newOwner [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.token == nil {
		return ErrNilToken
	}
	if _, err := e.guardedProtocol(); err != nil {
		return err
	}
	v, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return vault.ErrOwnerMismatch
	}
	previous := v.Owner
	v.Owner = newOwner
	if err := e.token.EnsureAccount(newOwner); err != nil {
		return err
	}
	if err := e.state.PutVault(vaultAddr, v); err != nil {
		return err
	}

	e.emitter.Emit(events.VaultOwnerUpdated{
		VaultAddress:  vaultAddr,
		PreviousOwner: previous,
		NewOwner:      newOwner,
	})
	return nil
}

// AssertInteractionFlag requires the one-shot flag to be armed, clears it,
// and reports success. Each mint consumes exactly one flag-set; a second
// check without an intervening arm fails, which is the replay guard.
func (e *Engine) AssertInteractionFlag() (bool, error) {
	protocol, err := e.protocol()
	if err != nil {
		return false, err
	}
	if protocol.Interaction != types.InteractionArmedForOneCall {
		return false, ErrInteractionFlag
	}
	protocol.Interaction = types.InteractionIdle
	if err := e.state.PutProtocol(protocol); err != nil {
		return false, err
	}
	return true, nil
}

// CanMint implements the token Authority hook: it consumes the armed
// interaction flag, so only mints initiated through MintZkUsd succeed.
func (e *Engine) CanMint() bool {
	ok, err := e.AssertInteractionFlag()
	return err == nil && ok
}

// CanBurn implements the token Authority hook. Burning is unprivileged.
func (e *Engine) CanBurn() bool { return true }

// ApproveBase is the bulk token-account-update approval hook. It is
// explicitly disabled: the engine refuses to approve arbitrary balance
// updates on accounts it governs, forcing all balance changes through the
// explicit methods above and closing the unbalanced-update attack surface.
func (e *Engine) ApproveBase() error { return ErrApproveBaseDisabled }
