package engine

import (
	"errors"
	"testing"

	"zkusd/core/types"
	"zkusd/crypto"
	"zkusd/native/admin"
	nativecommon "zkusd/native/common"
	"zkusd/native/oracle"
	"zkusd/native/token"
	"zkusd/native/vault"
)

type mockState struct {
	vaults        map[[20]byte]*vault.Vault
	accounts      map[[20]byte]*types.Account
	protocol      *types.ProtocolRecord
	supply        uint64
	priceState    oracle.PriceState
	pending       []oracle.PendingAction
	whitelistHash [32]byte
}

func newMockState() *mockState {
	return &mockState{
		vaults:   make(map[[20]byte]*vault.Vault),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) GetVault(addr [20]byte) (*vault.Vault, bool, error) {
	if v, ok := m.vaults[addr]; ok {
		return v.Clone(), true, nil
	}
	return nil, false, nil
}

func (m *mockState) PutVault(addr [20]byte, v *vault.Vault) error {
	m.vaults[addr] = v.Clone()
	return nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	if account, ok := m.accounts[addr]; ok {
		copied := *account
		return &copied, nil
	}
	return &types.Account{}, nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	copied := *account
	m.accounts[addr] = &copied
	return nil
}

func (m *mockState) GetProtocol() (*types.ProtocolRecord, error) {
	if m.protocol == nil {
		return nil, nil
	}
	copied := *m.protocol
	return &copied, nil
}

func (m *mockState) PutProtocol(record *types.ProtocolRecord) error {
	copied := *record
	m.protocol = &copied
	return nil
}

func (m *mockState) GetTokenSupply() (uint64, error) { return m.supply, nil }

func (m *mockState) PutTokenSupply(supply uint64) error {
	m.supply = supply
	return nil
}

func (m *mockState) GetPriceState() (*oracle.PriceState, error) {
	copied := m.priceState
	return &copied, nil
}

func (m *mockState) PutPriceState(state *oracle.PriceState) error {
	m.priceState = *state
	return nil
}

func (m *mockState) GetPendingActions() ([]oracle.PendingAction, error) {
	return append([]oracle.PendingAction(nil), m.pending...), nil
}

func (m *mockState) PutPendingActions(pending []oracle.PendingAction) error {
	m.pending = append([]oracle.PendingAction(nil), pending...)
	return nil
}

func (m *mockState) GetWhitelistHash() ([32]byte, error) { return m.whitelistHash, nil }

func (m *mockState) PutWhitelistHash(hash [32]byte) error {
	m.whitelistHash = hash
	return nil
}

const scale = vault.Scale

var (
	engineAddr = [20]byte{0xee}
	alice      = [20]byte{0x01}
	bob        = [20]byte{0x02}
)

type fixture struct {
	state  *mockState
	engine *Engine
	ledger *token.Ledger
	feed   *oracle.Oracle
	admin  *crypto.PrivateKey
}

func setup(t *testing.T) *fixture {
	t.Helper()
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}

	state := newMockState()

	feed := oracle.NewOracle()
	feed.SetState(state)
	wl, err := oracle.NewWhitelist()
	if err != nil {
		t.Fatalf("build whitelist: %v", err)
	}
	if err := feed.Initialize(scale, wl); err != nil {
		t.Fatalf("initialise oracle: %v", err)
	}

	ledger := token.NewLedger()
	ledger.SetState(state)

	eng := NewEngine(engineAddr)
	eng.SetState(state)
	eng.SetToken(ledger)
	eng.SetPriceSource(feed)
	eng.SetOracleControl(feed)
	eng.SetBlockHeight(2)
	ledger.SetAuthority(eng)

	if err := eng.InitializeProtocol(adminKey.PubKey().ArrayAddress(), 0); err != nil {
		t.Fatalf("initialise protocol: %v", err)
	}

	state.accounts[alice] = &types.Account{BalanceCollateral: 1000 * scale}
	state.accounts[bob] = &types.Account{BalanceCollateral: 1000 * scale}

	return &fixture{state: state, engine: eng, ledger: ledger, feed: feed, admin: adminKey}
}

func (f *fixture) authorize(t *testing.T, method, payload string) *admin.Authorization {
	t.Helper()
	auth, err := admin.Sign(admin.Action{
		Method:  method,
		Payload: payload,
		Nonce:   f.state.protocol.AdminNonce + 1,
	}, f.admin)
	if err != nil {
		t.Fatalf("sign authorization: %v", err)
	}
	return auth
}

func (f *fixture) createFundedVault(t *testing.T, owner [20]byte, collateral, debt uint64) [20]byte {
	t.Helper()
	vaultAddr, err := f.engine.CreateVault(owner)
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	if collateral > 0 {
		if err := f.engine.DepositCollateral(owner, vaultAddr, collateral); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	if debt > 0 {
		if err := f.engine.MintZkUsd(owner, vaultAddr, debt); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	return vaultAddr
}

func TestCreateVault(t *testing.T) {
	f := setup(t)
	vaultAddr, err := f.engine.CreateVault(alice)
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	if vaultAddr != DeriveVaultAddress(engineAddr, alice) {
		t.Fatal("vault address not derived from engine and owner")
	}
	stored, found, _ := f.state.GetVault(vaultAddr)
	if !found || stored.Owner != alice {
		t.Fatalf("vault not persisted for owner: %+v", stored)
	}
	if _, err := f.engine.CreateVault(alice); !errors.Is(err, ErrVaultExists) {
		t.Fatalf("expected ErrVaultExists, got %v", err)
	}
}

func TestDepositMovesCollateralIntoPool(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 0)

	account, _ := f.state.GetAccount(alice)
	if account.BalanceCollateral != 900*scale {
		t.Fatalf("caller balance not debited: %d", account.BalanceCollateral)
	}
	pool, _ := f.state.GetAccount(engineAddr)
	if pool.BalanceCollateral != 100*scale {
		t.Fatalf("pool not credited: %d", pool.BalanceCollateral)
	}
	if f.state.protocol.TotalCollateral != 100*scale {
		t.Fatalf("tracked collateral mismatch: %d", f.state.protocol.TotalCollateral)
	}
	stored, _, _ := f.state.GetVault(vaultAddr)
	if stored.CollateralAmount != 100*scale {
		t.Fatalf("vault collateral mismatch: %d", stored.CollateralAmount)
	}
}

func TestDepositRejectsInsufficientBalance(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 0, 0)
	if err := f.engine.DepositCollateral(alice, vaultAddr, 5000*scale); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestDepositRejectsNonOwner(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 0, 0)
	if err := f.engine.DepositCollateral(bob, vaultAddr, 10*scale); !errors.Is(err, vault.ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}
}

func TestMintIssuesTokenAndClearsFlag(t *testing.T) {
	f := setup(t)
	f.createFundedVault(t, alice, 100*scale, 30*scale)

	balance, err := f.ledger.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 30*scale {
		t.Fatalf("expected minted balance %d, got %d", 30*scale, balance)
	}
	if f.state.supply != 30*scale {
		t.Fatalf("supply mismatch: %d", f.state.supply)
	}
	if f.state.protocol.Interaction != types.InteractionIdle {
		t.Fatal("interaction flag left armed after mint")
	}
	// With the flag idle, a direct mint against the ledger must fail.
	if err := f.ledger.Mint(alice, scale); !errors.Is(err, token.ErrUnauthorizedMint) {
		t.Fatalf("expected direct mint to fail, got %v", err)
	}
}

func TestMintRespectsHealthFactor(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 0)
	if err := f.engine.MintZkUsd(alice, vaultAddr, 80*scale); !errors.Is(err, vault.ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
	if f.state.supply != 0 {
		t.Fatalf("failed mint created supply: %d", f.state.supply)
	}
}

func TestRedeemReturnsCollateral(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 30*scale)

	if err := f.engine.RedeemCollateral(alice, vaultAddr, 10*scale); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	account, _ := f.state.GetAccount(alice)
	if account.BalanceCollateral != 910*scale {
		t.Fatalf("caller not refunded: %d", account.BalanceCollateral)
	}
	if f.state.protocol.TotalCollateral != 90*scale {
		t.Fatalf("tracked collateral mismatch: %d", f.state.protocol.TotalCollateral)
	}

	if err := f.engine.RedeemCollateral(alice, vaultAddr, 80*scale); !errors.Is(err, vault.ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}
}

func TestBurnRepaysDebt(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 30*scale)

	if err := f.engine.BurnZkUsd(alice, vaultAddr, 10*scale); err != nil {
		t.Fatalf("burn: %v", err)
	}
	stored, _, _ := f.state.GetVault(vaultAddr)
	if stored.DebtAmount != 20*scale {
		t.Fatalf("debt mismatch: %d", stored.DebtAmount)
	}
	if f.state.supply != 20*scale {
		t.Fatalf("supply mismatch: %d", f.state.supply)
	}
	if err := f.engine.BurnZkUsd(alice, vaultAddr, 100*scale); !errors.Is(err, vault.ErrAmountExceedsDebt) {
		t.Fatalf("expected ErrAmountExceedsDebt, got %v", err)
	}
}

func TestLiquidateEndToEnd(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 30*scale)

	// Bob buys the debt position's stablecoin from Alice.
	if err := f.ledger.Transfer(alice, bob, 30*scale); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// Collateral crashes to 0.40 on the slot the engine reads.
	f.state.priceState.PriceEvenBlock = 4 * scale / 10

	if err := f.engine.Liquidate(bob, vaultAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	bobAcc, _ := f.state.GetAccount(bob)
	if want := 1000*scale + 82_500_000_000; bobAcc.BalanceCollateral != uint64(want) {
		t.Fatalf("liquidator collateral mismatch: %d", bobAcc.BalanceCollateral)
	}
	if bobAcc.BalanceZkUsd != 0 {
		t.Fatalf("liquidator stablecoin not burned: %d", bobAcc.BalanceZkUsd)
	}
	aliceAcc, _ := f.state.GetAccount(alice)
	if want := 900*scale + 17_500_000_000; aliceAcc.BalanceCollateral != uint64(want) {
		t.Fatalf("owner remainder mismatch: %d", aliceAcc.BalanceCollateral)
	}
	pool, _ := f.state.GetAccount(engineAddr)
	if pool.BalanceCollateral != 0 {
		t.Fatalf("pool not emptied: %d", pool.BalanceCollateral)
	}
	if f.state.protocol.TotalCollateral != 0 {
		t.Fatalf("tracked collateral not released: %d", f.state.protocol.TotalCollateral)
	}
	if f.state.supply != 0 {
		t.Fatalf("supply not retired: %d", f.state.supply)
	}
	stored, _, _ := f.state.GetVault(vaultAddr)
	if stored.CollateralAmount != 0 || stored.DebtAmount != 0 {
		t.Fatalf("vault not zeroed: %+v", stored)
	}
}

func TestLiquidateByOwnerConservesCollateral(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 30*scale)

	f.state.priceState.PriceEvenBlock = 4 * scale / 10

	// Alice liquidates her own vault: both the bonus share and the owner
	// remainder land on her single account.
	if err := f.engine.Liquidate(alice, vaultAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	aliceAcc, _ := f.state.GetAccount(alice)
	if want := uint64(1000 * scale); aliceAcc.BalanceCollateral != want {
		t.Fatalf("collateral not conserved: want %d, got %d (lost %d)",
			want, aliceAcc.BalanceCollateral, want-aliceAcc.BalanceCollateral)
	}
	if aliceAcc.BalanceZkUsd != 0 {
		t.Fatalf("stablecoin not burned: %d", aliceAcc.BalanceZkUsd)
	}
	pool, _ := f.state.GetAccount(engineAddr)
	if pool.BalanceCollateral != 0 {
		t.Fatalf("pool not emptied: %d", pool.BalanceCollateral)
	}
	if f.state.protocol.TotalCollateral != 0 {
		t.Fatalf("tracked collateral not released: %d", f.state.protocol.TotalCollateral)
	}
	if f.state.supply != 0 {
		t.Fatalf("supply not retired: %d", f.state.supply)
	}
	stored, _, _ := f.state.GetVault(vaultAddr)
	if stored.CollateralAmount != 0 || stored.DebtAmount != 0 {
		t.Fatalf("vault not zeroed: %+v", stored)
	}
}

func TestLiquidateRejectsHealthyVault(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 30*scale)
	if err := f.engine.Liquidate(bob, vaultAddr); !errors.Is(err, vault.ErrHealthFactorTooHigh) {
		t.Fatalf("expected ErrHealthFactorTooHigh, got %v", err)
	}
}

func TestLiquidateRequiresLiquidatorFunds(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 30*scale)
	f.state.priceState.PriceEvenBlock = 4 * scale / 10

	// Bob holds no stablecoin, so the burn fails and nothing moves.
	if err := f.engine.Liquidate(bob, vaultAddr); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	stored, _, _ := f.state.GetVault(vaultAddr)
	if stored.DebtAmount != 30*scale {
		t.Fatalf("failed liquidation mutated vault: %+v", stored)
	}
}

func TestUpdateVaultOwner(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 0)

	if err := f.engine.UpdateVaultOwner(bob, vaultAddr, bob); !errors.Is(err, vault.ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}
	if err := f.engine.UpdateVaultOwner(alice, vaultAddr, bob); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	stored, _, _ := f.state.GetVault(vaultAddr)
	if stored.Owner != bob {
		t.Fatal("owner not reassigned")
	}
	// The previous owner can no longer operate the vault.
	if err := f.engine.DepositCollateral(alice, vaultAddr, scale); !errors.Is(err, vault.ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch for old owner, got %v", err)
	}
	if err := f.engine.DepositCollateral(bob, vaultAddr, scale); err != nil {
		t.Fatalf("new owner deposit failed: %v", err)
	}
}

func TestAssertInteractionFlagUnarmed(t *testing.T) {
	f := setup(t)
	if _, err := f.engine.AssertInteractionFlag(); !errors.Is(err, ErrInteractionFlag) {
		t.Fatalf("expected ErrInteractionFlag, got %v", err)
	}
}

func TestEmergencyStopBlocksVaultMutation(t *testing.T) {
	f := setup(t)
	vaultAddr := f.createFundedVault(t, alice, 100*scale, 0)

	auth := f.authorize(t, admin.MethodToggleEmergencyStop, "")
	halted, err := f.engine.ToggleEmergencyStop(auth)
	if err != nil {
		t.Fatalf("toggle emergency stop: %v", err)
	}
	if !halted {
		t.Fatal("expected protocol to halt")
	}

	if err := f.engine.DepositCollateral(alice, vaultAddr, scale); !errors.Is(err, nativecommon.ErrEmergencyHalt) {
		t.Fatalf("expected ErrEmergencyHalt on deposit, got %v", err)
	}
	if err := f.engine.MintZkUsd(alice, vaultAddr, scale); !errors.Is(err, nativecommon.ErrEmergencyHalt) {
		t.Fatalf("expected ErrEmergencyHalt on mint, got %v", err)
	}
	if _, err := f.engine.CreateVault(bob); !errors.Is(err, nativecommon.ErrEmergencyHalt) {
		t.Fatalf("expected ErrEmergencyHalt on create, got %v", err)
	}

	// The admin can always resume.
	auth = f.authorize(t, admin.MethodToggleEmergencyStop, "")
	halted, err = f.engine.ToggleEmergencyStop(auth)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if halted {
		t.Fatal("expected protocol to resume")
	}
	if err := f.engine.DepositCollateral(alice, vaultAddr, scale); err != nil {
		t.Fatalf("deposit after resume failed: %v", err)
	}
}

func TestAdminNonceAdvancesPerOperation(t *testing.T) {
	f := setup(t)

	auth := f.authorize(t, admin.MethodUpdateOracleFee, `{"fee":25}`)
	if err := f.engine.UpdateOracleFee(auth, 25); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	if f.state.protocol.AdminNonce != 1 {
		t.Fatalf("expected nonce 1, got %d", f.state.protocol.AdminNonce)
	}
	if f.state.protocol.OracleFlatFee != 25 {
		t.Fatalf("fee not applied: %d", f.state.protocol.OracleFlatFee)
	}

	// Replaying the consumed authorization fails.
	if err := f.engine.UpdateOracleFee(auth, 25); !errors.Is(err, admin.ErrNonceMismatch) {
		t.Fatalf("expected ErrNonceMismatch on replay, got %v", err)
	}
}

func TestAdminRejectsNonAdminSigner(t *testing.T) {
	f := setup(t)
	intruder, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth, err := admin.Sign(admin.Action{
		Method: admin.MethodUpdateOracleFee,
		Nonce:  f.state.protocol.AdminNonce + 1,
	}, intruder)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := f.engine.UpdateOracleFee(auth, 25); !errors.Is(err, admin.ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
	if f.state.protocol.AdminNonce != 0 {
		t.Fatal("failed authorization must not burn a nonce")
	}
}

func TestUpdateAdminRotatesControl(t *testing.T) {
	f := setup(t)
	newKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	newAdmin := newKey.PubKey().ArrayAddress()

	auth := f.authorize(t, admin.MethodUpdateAdmin, "")
	if err := f.engine.UpdateAdmin(auth, newAdmin); err != nil {
		t.Fatalf("update admin: %v", err)
	}
	if f.state.protocol.Admin != newAdmin {
		t.Fatal("admin not rotated")
	}

	// The old key no longer authorizes.
	stale, err := admin.Sign(admin.Action{
		Method: admin.MethodUpdateOracleFee,
		Nonce:  f.state.protocol.AdminNonce + 1,
	}, f.admin)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := f.engine.UpdateOracleFee(stale, 25); !errors.Is(err, admin.ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner for old key, got %v", err)
	}
	// The new key does.
	fresh, err := admin.Sign(admin.Action{
		Method: admin.MethodUpdateOracleFee,
		Nonce:  f.state.protocol.AdminNonce + 1,
	}, newKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := f.engine.UpdateOracleFee(fresh, 25); err != nil {
		t.Fatalf("new admin update failed: %v", err)
	}
}

func TestDepositOracleFunds(t *testing.T) {
	f := setup(t)
	adminAddr := f.admin.PubKey().ArrayAddress()
	f.state.accounts[adminAddr] = &types.Account{BalanceCollateral: 100}

	auth := f.authorize(t, admin.MethodDepositOracleFunds, `{"amount":60}`)
	if err := f.engine.DepositOracleFunds(auth, 60); err != nil {
		t.Fatalf("deposit funds: %v", err)
	}
	if f.state.protocol.OracleFunds != 60 {
		t.Fatalf("fee pool mismatch: %d", f.state.protocol.OracleFunds)
	}
	account, _ := f.state.GetAccount(adminAddr)
	if account.BalanceCollateral != 40 {
		t.Fatalf("admin balance mismatch: %d", account.BalanceCollateral)
	}

	auth = f.authorize(t, admin.MethodDepositOracleFunds, `{"amount":60}`)
	if err := f.engine.DepositOracleFunds(auth, 60); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestUpdateFallbackPriceWritesOppositeParity(t *testing.T) {
	f := setup(t)
	// Engine runs at even height 2, so the odd fallback slot changes.
	auth := f.authorize(t, admin.MethodUpdateFallbackPrice, `{"price":90}`)
	if err := f.engine.UpdateFallbackPrice(auth, 90); err != nil {
		t.Fatalf("update fallback: %v", err)
	}
	if f.state.priceState.FallbackOddBlock != 90 {
		t.Fatalf("odd fallback not updated: %d", f.state.priceState.FallbackOddBlock)
	}
	if f.state.priceState.FallbackEvenBlock != scale {
		t.Fatalf("even fallback must be untouched: %d", f.state.priceState.FallbackEvenBlock)
	}
}

func TestUpdateOracleWhitelist(t *testing.T) {
	f := setup(t)
	wl, err := oracle.NewWhitelist([20]byte{0x10, 0x01})
	if err != nil {
		t.Fatalf("build whitelist: %v", err)
	}
	auth := f.authorize(t, admin.MethodUpdateWhitelist, "")
	if err := f.engine.UpdateOracleWhitelist(auth, wl); err != nil {
		t.Fatalf("update whitelist: %v", err)
	}
	if f.state.whitelistHash != wl.Hash() {
		t.Fatal("whitelist commitment not rotated")
	}
	if f.state.protocol.AdminNonce != 1 {
		t.Fatalf("nonce not advanced: %d", f.state.protocol.AdminNonce)
	}
}

func TestApproveBaseAlwaysRejects(t *testing.T) {
	f := setup(t)
	if err := f.engine.ApproveBase(); !errors.Is(err, ErrApproveBaseDisabled) {
		t.Fatalf("expected ErrApproveBaseDisabled, got %v", err)
	}
}
