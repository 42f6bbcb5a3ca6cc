package oracle

import (
	"errors"
	"testing"

	"zkusd/core/events"
	"zkusd/core/types"
	nativecommon "zkusd/native/common"
)

type mockState struct {
	priceState    PriceState
	pending       []PendingAction
	whitelistHash [32]byte
	protocol      *types.ProtocolRecord
	accounts      map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		protocol: &types.ProtocolRecord{},
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) GetPriceState() (*PriceState, error) {
	copied := m.priceState
	return &copied, nil
}

func (m *mockState) PutPriceState(state *PriceState) error {
	m.priceState = *state
	return nil
}

func (m *mockState) GetPendingActions() ([]PendingAction, error) {
	return append([]PendingAction(nil), m.pending...), nil
}

func (m *mockState) PutPendingActions(pending []PendingAction) error {
	m.pending = append([]PendingAction(nil), pending...)
	return nil
}

func (m *mockState) GetWhitelistHash() ([32]byte, error) {
	return m.whitelistHash, nil
}

func (m *mockState) PutWhitelistHash(hash [32]byte) error {
	m.whitelistHash = hash
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

func submitterAddr(i byte) [20]byte {
	return [20]byte{0x10, i}
}

func setupOracle(t *testing.T, members ...[20]byte) (*Oracle, *mockState, Whitelist) {
	t.Helper()
	state := newMockState()
	wl, err := NewWhitelist(members...)
	if err != nil {
		t.Fatalf("build whitelist: %v", err)
	}
	o := NewOracle()
	o.SetState(state)
	if err := o.Initialize(50, wl); err != nil {
		t.Fatalf("initialise oracle: %v", err)
	}
	return o, state, wl
}

func TestInitializeSeedsAllSlots(t *testing.T) {
	_, state, _ := setupOracle(t, submitterAddr(1))
	ps := state.priceState
	if ps.PriceEvenBlock != 50 || ps.PriceOddBlock != 50 ||
		ps.FallbackEvenBlock != 50 || ps.FallbackOddBlock != 50 {
		t.Fatalf("unexpected genesis price state: %+v", ps)
	}
}

func TestInitializeRefusesTwice(t *testing.T) {
	o, _, wl := setupOracle(t, submitterAddr(1))
	if err := o.Initialize(60, wl); !errors.Is(err, ErrAlreadyInitialised) {
		t.Fatalf("expected ErrAlreadyInitialised, got %v", err)
	}
}

func TestSubmitPriceWhitelistChecks(t *testing.T) {
	o, _, wl := setupOracle(t, submitterAddr(1))

	if err := o.SubmitPrice(submitterAddr(2), 48, wl); !errors.Is(err, ErrSenderNotWhitelisted) {
		t.Fatalf("expected ErrSenderNotWhitelisted, got %v", err)
	}

	otherWl, err := NewWhitelist(submitterAddr(2))
	if err != nil {
		t.Fatalf("build whitelist: %v", err)
	}
	if err := o.SubmitPrice(submitterAddr(2), 48, otherWl); !errors.Is(err, ErrInvalidWhitelist) {
		t.Fatalf("expected ErrInvalidWhitelist, got %v", err)
	}

	if err := o.SubmitPrice(submitterAddr(1), 0, wl); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero, got %v", err)
	}
	if err := o.SubmitPrice(submitterAddr(1), 48, wl); err != nil {
		t.Fatalf("whitelisted submission failed: %v", err)
	}
}

func TestSubmitPriceDeduplicatesSubmitter(t *testing.T) {
	o, _, wl := setupOracle(t, submitterAddr(1))
	if err := o.SubmitPrice(submitterAddr(1), 48, wl); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	if err := o.SubmitPrice(submitterAddr(1), 52, wl); !errors.Is(err, ErrPendingActionExists) {
		t.Fatalf("expected ErrPendingActionExists, got %v", err)
	}
}

func TestSubmitPricePaysFlatFee(t *testing.T) {
	o, state, wl := setupOracle(t, submitterAddr(1))
	state.protocol.OracleFlatFee = 25
	state.protocol.OracleFunds = 60

	if err := o.SubmitPrice(submitterAddr(1), 48, wl); err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	if state.protocol.OracleFunds != 35 {
		t.Fatalf("expected fee pool 35, got %d", state.protocol.OracleFunds)
	}
	account, _ := state.GetAccount(submitterAddr(1))
	if account.BalanceCollateral != 25 {
		t.Fatalf("expected submitter credit 25, got %d", account.BalanceCollateral)
	}
}

func TestSubmitPriceRevertsWhenFeePoolExhausted(t *testing.T) {
	o, state, wl := setupOracle(t, submitterAddr(1))
	state.protocol.OracleFlatFee = 25
	state.protocol.OracleFunds = 10

	if err := o.SubmitPrice(submitterAddr(1), 48, wl); !errors.Is(err, ErrFundsOverflow) {
		t.Fatalf("expected ErrFundsOverflow, got %v", err)
	}
	if len(state.pending) != 0 {
		t.Fatal("failed submission must not queue a pending action")
	}
	if state.protocol.OracleFunds != 10 {
		t.Fatalf("failed submission mutated the fee pool: %d", state.protocol.OracleFunds)
	}
}

func TestSubmitPriceWholeWhitelistCanQueue(t *testing.T) {
	members := make([][20]byte, 0, MaxWhitelistSize)
	for i := byte(1); i <= MaxWhitelistSize; i++ {
		members = append(members, submitterAddr(i))
	}
	o, state, wl := setupOracle(t, members...)

	for i := byte(1); i <= MaxWhitelistSize; i++ {
		if err := o.SubmitPrice(submitterAddr(i), uint64(10+i), wl); err != nil {
			t.Fatalf("submission %d failed: %v", i, err)
		}
	}
	if len(state.pending) != MaxWhitelistSize {
		t.Fatalf("expected %d pending actions, got %d", MaxWhitelistSize, len(state.pending))
	}
}

func TestSettleMedianWithFallbackPadding(t *testing.T) {
	// Two submissions {48, 52} with fallback 50: the set is padded to three
	// and the median is the fallback itself.
	o, _, wl := setupOracle(t, submitterAddr(1), submitterAddr(2))
	if err := o.SubmitPrice(submitterAddr(1), 48, wl); err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	if err := o.SubmitPrice(submitterAddr(2), 52, wl); err != nil {
		t.Fatalf("submission failed: %v", err)
	}

	median, err := o.SettlePriceUpdate(2)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if median != 50 {
		t.Fatalf("expected fallback-padded median 50, got %d", median)
	}
}

func TestSettleMedianFullQueue(t *testing.T) {
	members := [][20]byte{
		submitterAddr(1), submitterAddr(2), submitterAddr(3),
		submitterAddr(4), submitterAddr(5),
	}
	o, _, wl := setupOracle(t, members...)
	prices := []uint64{50, 10, 40, 20, 30}
	for i, member := range members {
		if err := o.SubmitPrice(member, prices[i], wl); err != nil {
			t.Fatalf("submission failed: %v", err)
		}
	}

	median, err := o.SettlePriceUpdate(2)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if median != 30 {
		t.Fatalf("expected median 30, got %d", median)
	}
}

func TestSettleWritesOnlyMatchingParitySlot(t *testing.T) {
	o, state, wl := setupOracle(t, submitterAddr(1), submitterAddr(2), submitterAddr(3))
	for i, price := range []uint64{52, 52, 52} {
		if err := o.SubmitPrice(submitterAddr(byte(i+1)), price, wl); err != nil {
			t.Fatalf("submission failed: %v", err)
		}
	}
	if _, err := o.SettlePriceUpdate(2); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if state.priceState.PriceEvenBlock != 52 {
		t.Fatalf("even slot not updated: %d", state.priceState.PriceEvenBlock)
	}
	if state.priceState.PriceOddBlock != 50 {
		t.Fatalf("odd slot must keep its genesis value: %d", state.priceState.PriceOddBlock)
	}

	// A second even-parity settlement replaces the even slot again.
	for i, price := range []uint64{48, 48, 48} {
		if err := o.SubmitPrice(submitterAddr(byte(i+1)), price, wl); err != nil {
			t.Fatalf("submission failed: %v", err)
		}
	}
	if _, err := o.SettlePriceUpdate(4); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if state.priceState.PriceEvenBlock != 48 {
		t.Fatalf("even slot not replaced: %d", state.priceState.PriceEvenBlock)
	}
	if state.priceState.PriceOddBlock != 50 {
		t.Fatalf("odd slot touched by even settlement: %d", state.priceState.PriceOddBlock)
	}
}

func TestSettleEmptyQueueUsesFallback(t *testing.T) {
	o, state, _ := setupOracle(t, submitterAddr(1))
	state.priceState.FallbackOddBlock = 77

	median, err := o.SettlePriceUpdate(3)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if median != 77 {
		t.Fatalf("expected fallback 77, got %d", median)
	}
	if state.priceState.PriceOddBlock != 77 {
		t.Fatalf("odd slot not settled to fallback: %d", state.priceState.PriceOddBlock)
	}
}

func TestSettleAdvancesActionCursorAndClearsQueue(t *testing.T) {
	o, state, wl := setupOracle(t, submitterAddr(1), submitterAddr(2))
	_ = o.SubmitPrice(submitterAddr(1), 48, wl)
	_ = o.SubmitPrice(submitterAddr(2), 52, wl)

	if _, err := o.SettlePriceUpdate(2); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if state.priceState.ActionState != 2 {
		t.Fatalf("expected cursor 2, got %d", state.priceState.ActionState)
	}
	if len(state.pending) != 0 {
		t.Fatalf("pending queue not cleared: %d", len(state.pending))
	}
	// The same submitter may submit again after settlement.
	if err := o.SubmitPrice(submitterAddr(1), 49, wl); err != nil {
		t.Fatalf("post-settlement submission failed: %v", err)
	}
}

func TestGetPriceParity(t *testing.T) {
	o, state, _ := setupOracle(t, submitterAddr(1))
	state.priceState.PriceEvenBlock = 41
	state.priceState.PriceOddBlock = 43

	even, err := o.GetPrice(8)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if even != 41 {
		t.Fatalf("expected even slot 41, got %d", even)
	}
	odd, err := o.GetPrice(9)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if odd != 43 {
		t.Fatalf("expected odd slot 43, got %d", odd)
	}
}

func TestGetPriceRefusedWhileHalted(t *testing.T) {
	o, state, _ := setupOracle(t, submitterAddr(1))
	state.protocol.EmergencyStop = true
	if _, err := o.GetPrice(2); !errors.Is(err, nativecommon.ErrEmergencyHalt) {
		t.Fatalf("expected ErrEmergencyHalt, got %v", err)
	}
}

func TestUpdateFallbackPriceTargetsOppositeParity(t *testing.T) {
	o, state, _ := setupOracle(t, submitterAddr(1))

	// During an even block only the odd fallback may change.
	if err := o.UpdateFallbackPrice(90, 2); err != nil {
		t.Fatalf("update fallback: %v", err)
	}
	if state.priceState.FallbackOddBlock != 90 {
		t.Fatalf("odd fallback not updated: %d", state.priceState.FallbackOddBlock)
	}
	if state.priceState.FallbackEvenBlock != 50 {
		t.Fatalf("even fallback must be untouched: %d", state.priceState.FallbackEvenBlock)
	}

	if err := o.UpdateFallbackPrice(95, 3); err != nil {
		t.Fatalf("update fallback: %v", err)
	}
	if state.priceState.FallbackEvenBlock != 95 {
		t.Fatalf("even fallback not updated: %d", state.priceState.FallbackEvenBlock)
	}
}

func TestUpdateWhitelistRotatesCommitment(t *testing.T) {
	o, state, wl := setupOracle(t, submitterAddr(1))
	next, err := NewWhitelist(submitterAddr(2), submitterAddr(3))
	if err != nil {
		t.Fatalf("build whitelist: %v", err)
	}

	previous, updated, err := o.UpdateWhitelist(next)
	if err != nil {
		t.Fatalf("update whitelist: %v", err)
	}
	if previous != wl.Hash() {
		t.Fatal("previous hash mismatch")
	}
	if updated != next.Hash() || state.whitelistHash != next.Hash() {
		t.Fatal("new hash not committed")
	}

	// The old set no longer authenticates.
	if err := o.SubmitPrice(submitterAddr(1), 48, wl); !errors.Is(err, ErrInvalidWhitelist) {
		t.Fatalf("expected ErrInvalidWhitelist, got %v", err)
	}
	if err := o.SubmitPrice(submitterAddr(2), 48, next); err != nil {
		t.Fatalf("new member submission failed: %v", err)
	}
}

func TestSettleEmitsPriceUpdate(t *testing.T) {
	o, _, wl := setupOracle(t, submitterAddr(1))
	recorder := &events.Recorder{}
	o.SetEmitter(recorder)

	if err := o.SubmitPrice(submitterAddr(1), 48, wl); err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	if _, err := o.SettlePriceUpdate(2); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	var sawSubmission, sawUpdate bool
	for _, evt := range recorder.Events {
		switch evt.EventType() {
		case events.TypePriceSubmission:
			sawSubmission = true
		case events.TypePriceUpdate:
			sawUpdate = true
		}
	}
	if !sawSubmission || !sawUpdate {
		t.Fatalf("expected submission and update events, got %d events", len(recorder.Events))
	}
}

func TestMedianPrice(t *testing.T) {
	cases := []struct {
		name     string
		prices   []uint64
		fallback uint64
		want     uint64
	}{
		{"empty uses fallback", nil, 50, 50},
		{"single padded", []uint64{48}, 50, 50},
		{"two padded", []uint64{48, 52}, 50, 50},
		{"three exact", []uint64{10, 30, 20}, 50, 20},
		{"four even count", []uint64{10, 20, 30, 40}, 50, 25},
		{"five odd count", []uint64{50, 10, 40, 20, 30}, 99, 30},
		{"midpoint no overflow", []uint64{^uint64(0), ^uint64(0) - 1, 1, 2}, 0, (^uint64(0) - 1) / 2 + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := medianPrice(tc.prices, tc.fallback); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
