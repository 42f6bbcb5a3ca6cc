package oracle

import (
	"errors"
	"math"
	"sort"

	"zkusd/core/events"
	"zkusd/core/types"
	nativecommon "zkusd/native/common"
)

// MaxPendingActions caps the submission batch folded into a single
// settlement.
const MaxPendingActions = 10

// minEffectiveCount dampens the influence of sparse submission sets: with
// fewer than three real submissions the median is computed over a
// fallback-padded set of three, so the fallback always participates when
// data is thin.
const minEffectiveCount = 3

var (
	ErrNilState             = errors.New("oracle: state not configured")
	ErrAmountZero           = errors.New("oracle: price must be positive")
	ErrInvalidWhitelist     = errors.New("oracle: whitelist does not match stored commitment")
	ErrSenderNotWhitelisted = errors.New("oracle: sender not whitelisted")
	ErrPendingActionExists  = errors.New("oracle: unsettled submission already pending for sender")
	ErrPendingQueueFull     = errors.New("oracle: pending action queue full")
	ErrFundsOverflow        = errors.New("oracle: fee payment exceeds tracked funds")
	ErrAlreadyInitialised   = errors.New("oracle: price state already initialised")
)

// PriceState holds the parity-staged prices. A settlement executing at block
// height N only writes the slot for N mod 2, the same slot read by vault
// operations in block N, so a write targeting the other stage can never
// invalidate a concurrently read precondition.
type PriceState struct {
	PriceEvenBlock    uint64 `json:"priceEvenBlock"`
	PriceOddBlock     uint64 `json:"priceOddBlock"`
	FallbackEvenBlock uint64 `json:"fallbackEvenBlock"`
	FallbackOddBlock  uint64 `json:"fallbackOddBlock"`
	// ActionState counts submissions settled so far; it is the cursor marking
	// the last folded batch.
	ActionState uint64 `json:"actionState"`
}

// PendingAction is a queued price submission awaiting settlement. At most one
// unsettled action exists per submitter.
type PendingAction struct {
	Submitter [20]byte `json:"submitter"`
	Price     uint64   `json:"price"`
}

type oracleState interface {
	GetPriceState() (*PriceState, error)
	PutPriceState(state *PriceState) error
	GetPendingActions() ([]PendingAction, error)
	PutPendingActions(pending []PendingAction) error
	GetWhitelistHash() ([32]byte, error)
	PutWhitelistHash(hash [32]byte) error
	GetProtocol() (*types.ProtocolRecord, error)
	PutProtocol(record *types.ProtocolRecord) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Oracle is the price-feed state machine: whitelisted submission with
// per-submitter dedup, median settlement over the pending queue, and a
// block-parity-staged read API.
type Oracle struct {
	state   oracleState
	emitter events.Emitter
}

// NewOracle constructs an oracle with a no-op event emitter.
func NewOracle() *Oracle {
	return &Oracle{emitter: events.NoopEmitter{}}
}

// SetState wires the oracle to the external persistence layer.
func (o *Oracle) SetState(state oracleState) { o.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (o *Oracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

// Initialize seeds the parity price slots with the genesis fallback price and
// commits the initial submitter whitelist. It refuses to run twice.
func (o *Oracle) Initialize(fallbackPrice uint64, wl Whitelist) error {
	if o == nil || o.state == nil {
		return ErrNilState
	}
	if fallbackPrice == 0 {
		return ErrAmountZero
	}
	priceState, err := o.state.GetPriceState()
	if err != nil {
		return err
	}
	if *priceState != (PriceState{}) {
		return ErrAlreadyInitialised
	}
	priceState.PriceEvenBlock = fallbackPrice
	priceState.PriceOddBlock = fallbackPrice
	priceState.FallbackEvenBlock = fallbackPrice
	priceState.FallbackOddBlock = fallbackPrice
	if err := o.state.PutPriceState(priceState); err != nil {
		return err
	}
	return o.state.PutWhitelistHash(wl.Hash())
}

// SubmitPrice queues a price from a whitelisted submitter and pays the flat
// oracle fee from the tracked fee pool. The full whitelist must be supplied
// and re-hash to the stored commitment. An underfunded fee pool rejects the
// submission outright rather than silently paying zero.
func (o *Oracle) SubmitPrice(submitter [20]byte, price uint64, wl Whitelist) error {
	if o == nil || o.state == nil {
		return ErrNilState
	}
	if price == 0 {
		return ErrAmountZero
	}
	storedHash, err := o.state.GetWhitelistHash()
	if err != nil {
		return err
	}
	if wl.Hash() != storedHash {
		return ErrInvalidWhitelist
	}
	if !wl.Contains(submitter) {
		return ErrSenderNotWhitelisted
	}
	pending, err := o.state.GetPendingActions()
	if err != nil {
		return err
	}
	for _, action := range pending {
		if action.Submitter == submitter {
			return ErrPendingActionExists
		}
	}
	if len(pending) >= MaxPendingActions {
		return ErrPendingQueueFull
	}

	protocol, err := o.state.GetProtocol()
	if err != nil {
		return err
	}
	if protocol == nil {
		return ErrNilState
	}
	fee := protocol.OracleFlatFee
	if fee > 0 {
		if protocol.OracleFunds < fee {
			return ErrFundsOverflow
		}
		account, err := o.state.GetAccount(submitter)
		if err != nil {
			return err
		}
		if account.BalanceCollateral > math.MaxUint64-fee {
			return ErrFundsOverflow
		}
		protocol.OracleFunds -= fee
		account.BalanceCollateral += fee
		if err := o.state.PutAccount(submitter, account); err != nil {
			return err
		}
		if err := o.state.PutProtocol(protocol); err != nil {
			return err
		}
	}

	pending = append(pending, PendingAction{Submitter: submitter, Price: price})
	if err := o.state.PutPendingActions(pending); err != nil {
		return err
	}

	o.emitter.Emit(events.PriceSubmission{Submitter: submitter, Price: price, OracleFee: fee})
	return nil
}

// SettlePriceUpdate folds the pending queue into the price slot matching the
// current block parity and advances the action cursor. Callable by anyone at
// any time; with an empty queue the slot settles to the fallback price.
func (o *Oracle) SettlePriceUpdate(blockHeight uint64) (uint64, error) {
	if o == nil || o.state == nil {
		return 0, ErrNilState
	}
	priceState, err := o.state.GetPriceState()
	if err != nil {
		return 0, err
	}
	pending, err := o.state.GetPendingActions()
	if err != nil {
		return 0, err
	}

	fallback := priceState.FallbackOddBlock
	if blockHeight%2 == 0 {
		fallback = priceState.FallbackEvenBlock
	}
	prices := make([]uint64, 0, len(pending))
	for _, action := range pending {
		prices = append(prices, action.Price)
	}
	median := medianPrice(prices, fallback)

	if blockHeight%2 == 0 {
		priceState.PriceEvenBlock = median
	} else {
		priceState.PriceOddBlock = median
	}
	priceState.ActionState += uint64(len(pending))
	if err := o.state.PutPriceState(priceState); err != nil {
		return 0, err
	}
	if err := o.state.PutPendingActions(nil); err != nil {
		return 0, err
	}

	o.emitter.Emit(events.PriceUpdate{Price: median, BlockHeight: blockHeight, Submissions: len(pending)})
	return median, nil
}

// GetPrice returns the settled price for the current block parity. Only the
// slot matching the parity is touched; the other slot carries no read
// precondition and can be rewritten concurrently without invalidating this
// read. Reads are refused while the protocol is halted.
func (o *Oracle) GetPrice(blockHeight uint64) (uint64, error) {
	if o == nil || o.state == nil {
		return 0, ErrNilState
	}
	protocol, err := o.state.GetProtocol()
	if err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(protocol); err != nil {
		return 0, err
	}
	priceState, err := o.state.GetPriceState()
	if err != nil {
		return 0, err
	}
	if blockHeight%2 == 0 {
		return priceState.PriceEvenBlock, nil
	}
	return priceState.PriceOddBlock, nil
}

// UpdateFallbackPrice replaces the fallback price for the parity slot that is
// NOT read during the current block, so the update cannot invalidate any
// in-flight read. Authorization is enforced by the engine before delegation.
func (o *Oracle) UpdateFallbackPrice(price, blockHeight uint64) error {
	if o == nil || o.state == nil {
		return ErrNilState
	}
	if price == 0 {
		return ErrAmountZero
	}
	priceState, err := o.state.GetPriceState()
	if err != nil {
		return err
	}
	if blockHeight%2 == 0 {
		priceState.FallbackOddBlock = price
	} else {
		priceState.FallbackEvenBlock = price
	}
	if err := o.state.PutPriceState(priceState); err != nil {
		return err
	}
	o.emitter.Emit(events.FallbackPriceUpdate{Price: price, BlockHeight: blockHeight})
	return nil
}

// UpdateWhitelist replaces the stored submitter commitment with the hash of
// the supplied full whitelist. Authorization is enforced by the engine. The
// previous and new hashes are returned for event attribution.
func (o *Oracle) UpdateWhitelist(wl Whitelist) ([32]byte, [32]byte, error) {
	if o == nil || o.state == nil {
		return [32]byte{}, [32]byte{}, ErrNilState
	}
	previous, err := o.state.GetWhitelistHash()
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	next := wl.Hash()
	if err := o.state.PutWhitelistHash(next); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	o.emitter.Emit(events.OracleWhitelistUpdated{PreviousHash: previous, NewHash: next})
	return previous, next, nil
}

// medianPrice computes the settlement median. The batch is truncated to the
// fold capacity, padded with the fallback price up to the effective count
// floor, sorted, and reduced to the middle value (or the mean of the two
// middle values for even counts).
func medianPrice(prices []uint64, fallback uint64) uint64 {
	if len(prices) > MaxPendingActions {
		prices = prices[:MaxPendingActions]
	}
	effective := len(prices)
	if effective < minEffectiveCount {
		effective = minEffectiveCount
	}
	padded := make([]uint64, 0, effective)
	padded = append(padded, prices...)
	for len(padded) < effective {
		padded = append(padded, fallback)
	}
	sort.Slice(padded, func(i, j int) bool { return padded[i] < padded[j] })
	mid := effective / 2
	if effective%2 == 1 {
		return padded[mid]
	}
	lo, hi := padded[mid-1], padded[mid]
	// Midpoint without overflowing the sum.
	return lo/2 + hi/2 + (lo%2+hi%2)/2
}
