package token

import (
	"errors"
	"math"

	"zkusd/core/types"
)

var (
	ErrNilState            = errors.New("token ledger: state not configured")
	ErrAmountZero          = errors.New("token ledger: amount must be positive")
	ErrUnauthorizedMint    = errors.New("token ledger: mint not authorized")
	ErrUnauthorizedBurn    = errors.New("token ledger: burn not authorized")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	ErrSupplyOverflow      = errors.New("token ledger: circulating supply overflow")
)

// Authority gates the privileged token operations. The engine implements it:
// CanMint consults the one-shot interaction flag so that only engine-initiated
// flows can mint, and consuming the flag prevents replay.
type Authority interface {
	CanMint() bool
	CanBurn() bool
}

type ledgerState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	GetTokenSupply() (uint64, error)
	PutTokenSupply(supply uint64) error
}

// Ledger maintains zkUSD balances and the circulating supply. It never
// decides authorization itself; privileged calls are deferred to the
// configured Authority.
type Ledger struct {
	state     ledgerState
	authority Authority
}

// NewLedger constructs a ledger without state or authority wired; callers
// configure both before use.
func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetAuthority configures the admin-authorization hook consulted before
// privileged operations.
func (l *Ledger) SetAuthority(authority Authority) { l.authority = authority }

// Mint credits freshly issued zkUSD to the recipient. The call fails unless
// the authority approves, which for the engine authority consumes the armed
// interaction flag.
func (l *Ledger) Mint(recipient [20]byte, amount uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == 0 {
		return ErrAmountZero
	}
	if l.authority == nil || !l.authority.CanMint() {
		return ErrUnauthorizedMint
	}
	account, err := l.state.GetAccount(recipient)
	if err != nil {
		return err
	}
	if account.BalanceZkUsd > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	supply, err := l.state.GetTokenSupply()
	if err != nil {
		return err
	}
	if supply > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	account.BalanceZkUsd += amount
	if err := l.state.PutAccount(recipient, account); err != nil {
		return err
	}
	return l.state.PutTokenSupply(supply + amount)
}

// Burn destroys zkUSD held by the payer and shrinks the circulating supply.
func (l *Ledger) Burn(payer [20]byte, amount uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == 0 {
		return ErrAmountZero
	}
	if l.authority != nil && !l.authority.CanBurn() {
		return ErrUnauthorizedBurn
	}
	account, err := l.state.GetAccount(payer)
	if err != nil {
		return err
	}
	if account.BalanceZkUsd < amount {
		return ErrInsufficientBalance
	}
	supply, err := l.state.GetTokenSupply()
	if err != nil {
		return err
	}
	if supply < amount {
		return ErrSupplyOverflow
	}
	account.BalanceZkUsd -= amount
	if err := l.state.PutAccount(payer, account); err != nil {
		return err
	}
	return l.state.PutTokenSupply(supply - amount)
}

// Transfer moves zkUSD between accounts without touching supply.
func (l *Ledger) Transfer(from, to [20]byte, amount uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == 0 {
		return ErrAmountZero
	}
	sender, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.BalanceZkUsd < amount {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	recipient, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.BalanceZkUsd > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	sender.BalanceZkUsd -= amount
	recipient.BalanceZkUsd += amount
	if err := l.state.PutAccount(from, sender); err != nil {
		return err
	}
	return l.state.PutAccount(to, recipient)
}

// BalanceOf returns the zkUSD balance for the account.
func (l *Ledger) BalanceOf(addr [20]byte) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, ErrNilState
	}
	account, err := l.state.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return account.BalanceZkUsd, nil
}

// Circulating returns the total minted-and-not-burned supply.
func (l *Ledger) Circulating() (uint64, error) {
	if l == nil || l.state == nil {
		return 0, ErrNilState
	}
	return l.state.GetTokenSupply()
}

// EnsureAccount persists a zero-balance account record when none exists yet,
// so downstream transfers to the address cannot fail on a missing record.
func (l *Ledger) EnsureAccount(addr [20]byte) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	account, err := l.state.GetAccount(addr)
	if err != nil {
		return err
	}
	return l.state.PutAccount(addr, account)
}
