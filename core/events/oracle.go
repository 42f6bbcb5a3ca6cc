package events

import (
	"encoding/hex"

	"zkusd/core/types"
)

const (
	// TypePriceSubmission is emitted when a whitelisted submitter queues a price.
	TypePriceSubmission = "oracle.priceSubmission"
	// TypePriceUpdate is emitted when the pending queue is settled into a median.
	TypePriceUpdate = "oracle.priceUpdate"
	// TypeFallbackPriceUpdate is emitted when the admin replaces a fallback price.
	TypeFallbackPriceUpdate = "oracle.fallbackPriceUpdate"
	// TypeOracleWhitelistUpdated is emitted when the submitter set commitment changes.
	TypeOracleWhitelistUpdated = "oracle.whitelistUpdated"
	// TypeOracleFeeUpdated is emitted when the flat submission fee changes.
	TypeOracleFeeUpdated = "oracle.feeUpdated"
	// TypeOracleFundsDeposited is emitted when the fee pool is topped up.
	TypeOracleFundsDeposited = "oracle.fundsDeposited"
)

type PriceSubmission struct {
	Submitter [20]byte
	Price     uint64
	OracleFee uint64
}

func (PriceSubmission) EventType() string { return TypePriceSubmission }

func (e PriceSubmission) Event() *types.Event {
	return &types.Event{
		Type: TypePriceSubmission,
		Attributes: map[string]string{
			"submitter": accountAddr(e.Submitter),
			"price":     formatAmount(e.Price),
			"oracleFee": formatAmount(e.OracleFee),
		},
	}
}

type PriceUpdate struct {
	Price       uint64
	BlockHeight uint64
	Submissions int
}

func (PriceUpdate) EventType() string { return TypePriceUpdate }

func (e PriceUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypePriceUpdate,
		Attributes: map[string]string{
			"price":       formatAmount(e.Price),
			"blockHeight": formatAmount(e.BlockHeight),
			"submissions": formatAmount(uint64(e.Submissions)),
		},
	}
}

type FallbackPriceUpdate struct {
	Price       uint64
	BlockHeight uint64
}

func (FallbackPriceUpdate) EventType() string { return TypeFallbackPriceUpdate }

func (e FallbackPriceUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeFallbackPriceUpdate,
		Attributes: map[string]string{
			"price":       formatAmount(e.Price),
			"blockHeight": formatAmount(e.BlockHeight),
		},
	}
}

type OracleWhitelistUpdated struct {
	PreviousHash [32]byte
	NewHash      [32]byte
}

func (OracleWhitelistUpdated) EventType() string { return TypeOracleWhitelistUpdated }

func (e OracleWhitelistUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleWhitelistUpdated,
		Attributes: map[string]string{
			"previousHash": hex.EncodeToString(e.PreviousHash[:]),
			"newHash":      hex.EncodeToString(e.NewHash[:]),
		},
	}
}

type OracleFeeUpdated struct {
	PreviousFee uint64
	NewFee      uint64
}

func (OracleFeeUpdated) EventType() string { return TypeOracleFeeUpdated }

func (e OracleFeeUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleFeeUpdated,
		Attributes: map[string]string{
			"previousFee": formatAmount(e.PreviousFee),
			"newFee":      formatAmount(e.NewFee),
		},
	}
}

type OracleFundsDeposited struct {
	From   [20]byte
	Amount uint64
}

func (OracleFundsDeposited) EventType() string { return TypeOracleFundsDeposited }

func (e OracleFundsDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleFundsDeposited,
		Attributes: map[string]string{
			"from":   accountAddr(e.From),
			"amount": formatAmount(e.Amount),
		},
	}
}
