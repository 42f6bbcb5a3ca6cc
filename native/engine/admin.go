package engine

import (
	"math"

	"zkusd/core/events"
	"zkusd/core/types"
	"zkusd/native/admin"
	"zkusd/native/oracle"
	"zkusd/native/vault"
)

// verifyAdmin checks a freshly signed authorization against the stored admin
// address and the next nonce, then advances the nonce on the returned record.
// The caller is responsible for persisting the record, so a failed operation
// never burns a nonce.
func (e *Engine) verifyAdmin(auth *admin.Authorization, method string) (*types.ProtocolRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.protocol()
	if err != nil {
		return nil, err
	}
	if err := auth.Verify(record.Admin, method, record.AdminNonce+1); err != nil {
		return nil, err
	}
	record.AdminNonce++
	return record, nil
}

// ToggleEmergencyStop flips the protocol halt flag. It is deliberately not
// itself halt-guarded: the admin must be able to resume a halted protocol.
func (e *Engine) ToggleEmergencyStop(auth *admin.Authorization) (bool, error) {
	record, err := e.verifyAdmin(auth, admin.MethodToggleEmergencyStop)
	if err != nil {
		return false, err
	}
	record.EmergencyStop = !record.EmergencyStop
	if err := e.state.PutProtocol(record); err != nil {
		return false, err
	}
	if record.EmergencyStop {
		e.emitter.Emit(events.EmergencyStop{})
	} else {
		e.emitter.Emit(events.EmergencyResume{})
	}
	return record.EmergencyStop, nil
}

// UpdateAdmin hands protocol control to a new admin address.
func (e *Engine) UpdateAdmin(auth *admin.Authorization, newAdmin [20]byte) error {
	record, err := e.verifyAdmin(auth, admin.MethodUpdateAdmin)
	if err != nil {
		return err
	}
	previous := record.Admin
	record.Admin = newAdmin
	if err := e.state.PutProtocol(record); err != nil {
		return err
	}
	e.emitter.Emit(events.AdminUpdated{PreviousAdmin: previous, NewAdmin: newAdmin})
	return nil
}

// UpdateOracleFee sets the flat fee paid out per accepted price submission.
func (e *Engine) UpdateOracleFee(auth *admin.Authorization, fee uint64) error {
	record, err := e.verifyAdmin(auth, admin.MethodUpdateOracleFee)
	if err != nil {
		return err
	}
	previous := record.OracleFlatFee
	record.OracleFlatFee = fee
	if err := e.state.PutProtocol(record); err != nil {
		return err
	}
	e.emitter.Emit(events.OracleFeeUpdated{PreviousFee: previous, NewFee: fee})
	return nil
}

// DepositOracleFunds moves collateral from the admin's account into the
// oracle fee pool.
func (e *Engine) DepositOracleFunds(auth *admin.Authorization, amount uint64) error {
	record, err := e.verifyAdmin(auth, admin.MethodDepositOracleFunds)
	if err != nil {
		return err
	}
	if amount == 0 {
		return vault.ErrAmountZero
	}
	account, err := e.state.GetAccount(record.Admin)
	if err != nil {
		return err
	}
	if account.BalanceCollateral < amount {
		return ErrInsufficientBalance
	}
	if record.OracleFunds > math.MaxUint64-amount {
		return vault.ErrOverflow
	}
	account.BalanceCollateral -= amount
	record.OracleFunds += amount
	if err := e.state.PutAccount(record.Admin, account); err != nil {
		return err
	}
	if err := e.state.PutProtocol(record); err != nil {
		return err
	}
	e.emitter.Emit(events.OracleFundsDeposited{From: record.Admin, Amount: amount})
	return nil
}

// UpdateOracleWhitelist replaces the submitter whitelist. The oracle stores
// only the whitelist commitment; callers supply the full member set on every
// submission.
func (e *Engine) UpdateOracleWhitelist(auth *admin.Authorization, wl oracle.Whitelist) error {
	if e.oracleCtl == nil {
		return ErrNilOracleControl
	}
	record, err := e.verifyAdmin(auth, admin.MethodUpdateWhitelist)
	if err != nil {
		return err
	}
	if err := e.state.PutProtocol(record); err != nil {
		return err
	}
	_, _, err = e.oracleCtl.UpdateWhitelist(wl)
	return err
}

// UpdateFallbackPrice sets the fallback for the parity slot opposite the
// current block, so it takes effect for the next settlement of that parity.
func (e *Engine) UpdateFallbackPrice(auth *admin.Authorization, price uint64) error {
	if e.oracleCtl == nil {
		return ErrNilOracleControl
	}
	record, err := e.verifyAdmin(auth, admin.MethodUpdateFallbackPrice)
	if err != nil {
		return err
	}
	if err := e.state.PutProtocol(record); err != nil {
		return err
	}
	return e.oracleCtl.UpdateFallbackPrice(price, e.blockHeight)
}
