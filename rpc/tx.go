package rpc

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"zkusd/state"
)

// TxDomainV1 is the domain separator prefixed to signed request digests.
const TxDomainV1 = "ZKUSD_TX_V1"

var (
	ErrMissingSignature = errors.New("rpc: request signature required")
	ErrNonceMismatch    = errors.New("rpc: request nonce mismatch")
)

// SignedRequest is the envelope for state-mutating vault calls. The caller is
// whoever signed the digest over (domain, payload, nonce); the nonce must be
// exactly one above the caller's stored account nonce, which rules out
// replays.
type SignedRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Nonce     uint64          `json:"nonce"`
	Signature string          `json:"signature"`
}

func (r *SignedRequest) digest() []byte {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], r.Nonce)
	return ethcrypto.Keccak256([]byte(TxDomainV1), r.Payload, nonce[:])
}

// RecoverCaller derives the signing account address from the envelope.
func (r *SignedRequest) RecoverCaller() ([20]byte, error) {
	sigHex := strings.TrimPrefix(strings.TrimSpace(r.Signature), "0x")
	if sigHex == "" {
		return [20]byte{}, ErrMissingSignature
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return [20]byte{}, ErrMissingSignature
	}
	pub, err := ethcrypto.SigToPub(r.digest(), sig)
	if err != nil {
		return [20]byte{}, ErrMissingSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// authenticate recovers the caller, enforces the account nonce and advances
// it in the transaction. The nonce bump commits together with the operation,
// so a failed operation never consumes a nonce.
func (s *Server) authenticate(txn *state.Txn, req *SignedRequest) ([20]byte, error) {
	caller, err := req.RecoverCaller()
	if err != nil {
		return [20]byte{}, err
	}
	account, err := txn.GetAccount(caller)
	if err != nil {
		return [20]byte{}, err
	}
	if req.Nonce != account.Nonce+1 {
		return [20]byte{}, ErrNonceMismatch
	}
	account.Nonce = req.Nonce
	if err := txn.PutAccount(caller, account); err != nil {
		return [20]byte{}, err
	}
	return caller, nil
}
