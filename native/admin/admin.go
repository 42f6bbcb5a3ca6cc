package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"zkusd/crypto"
)

// ActionDomainV1 is the domain separator prefixed to canonical action
// payloads before hashing.
const ActionDomainV1 = "ZKUSD_ADMIN_V1"

// Canonical method names for the privileged operations. Every privileged
// predicate independently re-derives the stored admin key and requires a
// fresh signature over one of these methods; there is no role hierarchy or
// delegation.
const (
	MethodToggleEmergencyStop = "protocol.toggleEmergencyStop"
	MethodUpdateAdmin         = "protocol.updateAdmin"
	MethodUpdateWhitelist     = "oracle.updateWhitelist"
	MethodUpdateOracleFee     = "oracle.updateFee"
	MethodDepositOracleFunds  = "oracle.depositFunds"
	MethodUpdateFallbackPrice = "oracle.updateFallbackPrice"
)

var (
	ErrInvalidSigner    = errors.New("admin: signer is not the protocol admin")
	ErrMethodMismatch   = errors.New("admin: authorization method mismatch")
	ErrNonceMismatch    = errors.New("admin: authorization nonce mismatch")
	ErrMissingSignature = errors.New("admin: signature required")
)

// Action is the canonical payload signed by the protocol admin. Payload is a
// pre-rendered parameter string (e.g. "fee=25"); the nonce must be exactly
// one above the last accepted authorization.
type Action struct {
	Method  string `json:"method"`
	Payload string `json:"payload"`
	Nonce   uint64 `json:"nonce"`
}

// CanonicalJSON renders the stable encoding used for signing.
func (a Action) CanonicalJSON() ([]byte, error) {
	canonical := Action{
		Method:  strings.TrimSpace(a.Method),
		Payload: strings.TrimSpace(a.Payload),
		Nonce:   a.Nonce,
	}
	if canonical.Method == "" {
		return nil, fmt.Errorf("admin: method required")
	}
	return json.Marshal(canonical)
}

// Digest computes the keccak256 hash over the domain-separated canonical
// encoding.
func (a Action) Digest() ([]byte, error) {
	canonical, err := a.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256([]byte(ActionDomainV1), canonical), nil
}

// Authorization couples an action with the admin's signature over its digest.
type Authorization struct {
	Action    Action `json:"action"`
	Signature []byte `json:"signature"`
}

// Sign produces an authorization for the action using the supplied key.
func Sign(action Action, key *crypto.PrivateKey) (*Authorization, error) {
	if key == nil {
		return nil, fmt.Errorf("admin: signing key required")
	}
	digest, err := action.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Authorization{Action: action, Signature: sig}, nil
}

// RecoverSigner returns the account address that produced the signature.
func (auth *Authorization) RecoverSigner() ([20]byte, error) {
	var signer [20]byte
	if auth == nil || len(auth.Signature) == 0 {
		return signer, ErrMissingSignature
	}
	digest, err := auth.Action.Digest()
	if err != nil {
		return signer, err
	}
	pub, err := ethcrypto.SigToPub(digest, auth.Signature)
	if err != nil {
		return signer, fmt.Errorf("admin: recover signer: %w", err)
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return signer, nil
}

// Verify checks that the authorization was produced by the expected admin for
// the expected method and nonce. Each check fails independently so callers
// surface precise authorization errors.
func (auth *Authorization) Verify(expectedAdmin [20]byte, method string, nonce uint64) error {
	if auth == nil {
		return ErrMissingSignature
	}
	if strings.TrimSpace(auth.Action.Method) != method {
		return ErrMethodMismatch
	}
	if auth.Action.Nonce != nonce {
		return ErrNonceMismatch
	}
	signer, err := auth.RecoverSigner()
	if err != nil {
		return err
	}
	if signer != expectedAdmin {
		return ErrInvalidSigner
	}
	return nil
}
