package oracle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"zkusd/crypto"
)

// SubmissionDomainV1 is the domain separator used when signing price
// submissions carried over the RPC surface.
const SubmissionDomainV1 = "ZKUSD_ORACLE_PRICE_V1"

var (
	ErrMissingSignature = errors.New("oracle: submission signature required")
	ErrInvalidSignature = errors.New("oracle: submission signature does not match submitter")
)

// SubmissionProof is the signed payload accompanying an off-chain price
// submission. The nonce binds the proof to the submitter's account sequence
// so a relayed proof cannot be replayed.
type SubmissionProof struct {
	Submitter [20]byte `json:"submitter"`
	Price     uint64   `json:"price"`
	Nonce     uint64   `json:"nonce"`
	Signature []byte   `json:"signature"`
}

// CanonicalMessage renders the canonical message covered by the signature.
func (p *SubmissionProof) CanonicalMessage() string {
	if p == nil {
		return ""
	}
	builder := strings.Builder{}
	builder.WriteString(SubmissionDomainV1)
	builder.WriteString("|submitter=")
	builder.WriteString(crypto.NewAddress(crypto.ZKPrefix, p.Submitter[:]).String())
	builder.WriteString("|price=")
	builder.WriteString(strconv.FormatUint(p.Price, 10))
	builder.WriteString("|nonce=")
	builder.WriteString(strconv.FormatUint(p.Nonce, 10))
	return builder.String()
}

// Digest computes the keccak256 hash of the canonical message.
func (p *SubmissionProof) Digest() []byte {
	return ethcrypto.Keccak256([]byte(p.CanonicalMessage()))
}

// SignSubmission produces a proof for the supplied price and nonce.
func SignSubmission(price, nonce uint64, key *crypto.PrivateKey) (*SubmissionProof, error) {
	if key == nil {
		return nil, fmt.Errorf("oracle: signing key required")
	}
	proof := &SubmissionProof{
		Submitter: key.PubKey().ArrayAddress(),
		Price:     price,
		Nonce:     nonce,
	}
	sig, err := ethcrypto.Sign(proof.Digest(), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	proof.Signature = sig
	return proof, nil
}

// Verify recovers the signer and checks it matches the declared submitter.
func (p *SubmissionProof) Verify() error {
	if p == nil || len(p.Signature) == 0 {
		return ErrMissingSignature
	}
	pub, err := ethcrypto.SigToPub(p.Digest(), p.Signature)
	if err != nil {
		return fmt.Errorf("oracle: recover submitter: %w", err)
	}
	var recovered [20]byte
	copy(recovered[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	if recovered != p.Submitter {
		return ErrInvalidSignature
	}
	return nil
}
