package types

// InteractionState models the one-shot authorization gate consulted by the
// token module before honouring a mint. The engine arms the flag immediately
// before invoking the token mint capability; the first check consumes it.
type InteractionState uint8

const (
	// InteractionIdle means no privileged cross-contract call is authorized.
	InteractionIdle InteractionState = iota
	// InteractionArmedForOneCall authorizes exactly one privileged call.
	InteractionArmedForOneCall
)

// ProtocolRecord is the packed singleton owned by the engine. Every mutation
// goes through an admin-signature-gated operation; AdminNonce increases by one
// per accepted authorization so signatures cannot be replayed.
type ProtocolRecord struct {
	// Admin is the address whose live signature authorizes privileged
	// operations.
	Admin [20]byte `json:"admin"`
	// AdminNonce is the next-but-one expected authorization nonce; an accepted
	// authorization must carry AdminNonce+1.
	AdminNonce uint64 `json:"adminNonce"`
	// OracleFlatFee is paid to whitelisted submitters per accepted price
	// submission, in base units.
	OracleFlatFee uint64 `json:"oracleFlatFee"`
	// OracleFunds tracks the pooled balance backing oracle fee payouts.
	OracleFunds uint64 `json:"oracleFunds"`
	// EmergencyStop blocks all vault-mutating engine operations while set.
	EmergencyStop bool `json:"emergencyStop"`
	// Interaction is the one-shot mint authorization gate.
	Interaction InteractionState `json:"interaction"`
	// TotalCollateral is the running total of collateral held in the engine
	// pool across all vaults.
	TotalCollateral uint64 `json:"totalCollateral"`
}

// Halted reports whether vault mutation is blocked. It satisfies the
// common.HaltView interface so engines can guard entry points uniformly.
func (p *ProtocolRecord) Halted() bool {
	if p == nil {
		return false
	}
	return p.EmergencyStop
}
