package state

import "encoding/hex"

// Key layout. Every record lives in its own versioned envelope; addresses are
// hex-encoded so keys stay printable in database tooling.
const (
	keyProtocol       = "zkusd/protocol"
	keyTokenSupply    = "zkusd/token/supply"
	keyPriceState     = "zkusd/oracle/price"
	keyPendingActions = "zkusd/oracle/pending"
	keyWhitelistHash  = "zkusd/oracle/whitelist"

	prefixAccount = "zkusd/account/"
	prefixVault   = "zkusd/vault/"
)

func accountKey(addr [20]byte) string {
	return prefixAccount + hex.EncodeToString(addr[:])
}

func vaultKey(addr [20]byte) string {
	return prefixVault + hex.EncodeToString(addr[:])
}
