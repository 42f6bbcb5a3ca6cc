package oracle

import (
	"errors"

	"lukechampine.com/blake3"
)

// MaxWhitelistSize bounds the authorized submitter set. The whitelist is
// committed on-chain as a hash of the full fixed-capacity array, so updates
// always replace the entire set.
const MaxWhitelistSize = 8

var ErrWhitelistFull = errors.New("oracle: whitelist exceeds capacity")

var zeroAddress [20]byte

// Whitelist is the fixed-capacity authorized submitter array. Unused slots
// hold the zero address and participate in the commitment hash, which is why
// partial updates are impossible: any change re-hashes the whole array.
type Whitelist [MaxWhitelistSize][20]byte

// NewWhitelist builds a whitelist from the supplied addresses, zero-filling
// unused slots.
func NewWhitelist(addrs ...[20]byte) (Whitelist, error) {
	var wl Whitelist
	if len(addrs) > MaxWhitelistSize {
		return wl, ErrWhitelistFull
	}
	for i, addr := range addrs {
		wl[i] = addr
	}
	return wl, nil
}

// Hash computes the blake3 commitment over the full array.
func (w Whitelist) Hash() [32]byte {
	buf := make([]byte, 0, MaxWhitelistSize*20)
	for _, entry := range w {
		buf = append(buf, entry[:]...)
	}
	return blake3.Sum256(buf)
}

// Contains reports whether the address occupies a non-empty slot.
func (w Whitelist) Contains(addr [20]byte) bool {
	if addr == zeroAddress {
		return false
	}
	for _, entry := range w {
		if entry == addr {
			return true
		}
	}
	return false
}

// Members returns the occupied slots in array order.
func (w Whitelist) Members() [][20]byte {
	members := make([][20]byte, 0, MaxWhitelistSize)
	for _, entry := range w {
		if entry != zeroAddress {
			members = append(members, entry)
		}
	}
	return members
}
