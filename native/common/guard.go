package common

import "errors"

// ErrEmergencyHalt is returned by guarded entry points while the protocol
// admin has engaged the emergency stop.
var ErrEmergencyHalt = errors.New("emergency halt engaged")

// HaltView reports whether the protocol-wide emergency stop is engaged.
type HaltView interface {
	Halted() bool
}

// Guard rejects the operation when the emergency stop is engaged. A nil view
// is treated as not halted so engines can run unguarded in isolated tests.
func Guard(h HaltView) error {
	if h == nil {
		return nil
	}
	if h.Halted() {
		return ErrEmergencyHalt
	}
	return nil
}
