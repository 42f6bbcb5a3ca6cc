package events

import "zkusd/core/types"

const (
	// TypeEmergencyStop is emitted when the admin halts vault mutation.
	TypeEmergencyStop = "protocol.emergencyStop"
	// TypeEmergencyResume is emitted when the admin lifts the halt.
	TypeEmergencyResume = "protocol.emergencyResume"
	// TypeAdminUpdated is emitted when the protocol admin key is rotated.
	TypeAdminUpdated = "protocol.adminUpdated"
)

type EmergencyStop struct{}

func (EmergencyStop) EventType() string { return TypeEmergencyStop }

func (EmergencyStop) Event() *types.Event {
	return &types.Event{Type: TypeEmergencyStop, Attributes: map[string]string{}}
}

type EmergencyResume struct{}

func (EmergencyResume) EventType() string { return TypeEmergencyResume }

func (EmergencyResume) Event() *types.Event {
	return &types.Event{Type: TypeEmergencyResume, Attributes: map[string]string{}}
}

type AdminUpdated struct {
	PreviousAdmin [20]byte
	NewAdmin      [20]byte
}

func (AdminUpdated) EventType() string { return TypeAdminUpdated }

func (e AdminUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAdminUpdated,
		Attributes: map[string]string{
			"previousAdmin": accountAddr(e.PreviousAdmin),
			"newAdmin":      accountAddr(e.NewAdmin),
		},
	}
}
