package provider

// ConnState is the engine-reported transport connection state, delivered via
// ConnectionStateChanged events. It is distinct from the session-level state
// machine, which derives its own lifecycle from these events.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnFailed
)

type OfflineReason int32

const (
	OfflineQuit OfflineReason = iota
	OfflineDropped
	OfflineRoleChanged
)

// Event is a callback emitted by the engine. The concrete types below are the
// full set a session consumes.
type Event interface {
	isEvent()
}

type JoinSuccess struct {
	Channel string
	UID     uint32
}

type UserJoined struct {
	UID uint32
}

type UserOffline struct {
	UID    uint32
	Reason OfflineReason
}

// UserMuteChanged reports a remote participant muting or unmuting their audio.
type UserMuteChanged struct {
	UID   uint32
	Muted bool
}

type AudioVolume struct {
	UID   uint32
	Level uint8 // 0-100
}

type VolumeIndication struct {
	Speakers []AudioVolume
}

type ConnectionStateChanged struct {
	State  ConnState
	Reason int
}

// QualityUpdate carries the engine's 0 (unknown) to 5 (excellent) link
// quality estimate.
type QualityUpdate struct {
	Level int
}

type EngineError struct {
	Code int
}

type EngineWarning struct {
	Code int
}

func (JoinSuccess) isEvent() {}
func (UserJoined) isEvent() {}
func (UserOffline) isEvent() {}
func (UserMuteChanged) isEvent() {}
func (VolumeIndication) isEvent() {}
func (ConnectionStateChanged) isEvent() {}
func (QualityUpdate) isEvent() {}
func (EngineError) isEvent() {}
func (EngineWarning) isEvent() {}
