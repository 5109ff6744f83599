package provider

// Role determines whether a participant may publish media.
type Role int32

const (
	RoleAudience Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "audience"
}

// ResultCode is the synchronous return of Engine.JoinChannel. Zero means the
// join was accepted and a JoinSuccess event will follow; negative codes are
// rejections. ResultNotReady is the one retryable rejection: engines report it
// while still warming up.
type ResultCode int

const (
	ResultOK       ResultCode = 0
	ResultNotReady ResultCode = -7
)

func (rc ResultCode) OK() bool {
	return rc == ResultOK
}

func (rc ResultCode) Retryable() bool {
	return rc == ResultNotReady
}

// Engine is the media transport handle. Implementations wrap a vendor SDK;
// the session layer never sees past this interface.
//
// Events delivers engine callbacks in emission order on a single channel.
// The channel is closed when the engine is destroyed.
type Engine interface {
	SetRole(role Role) error
	JoinChannel(token string, channel string, uid uint32) ResultCode
	LeaveChannel() error

	MuteLocalAudio(mute bool) error
	EnableLocalVideo(enable bool) error
	SwitchCamera() error
	MuteAllRemoteAudio(mute bool) error

	Events() <-chan Event
	Destroy()
}

// Factory creates engines. Recovery's reinitialize strategy tears an engine
// down and asks the factory for a fresh one.
type Factory interface {
	CreateEngine(appID string) (Engine, error)
}
