package provider

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

var ErrEngineDestroyed = errors.New("engine has been destroyed")

// LoopbackFactory hands out in-memory engines that emit synthetic events.
// It backs the dev runner and integration-style tests; no media moves.
type LoopbackFactory struct {
	// engines report not-ready for this many JoinChannel calls after creation,
	// imitating vendor SDK warm-up latency
	WarmupRejections int
	// every join is rejected until this many have been attempted
	FailJoins int
	// delay before the JoinSuccess event fires
	JoinLatency time.Duration
	// capacity of each engine's event channel; 64 when unset
	EventBufferSize int

	lock    sync.Mutex
	created []*LoopbackEngine
}

func (f *LoopbackFactory) CreateEngine(appID string) (Engine, error) {
	if appID == "" {
		return nil, errors.New("app id is required")
	}

	size := f.EventBufferSize
	if size <= 0 {
		size = 64
	}
	e := &LoopbackEngine{
		factory:     f,
		joinLatency: f.JoinLatency,
		events:      make(chan Event, size),
	}
	e.notReadyLeft.Store(int32(f.WarmupRejections))

	f.lock.Lock()
	f.created = append(f.created, e)
	f.lock.Unlock()
	return e, nil
}

// Engines returns every engine this factory has created, in creation order.
func (f *LoopbackFactory) Engines() []*LoopbackEngine {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]*LoopbackEngine(nil), f.created...)
}

type LoopbackEngine struct {
	factory     *LoopbackFactory
	joinLatency time.Duration

	lock      sync.Mutex
	destroyed bool
	role      Role
	channel   string
	uid       uint32
	joined    bool

	notReadyLeft atomic.Int32
	joinCalls    atomic.Int32

	events chan Event
}

func (e *LoopbackEngine) SetRole(role Role) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.destroyed {
		return ErrEngineDestroyed
	}
	e.role = role
	return nil
}

func (e *LoopbackEngine) JoinChannel(token string, channel string, uid uint32) ResultCode {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.destroyed {
		return ResultCode(-1)
	}

	e.joinCalls.Inc()
	if e.notReadyLeft.Load() > 0 {
		e.notReadyLeft.Dec()
		return ResultNotReady
	}
	if e.factory != nil {
		e.factory.lock.Lock()
		reject := e.factory.FailJoins > 0
		if reject {
			e.factory.FailJoins--
		}
		e.factory.lock.Unlock()
		if reject {
			return ResultCode(-2)
		}
	}
	if token == "" {
		return ResultCode(-3)
	}

	e.channel = channel
	e.uid = uid
	e.joined = true

	latency := e.joinLatency
	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		e.emit(ConnectionStateChanged{State: ConnConnecting})
		e.emit(JoinSuccess{Channel: channel, UID: uid})
		e.emit(ConnectionStateChanged{State: ConnConnected})
	}()
	return ResultOK
}

func (e *LoopbackEngine) LeaveChannel() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.destroyed {
		return ErrEngineDestroyed
	}
	e.joined = false
	e.channel = ""
	return nil
}

func (e *LoopbackEngine) MuteLocalAudio(mute bool) error { return e.checkAlive() }

func (e *LoopbackEngine) EnableLocalVideo(enable bool) error { return e.checkAlive() }

func (e *LoopbackEngine) SwitchCamera() error { return e.checkAlive() }

func (e *LoopbackEngine) MuteAllRemoteAudio(mute bool) error { return e.checkAlive() }

func (e *LoopbackEngine) checkAlive() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.destroyed {
		return ErrEngineDestroyed
	}
	return nil
}

func (e *LoopbackEngine) Events() <-chan Event {
	return e.events
}

func (e *LoopbackEngine) Destroy() {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true
	close(e.events)
}

// SimulateRemoteJoin injects a remote participant, as if the provider had
// delivered a user-joined callback.
func (e *LoopbackEngine) SimulateRemoteJoin(uid uint32) {
	e.emit(UserJoined{UID: uid})
}

func (e *LoopbackEngine) SimulateRemoteLeave(uid uint32, reason OfflineReason) {
	e.emit(UserOffline{UID: uid, Reason: reason})
}

func (e *LoopbackEngine) SimulateRemoteMute(uid uint32, muted bool) {
	e.emit(UserMuteChanged{UID: uid, Muted: muted})
}

func (e *LoopbackEngine) SimulateVolumes(speakers ...AudioVolume) {
	e.emit(VolumeIndication{Speakers: speakers})
}

func (e *LoopbackEngine) SimulateDrop() {
	e.emit(ConnectionStateChanged{State: ConnReconnecting, Reason: 1})
}

func (e *LoopbackEngine) SimulateQuality(level int) {
	e.emit(QualityUpdate{Level: level})
}

func (e *LoopbackEngine) JoinCalls() int {
	return int(e.joinCalls.Load())
}

func (e *LoopbackEngine) emit(ev Event) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.destroyed {
		return
	}
	select {
	case e.events <- ev:
	default:
		// drop rather than block the emitter; the session's buffer is sized
		// well above loopback volume
	}
}
