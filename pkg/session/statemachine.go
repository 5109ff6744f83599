package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vulu-live/liveconn/pkg/logger"
	"github.com/vulu-live/liveconn/pkg/provider"
	"github.com/vulu-live/liveconn/pkg/utils"
)

// State is the externally observable connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateEnding:
		return "ending"
	}
	return "unknown"
}

// smEvent drives the state machine. Only the events below change state;
// everything else a provider emits is auxiliary data.
type smEvent interface {
	isSMEvent()
}

type beginConnect struct {
	Channel string
	Role    provider.Role
}

type joinSucceeded struct {
	Channel string
	Title   string
}

type beginReconnect struct{}

type disconnectRequested struct{}

type failure struct {
	ErrMsg string
}

type participantsUpdated struct {
	Count int
}

type qualityUpdated struct {
	Level int
}

func (beginConnect) isSMEvent() {}
func (joinSucceeded) isSMEvent() {}
func (beginReconnect) isSMEvent() {}
func (disconnectRequested) isSMEvent() {}
func (failure) isSMEvent() {}
func (participantsUpdated) isSMEvent() {}
func (qualityUpdated) isSMEvent() {}

// nextState is the pure transition core: new state from (current state,
// event), nothing else. Events outside the table leave the state unchanged.
func nextState(cur State, ev smEvent) State {
	switch ev.(type) {
	case beginConnect:
		return StateConnecting
	case joinSucceeded:
		return StateConnected
	case beginReconnect:
		return StateReconnecting
	case disconnectRequested:
		// observable as ending for the duration of teardown; the machine
		// settles to disconnected in the same application step
		return StateEnding
	case failure:
		return StateFailed
	}
	return cur
}

// ConnectionState is a read-only snapshot handed to observers and pollers.
type ConnectionState struct {
	State   State
	Channel string
	Title   string
	Role    provider.Role

	Error     string
	LastError string

	ReconnectAttempts    int
	MaxReconnectAttempts int

	Quality          int
	ParticipantCount int

	ConnectedAt    time.Time
	ReconnectingAt time.Time
}

func (cs *ConnectionState) IsConnected() bool {
	return cs.State == StateConnected
}

// StateMachine owns the ConnectionState and mutates it only through Apply.
// Observers registered through OnChanged fire once per transition.
type StateMachine struct {
	clock    clock.Clock
	logger   logger.Logger
	notifier *utils.ChangeNotifier

	lock sync.RWMutex
	cur  ConnectionState
}

func NewStateMachine(maxReconnects int, clk clock.Clock, l logger.Logger) *StateMachine {
	if clk == nil {
		clk = clock.New()
	}
	if l == nil {
		l = logger.GetLogger()
	}
	return &StateMachine{
		clock:    clk,
		logger:   l,
		notifier: utils.NewChangeNotifier(),
		cur: ConnectionState{
			State:                StateDisconnected,
			MaxReconnectAttempts: maxReconnects,
		},
	}
}

func (sm *StateMachine) Apply(ev smEvent) {
	sm.lock.Lock()
	prev := sm.cur.State
	next := nextState(prev, ev)
	sm.cur.State = next

	switch e := ev.(type) {
	case beginConnect:
		sm.cur.Channel = e.Channel
		sm.cur.Role = e.Role
		sm.cur.Error = ""
	case joinSucceeded:
		sm.cur.Channel = e.Channel
		sm.cur.Title = e.Title
		sm.cur.ReconnectAttempts = 0
		sm.cur.ConnectedAt = sm.clock.Now()
	case beginReconnect:
		sm.cur.ReconnectAttempts++
		sm.cur.ReconnectingAt = sm.clock.Now()
	case disconnectRequested:
		// settle ending -> disconnected and clear session fields
		sm.cur = ConnectionState{
			State:                StateDisconnected,
			MaxReconnectAttempts: sm.cur.MaxReconnectAttempts,
			LastError:            sm.cur.LastError,
		}
		next = StateDisconnected
	case failure:
		sm.cur.Error = e.ErrMsg
		sm.cur.LastError = e.ErrMsg
	case participantsUpdated:
		sm.cur.ParticipantCount = e.Count
	case qualityUpdated:
		sm.cur.Quality = e.Level
	}
	changed := next != prev
	sm.lock.Unlock()

	if changed {
		sm.logger.Debugw("connection state changed", "from", prev.String(), "to", next.String())
		sm.notifier.NotifyChanged()
	}
}

func (sm *StateMachine) Snapshot() ConnectionState {
	sm.lock.RLock()
	defer sm.lock.RUnlock()
	return sm.cur
}

func (sm *StateMachine) IsConnected() bool {
	sm.lock.RLock()
	defer sm.lock.RUnlock()
	return sm.cur.State == StateConnected
}

func (sm *StateMachine) OnChanged(key string, f func()) {
	sm.notifier.AddObserver(key, f)
}

func (sm *StateMachine) RemoveObserver(key string) {
	sm.notifier.RemoveObserver(key)
}
