package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"github.com/frostbyte73/core"
	"go.uber.org/atomic"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/credentials"
	"github.com/vulu-live/liveconn/pkg/logger"
	"github.com/vulu-live/liveconn/pkg/provider"
	"github.com/vulu-live/liveconn/pkg/telemetry/prometheus"
	"github.com/vulu-live/liveconn/pkg/utils"
)

// Session is the single active channel membership. Owned exclusively by the
// Manager; callers only ever see copies.
type Session struct {
	ID           string
	Channel      string
	LocalUID     uint32
	Identity     string
	Role         provider.Role
	Joined       bool
	AudioMuted   bool
	VideoEnabled bool
}

type JoinRequest struct {
	Channel  string
	Identity string
	IsHost   bool
	Title    string
	// pre-issued token; when empty a credential is acquired
	Token string
	// join on the reduced-bandwidth path with local video off
	VideoDisabled bool
}

type JoinResult struct {
	Channel string
	UID     uint32
	Role    provider.Role
}

// pendingJoin is the in-flight join future. Callers for the same
// (channel, uid) attach to it instead of starting a second attempt; the first
// resolution wins and every later one is a no-op.
type pendingJoin struct {
	channel       string
	uid           uint32
	identity      string
	role          provider.Role
	title         string
	videoDisabled bool

	// set once the provider accepted the join call; gates the
	// connection-state fallback resolution
	issued   atomic.Bool
	resolved atomic.Bool
	done     chan struct{}
	result   *JoinResult
	err      error
}

func (p *pendingJoin) resolve(result *JoinResult, err error) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.result = result
	p.err = err
	close(p.done)
	return true
}

func (p *pendingJoin) isResolved() bool {
	return p.resolved.Load()
}

// outcome blocks until the attempt has settled. Reading result/err through
// the closed done channel gives the necessary happens-before edge.
func (p *pendingJoin) outcome() (*JoinResult, error) {
	<-p.done
	return p.result, p.err
}

type ManagerParams struct {
	AppID       string
	Factory     provider.Factory
	Credentials *credentials.Manager
	Session     config.SessionConfig
	Audio       config.AudioConfig
	Clock       clock.Clock
	Logger      logger.Logger
}

// Manager owns the process-wide session: join/leave, local media toggles and
// the participant roster. Provider events are consumed by a single goroutine
// so roster and state mutations never interleave destructively.
type Manager struct {
	params ManagerParams

	sm             *StateMachine
	roster         *roster
	rosterNotifier *utils.ChangeNotifier
	rosterDebounce func(func())
	notifyQueue    *utils.OpsQueue

	lock       sync.Mutex
	engine     provider.Engine
	engineStop chan struct{}
	session    *Session
	pending    *pendingJoin

	closed core.Fuse
}

func NewManager(params ManagerParams) *Manager {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	m := &Manager{
		params:         params,
		sm:             NewStateMachine(params.Session.MaxReconnects, params.Clock, params.Logger),
		rosterNotifier: utils.NewChangeNotifier(),
		rosterDebounce: debounce.New(params.Audio.RosterDebounce),
		notifyQueue:    utils.NewOpsQueue(params.Logger, "roster-notify", 64),
		closed:         core.NewFuse(),
	}
	m.roster = newRoster(m.onRosterChanged)
	m.notifyQueue.Start()
	return m
}

// Join establishes membership in a channel. Concurrent calls for the same
// channel and identity collapse onto one provider join; a concurrent call for
// a different target waits for the in-flight attempt to settle first.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if m.closed.IsBroken() {
		return nil, ErrManagerClosed
	}

	uid := utils.DeriveParticipantID(req.Identity)
	role := provider.RoleAudience
	if req.IsHost {
		role = provider.RoleHost
	}

	for {
		m.lock.Lock()
		if p := m.pending; p != nil {
			if p.channel == req.Channel && p.uid == uid {
				// attach to the in-flight attempt
				m.lock.Unlock()
				return m.await(ctx, p)
			}
			m.lock.Unlock()
			// a different join is settling; wait, then re-evaluate
			select {
			case <-p.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if s := m.session; s != nil && s.Channel == req.Channel && s.LocalUID == uid {
			engine := m.engine
			m.lock.Unlock()
			// already joined: re-assert role preferences and report success
			m.applyRolePreferences(engine, role, req.VideoDisabled)
			return &JoinResult{Channel: req.Channel, UID: uid, Role: role}, nil
		}

		p := &pendingJoin{
			channel:       req.Channel,
			uid:           uid,
			identity:      req.Identity,
			role:          role,
			title:         req.Title,
			videoDisabled: req.VideoDisabled,
			done:          make(chan struct{}),
		}
		m.pending = p
		m.lock.Unlock()
		return m.startJoin(ctx, p, req)
	}
}

func (m *Manager) startJoin(ctx context.Context, p *pendingJoin, req JoinRequest) (*JoinResult, error) {
	log := m.params.Logger.WithValues("channel", p.channel, "uid", p.uid, "role", p.role.String())
	prometheus.RecordJoinAttempt()

	// an existing session for a different target is left first
	m.lock.Lock()
	hadSession := m.session != nil
	engine := m.engine
	m.session = nil
	m.lock.Unlock()
	if hadSession && engine != nil {
		if err := engine.LeaveChannel(); err != nil {
			log.Warnw("could not leave previous channel", err)
		}
		m.roster.clear()
	}

	if err := m.params.Credentials.CheckAccess(ctx, p.channel); err != nil {
		return m.failJoin(p, log, err)
	}
	if p.isResolved() {
		return p.outcome()
	}

	token := req.Token
	if token == "" {
		cred, err := m.params.Credentials.Acquire(ctx, credentials.Key{
			Channel: p.channel,
			UID:     p.uid,
			Role:    p.role,
		})
		if err != nil {
			return m.failJoin(p, log, err)
		}
		token = cred.Token
	}
	if p.isResolved() {
		return p.outcome()
	}

	engine, err := m.ensureEngine()
	if err != nil {
		return m.failJoin(p, log, err)
	}

	m.sm.Apply(beginConnect{Channel: p.channel, Role: p.role})

	if err = engine.SetRole(p.role); err != nil {
		return m.failJoin(p, log, err)
	}

	rc := engine.JoinChannel(token, p.channel, p.uid)
	for retry := 0; rc.Retryable() && retry < m.params.Session.NotReadyRetries; retry++ {
		log.Debugw("engine not ready, retrying join", "retry", retry+1)
		timer := m.params.Clock.Timer(m.params.Session.NotReadyInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return m.failJoin(p, log, ctx.Err())
		}
		if p.isResolved() {
			return p.outcome()
		}
		rc = engine.JoinChannel(token, p.channel, p.uid)
	}
	if !rc.OK() {
		return m.failJoin(p, log, fmt.Errorf("%w: result code %d", ErrProviderRejected, rc))
	}
	p.issued.Store(true)

	return m.await(ctx, p)
}

// await blocks until the attempt settles, the join timeout fires, or the
// caller's context is cancelled. Cancellation only releases this caller; the
// attempt itself keeps running and settles through an event or the timeout.
func (m *Manager) await(ctx context.Context, p *pendingJoin) (*JoinResult, error) {
	timeout := m.params.Clock.Timer(m.params.Session.JoinTimeout)
	defer timeout.Stop()

	select {
	case <-p.done:
	case <-timeout.C:
		if p.resolve(nil, ErrJoinTimeout) {
			m.clearPending(p)
			m.sm.Apply(failure{ErrMsg: ErrJoinTimeout.Error()})
			m.params.Logger.Warnw("join timed out", nil, "channel", p.channel, "uid", p.uid)

			m.lock.Lock()
			engine := m.engine
			m.lock.Unlock()
			if engine != nil {
				_ = engine.LeaveChannel()
			}
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.outcome()
}

func (m *Manager) failJoin(p *pendingJoin, log logger.Logger, err error) (*JoinResult, error) {
	if p.resolve(nil, err) {
		m.clearPending(p)
		m.sm.Apply(failure{ErrMsg: err.Error()})
		log.Warnw("join failed", err)
	}
	return p.outcome()
}

func (m *Manager) clearPending(p *pendingJoin) {
	m.lock.Lock()
	if m.pending == p {
		m.pending = nil
	}
	m.lock.Unlock()
}

// Leave is idempotent: safe with no active or in-flight session. A pending
// join is rejected with ErrLeaveRequested so its callers unblock immediately.
func (m *Manager) Leave() {
	m.lock.Lock()
	p := m.pending
	m.pending = nil
	engine := m.engine
	m.session = nil
	m.lock.Unlock()

	if p != nil && p.resolve(nil, ErrLeaveRequested) {
		m.params.Logger.Infow("rejected in-flight join on leave", "channel", p.channel)
	}
	if engine != nil {
		if err := engine.LeaveChannel(); err != nil {
			m.params.Logger.Warnw("leave channel failed", err)
		}
	}

	m.roster.clear()
	m.sm.Apply(disconnectRequested{})
	prometheus.SetConnected(false)
}

func (m *Manager) SetAudioMuted(mute bool) error {
	m.lock.Lock()
	engine, sess := m.engine, m.session
	m.lock.Unlock()
	if engine == nil || sess == nil {
		return ErrNotJoined
	}

	if err := engine.MuteLocalAudio(mute); err != nil {
		// local state is deliberately left untouched so callers re-query
		m.params.Logger.Warnw("mute local audio failed", err, "mute", mute)
		return err
	}

	m.lock.Lock()
	if m.session != nil {
		m.session.AudioMuted = mute
	}
	m.lock.Unlock()
	return nil
}

func (m *Manager) SetVideoEnabled(enabled bool) error {
	m.lock.Lock()
	engine, sess := m.engine, m.session
	m.lock.Unlock()
	if engine == nil || sess == nil {
		return ErrNotJoined
	}

	if err := engine.EnableLocalVideo(enabled); err != nil {
		m.params.Logger.Warnw("enable local video failed", err, "enabled", enabled)
		return err
	}

	m.lock.Lock()
	if m.session != nil {
		m.session.VideoEnabled = enabled
	}
	m.lock.Unlock()
	return nil
}

func (m *Manager) SwitchCamera() error {
	m.lock.Lock()
	engine, sess := m.engine, m.session
	m.lock.Unlock()
	if engine == nil || sess == nil {
		return ErrNotJoined
	}

	if err := engine.SwitchCamera(); err != nil {
		m.params.Logger.Warnw("switch camera failed", err)
		return err
	}
	return nil
}

// Reinitialize tears the engine down and creates a fresh one. The session, if
// any, is gone afterwards; callers are expected to rejoin.
func (m *Manager) Reinitialize() error {
	m.lock.Lock()
	engine, stop := m.engine, m.engineStop
	m.engine, m.engineStop = nil, nil
	m.session = nil
	m.lock.Unlock()

	if engine != nil {
		close(stop)
		engine.Destroy()
	}
	m.roster.clear()

	_, err := m.ensureEngine()
	return err
}

func (m *Manager) CurrentSession() (Session, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

func (m *Manager) ConnectionState() ConnectionState {
	return m.sm.Snapshot()
}

func (m *Manager) IsConnected() bool {
	return m.sm.IsConnected()
}

func (m *Manager) GetParticipants() []Participant {
	return m.roster.snapshot()
}

func (m *Manager) OnStateChanged(key string, f func()) {
	m.sm.OnChanged(key, f)
}

func (m *Manager) RemoveStateObserver(key string) {
	m.sm.RemoveObserver(key)
}

func (m *Manager) OnRosterChanged(key string, f func()) {
	m.rosterNotifier.AddObserver(key, f)
}

func (m *Manager) Close() {
	m.closed.Once(func() {
		m.Leave()

		m.lock.Lock()
		engine, stop := m.engine, m.engineStop
		m.engine, m.engineStop = nil, nil
		m.lock.Unlock()
		if engine != nil {
			close(stop)
			engine.Destroy()
		}
		m.notifyQueue.Stop()
	})
}

func (m *Manager) ensureEngine() (provider.Engine, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.engine != nil {
		return m.engine, nil
	}

	engine, err := m.params.Factory.CreateEngine(m.params.AppID)
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	m.engine = engine
	m.engineStop = stop
	go m.runEventLoop(engine, stop)
	return engine, nil
}

// runEventLoop is the session's owning goroutine: every provider event is
// applied here, in emission order.
func (m *Manager) runEventLoop(engine provider.Engine, stop chan struct{}) {
	for {
		select {
		case ev, ok := <-engine.Events():
			if !ok {
				return
			}
			m.handleEvent(engine, ev)
		case <-stop:
			return
		}
	}
}

func (m *Manager) handleEvent(engine provider.Engine, ev provider.Event) {
	switch e := ev.(type) {
	case provider.JoinSuccess:
		m.resolveJoin(engine, e.Channel)
	case provider.UserJoined:
		m.roster.add(e.UID, m.params.Clock.Now())
	case provider.UserOffline:
		m.roster.remove(e.UID)
	case provider.UserMuteChanged:
		m.roster.setMuted(e.UID, e.Muted)
	case provider.VolumeIndication:
		m.roster.updateVolumes(e.Speakers, m.params.Audio.SpeakingLevel)
	case provider.ConnectionStateChanged:
		switch e.State {
		case provider.ConnConnected:
			// fallback resolution for a missed join-success callback; a no-op
			// when the join already resolved
			m.resolveJoin(engine, "")
		case provider.ConnReconnecting:
			m.sm.Apply(beginReconnect{})
		case provider.ConnFailed:
			m.sm.Apply(failure{ErrMsg: fmt.Sprintf("transport failed (reason %d)", e.Reason)})
		}
	case provider.QualityUpdate:
		m.sm.Apply(qualityUpdated{Level: e.Level})
	case provider.EngineError:
		m.sm.Apply(failure{ErrMsg: fmt.Sprintf("engine error %d", e.Code)})
		m.params.Logger.Warnw("engine error", nil, "code", e.Code)
	case provider.EngineWarning:
		m.params.Logger.Debugw("engine warning", "code", e.Code)
	}
}

// resolveJoin settles the pending join. channel == "" means the trigger was a
// connection-state observation rather than an explicit join-success callback;
// that path only applies to attempts whose provider join has been issued, so a
// stale connected event cannot settle a newer attempt.
func (m *Manager) resolveJoin(engine provider.Engine, channel string) {
	m.lock.Lock()
	p := m.pending
	if p == nil || (channel != "" && p.channel != channel) || (channel == "" && !p.issued.Load()) {
		m.lock.Unlock()
		return
	}
	if !p.resolve(&JoinResult{Channel: p.channel, UID: p.uid, Role: p.role}, nil) {
		m.lock.Unlock()
		return
	}
	m.pending = nil
	m.session = &Session{
		ID:           utils.NewGuid(utils.SessionPrefix),
		Channel:      p.channel,
		LocalUID:     p.uid,
		Identity:     p.identity,
		Role:         p.role,
		Joined:       true,
		AudioMuted:   p.role != provider.RoleHost,
		VideoEnabled: p.role == provider.RoleHost && !p.videoDisabled,
	}
	m.lock.Unlock()

	m.params.Logger.Infow("joined channel",
		"channel", p.channel, "uid", p.uid, "role", p.role.String())
	m.sm.Apply(joinSucceeded{Channel: p.channel, Title: p.title})
	m.applyRolePreferences(engine, p.role, p.videoDisabled)
	prometheus.RecordJoinSuccess()
	prometheus.SetConnected(true)
}

// applyRolePreferences asserts the role-dependent defaults after a join:
// hosts start with local audio unmuted, non-hosts with remote audio
// subscription enabled. All best-effort; failures are logged, never fatal.
func (m *Manager) applyRolePreferences(engine provider.Engine, role provider.Role, videoDisabled bool) {
	if engine == nil {
		return
	}
	if role == provider.RoleHost {
		if err := engine.MuteLocalAudio(false); err != nil {
			m.params.Logger.Warnw("could not unmute host audio", err)
		}
		if videoDisabled {
			if err := engine.EnableLocalVideo(false); err != nil {
				m.params.Logger.Warnw("could not disable local video", err)
			}
		}
	} else {
		if err := engine.MuteAllRemoteAudio(false); err != nil {
			m.params.Logger.Warnw("could not enable remote audio subscription", err)
		}
	}
}

func (m *Manager) onRosterChanged(_ int) {
	m.rosterDebounce(func() {
		count := m.roster.count()
		m.sm.Apply(participantsUpdated{Count: count})
		prometheus.SetParticipantCount(count)
		// observers run serialized on the notify queue, never on the
		// debounce timer goroutine
		m.notifyQueue.Enqueue(m.rosterNotifier.NotifyChanged)
	})
}
