package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/credentials"
	"github.com/vulu-live/liveconn/pkg/provider"
	"github.com/vulu-live/liveconn/pkg/utils"
)

func testConfig() *config.Config {
	conf := config.DefaultConfig
	conf.AppID = "test-app"
	conf.Session.JoinTimeout = 2 * time.Second
	conf.Session.NotReadyInterval = 5 * time.Millisecond
	conf.Audio.RosterDebounce = 5 * time.Millisecond
	return &conf
}

func newTestManager(t *testing.T, factory *provider.LoopbackFactory, conf *config.Config, clk clock.Clock) *Manager {
	t.Helper()
	if conf == nil {
		conf = testConfig()
	}
	if clk == nil {
		clk = clock.New()
	}

	creds := credentials.NewManager(credentials.ManagerParams{
		Service: &credentials.StaticTokenService{},
		Config:  conf.Credentials,
		Clock:   clk,
	})
	t.Cleanup(creds.Close)

	m := NewManager(ManagerParams{
		AppID:       conf.AppID,
		Factory:     factory,
		Credentials: creds,
		Session:     conf.Session,
		Audio:       conf.Audio,
		Clock:       clk,
	})
	t.Cleanup(m.Close)
	return m
}

func TestJoinAsHost(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	res, err := m.Join(context.Background(), JoinRequest{
		Channel:  "abc",
		Identity: "u1",
		IsHost:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "abc", res.Channel)
	require.Equal(t, utils.DeriveParticipantID("u1"), res.UID)
	require.Equal(t, provider.RoleHost, res.Role)

	require.True(t, m.IsConnected())
	require.Equal(t, StateConnected, m.ConnectionState().State)
	require.Empty(t, m.GetParticipants())

	sess, ok := m.CurrentSession()
	require.True(t, ok)
	require.True(t, sess.Joined)
	require.False(t, sess.AudioMuted)
	require.True(t, sess.VideoEnabled)
}

func TestJoinAsAudience(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	res, err := m.Join(context.Background(), JoinRequest{
		Channel:  "abc",
		Identity: "viewer",
	})
	require.NoError(t, err)
	require.Equal(t, provider.RoleAudience, res.Role)

	sess, ok := m.CurrentSession()
	require.True(t, ok)
	require.True(t, sess.AudioMuted)
	require.False(t, sess.VideoEnabled)
}

func TestFreshManagerServesFirstJoin(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	// a manager straight out of NewManager must serve requests; the liveness
	// fuse has to be armed before the first IsBroken check
	var res *JoinResult
	var err error
	require.NotPanics(t, func() {
		res, err = m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	})
	require.NoError(t, err)
	require.Equal(t, "abc", res.Channel)
}

func TestClosedManagerRejectsJoin(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	m.Close()
	m.Close()

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.ErrorIs(t, err, ErrManagerClosed)
}

func TestJoinDeduplication(t *testing.T) {
	factory := &provider.LoopbackFactory{JoinLatency: 30 * time.Millisecond}
	m := newTestManager(t, factory, nil, nil)

	const callers = 8
	results := make([]*JoinResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Join(context.Background(), JoinRequest{
				Channel:  "abc",
				Identity: "u1",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}

	engines := factory.Engines()
	require.Len(t, engines, 1)
	require.EqualValues(t, 1, engines[0].JoinCalls())
}

func TestJoinDifferentTargetWaitsForInflight(t *testing.T) {
	factory := &provider.LoopbackFactory{JoinLatency: 30 * time.Millisecond}
	m := newTestManager(t, factory, nil, nil)

	firstCh := make(chan error, 1)
	go func() {
		_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
		firstCh <- err
	}()

	require.Eventually(t, func() bool {
		return m.ConnectionState().State == StateConnecting
	}, time.Second, time.Millisecond)

	// a join for a different channel must let the in-flight attempt settle
	// first, then proceed as its own attempt
	res, err := m.Join(context.Background(), JoinRequest{Channel: "xyz", Identity: "u1"})
	require.NoError(t, err)
	require.Equal(t, "xyz", res.Channel)

	require.NoError(t, <-firstCh)

	sess, ok := m.CurrentSession()
	require.True(t, ok)
	require.Equal(t, "xyz", sess.Channel)
	require.EqualValues(t, 2, factory.Engines()[0].JoinCalls())
}

func TestJoinAlreadyJoinedIsNoop(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)

	res, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)
	require.Equal(t, "abc", res.Channel)
	require.EqualValues(t, 1, factory.Engines()[0].JoinCalls())
}

func TestLeaveIsIdempotent(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	// leave before anything joined
	m.Leave()
	m.Leave()
	require.Equal(t, StateDisconnected, m.ConnectionState().State)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)

	m.Leave()
	m.Leave()
	m.Leave()

	require.Equal(t, StateDisconnected, m.ConnectionState().State)
	require.False(t, m.IsConnected())
	_, ok := m.CurrentSession()
	require.False(t, ok)
	require.Empty(t, m.GetParticipants())
}

func TestLeaveRejectsPendingJoin(t *testing.T) {
	factory := &provider.LoopbackFactory{JoinLatency: time.Hour}
	m := newTestManager(t, factory, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return m.ConnectionState().State == StateConnecting
	}, time.Second, time.Millisecond)

	m.Leave()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrLeaveRequested)
	case <-time.After(time.Second):
		t.Fatal("pending join was not rejected by leave")
	}
}

func TestJoinTimeout(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now())
	factory := &provider.LoopbackFactory{JoinLatency: time.Hour}
	conf := testConfig()
	m := newTestManager(t, factory, conf, mock)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return m.ConnectionState().State == StateConnecting
	}, time.Second, time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		mock.Add(conf.Session.JoinTimeout)
		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrJoinTimeout)
			require.Equal(t, StateFailed, m.ConnectionState().State)
			return
		case <-deadline:
			t.Fatal("join did not time out")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJoinRetriesWhileEngineWarmsUp(t *testing.T) {
	factory := &provider.LoopbackFactory{WarmupRejections: 2}
	conf := testConfig()
	m := newTestManager(t, factory, conf, nil)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, factory.Engines()[0].JoinCalls())
}

func TestJoinFailsWhenWarmupOutlastsRetries(t *testing.T) {
	factory := &provider.LoopbackFactory{WarmupRejections: 10}
	conf := testConfig()
	conf.Session.NotReadyRetries = 2
	m := newTestManager(t, factory, conf, nil)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.ErrorIs(t, err, ErrProviderRejected)
	require.Equal(t, StateFailed, m.ConnectionState().State)
}

func TestJoinBlockedChannel(t *testing.T) {
	conf := testConfig()
	creds := credentials.NewManager(credentials.ManagerParams{
		Service: &credentials.StaticTokenService{
			Blocked: map[string]string{"abc": "room is private"},
		},
		Config: conf.Credentials,
	})
	t.Cleanup(creds.Close)

	m := NewManager(ManagerParams{
		AppID:       conf.AppID,
		Factory:     &provider.LoopbackFactory{},
		Credentials: creds,
		Session:     conf.Session,
		Audio:       conf.Audio,
	})
	t.Cleanup(m.Close)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.ErrorIs(t, err, credentials.ErrAccessDenied)
}

func TestRosterFollowsProviderEvents(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	conf := testConfig()
	m := newTestManager(t, factory, conf, nil)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)
	require.Empty(t, m.GetParticipants())

	engine := factory.Engines()[0]
	engine.SimulateRemoteJoin(42)
	engine.SimulateRemoteJoin(43)
	require.Eventually(t, func() bool {
		return len(m.GetParticipants()) == 2
	}, time.Second, time.Millisecond)

	engine.SimulateVolumes(provider.AudioVolume{UID: 42, Level: 200})
	require.Eventually(t, func() bool {
		for _, p := range m.GetParticipants() {
			if p.UID == 42 && p.Speaking {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	engine.SimulateRemoteLeave(42, provider.OfflineQuit)
	require.Eventually(t, func() bool {
		ps := m.GetParticipants()
		return len(ps) == 1 && ps[0].UID == 43
	}, time.Second, time.Millisecond)
}

func TestRosterTracksRemoteMute(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)

	engine := factory.Engines()[0]
	engine.SimulateRemoteJoin(42)
	require.Eventually(t, func() bool {
		return len(m.GetParticipants()) == 1
	}, time.Second, time.Millisecond)
	require.False(t, m.GetParticipants()[0].Muted)

	engine.SimulateRemoteMute(42, true)
	require.Eventually(t, func() bool {
		ps := m.GetParticipants()
		return len(ps) == 1 && ps[0].Muted
	}, time.Second, time.Millisecond)

	engine.SimulateRemoteMute(42, false)
	require.Eventually(t, func() bool {
		ps := m.GetParticipants()
		return len(ps) == 1 && !ps[0].Muted
	}, time.Second, time.Millisecond)
}

func TestMediaTogglesRequireSession(t *testing.T) {
	m := newTestManager(t, &provider.LoopbackFactory{}, nil, nil)

	require.ErrorIs(t, m.SetAudioMuted(true), ErrNotJoined)
	require.ErrorIs(t, m.SetVideoEnabled(true), ErrNotJoined)
	require.ErrorIs(t, m.SwitchCamera(), ErrNotJoined)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1", IsHost: true})
	require.NoError(t, err)

	require.NoError(t, m.SetAudioMuted(true))
	sess, _ := m.CurrentSession()
	require.True(t, sess.AudioMuted)

	require.NoError(t, m.SetVideoEnabled(false))
	sess, _ = m.CurrentSession()
	require.False(t, sess.VideoEnabled)
}

func TestReconnectingStateOnDrop(t *testing.T) {
	factory := &provider.LoopbackFactory{}
	m := newTestManager(t, factory, nil, nil)

	_, err := m.Join(context.Background(), JoinRequest{Channel: "abc", Identity: "u1"})
	require.NoError(t, err)

	factory.Engines()[0].SimulateDrop()
	require.Eventually(t, func() bool {
		return m.ConnectionState().State == StateReconnecting
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, m.ConnectionState().ReconnectAttempts)
}
