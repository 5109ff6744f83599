package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/credentials"
	"github.com/vulu-live/liveconn/pkg/logger"
	"github.com/vulu-live/liveconn/pkg/provider"
	"github.com/vulu-live/liveconn/pkg/recovery"
	"github.com/vulu-live/liveconn/pkg/session"
	"github.com/vulu-live/liveconn/pkg/telemetry/prometheus"
)

type SessionServiceParams struct {
	Config  *config.Config
	Service credentials.TokenService
	Factory provider.Factory
	Clock   clock.Clock
	Logger  logger.Logger
}

// SessionService is the application-facing facade: it wires the credential
// manager, session manager and recovery orchestrator together and exposes the
// operations the UI layer calls. Construct exactly one per process and pass
// it by handle; there is no package-level instance.
type SessionService struct {
	conf   *config.Config
	logger logger.Logger

	credentials  *credentials.Manager
	sessions     *session.Manager
	orchestrator *recovery.Orchestrator

	lock       sync.RWMutex
	lastJoin   *session.JoinRequest
	promServer *http.Server
}

func NewSessionService(params SessionServiceParams) *SessionService {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	l := params.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	creds := credentials.NewManager(credentials.ManagerParams{
		Service: params.Service,
		Config:  params.Config.Credentials,
		Clock:   c,
		Logger:  l,
	})
	sessions := session.NewManager(session.ManagerParams{
		AppID:       params.Config.AppID,
		Factory:     params.Factory,
		Credentials: creds,
		Session:     params.Config.Session,
		Audio:       params.Config.Audio,
		Clock:       c,
		Logger:      l,
	})

	s := &SessionService{
		conf:        params.Config,
		logger:      l.WithComponent("service"),
		credentials: creds,
		sessions:    sessions,
	}
	s.orchestrator = recovery.NewOrchestrator(recovery.OrchestratorParams{
		Executor: &sessionExecutor{
			sessions: sessions,
			creds:    creds,
			conf:     params.Config.Recovery,
			clock:    c,
			target:   s.joinTarget,
		},
		Config: params.Config.Recovery,
		Clock:  c,
		Logger: l,
	})
	return s
}

// Start initializes telemetry and, when configured, serves the metrics
// endpoint. It does not join anything.
func (s *SessionService) Start() error {
	prometheus.Init(s.conf.AppID)

	if s.conf.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.conf.PrometheusPort),
			Handler: mux,
		}
		go func() {
			if err := s.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Errorw("metrics server failed", err)
			}
		}()
		s.logger.Infow("serving metrics", "port", s.conf.PrometheusPort)
	}
	return nil
}

// Join establishes membership in a channel and remembers the target so a
// later Recover can rejoin it.
func (s *SessionService) Join(ctx context.Context, req session.JoinRequest) (*session.JoinResult, error) {
	s.lock.Lock()
	reqCopy := req
	s.lastJoin = &reqCopy
	s.lock.Unlock()

	return s.sessions.Join(ctx, req)
}

// Leave tears down the active membership. Safe to call in any state.
func (s *SessionService) Leave() {
	s.sessions.Leave()
}

// Recover drives remediation after a failed join or a dropped connection.
func (s *SessionService) Recover(ctx context.Context, cause error) recovery.Result {
	return s.orchestrator.Recover(ctx, cause)
}

func (s *SessionService) RecoveryStats() recovery.Stats {
	return s.orchestrator.Stats()
}

func (s *SessionService) RecoveryHistory() []recovery.AttemptRecord {
	return s.orchestrator.History()
}

func (s *SessionService) GetConnectionState() session.ConnectionState {
	return s.sessions.ConnectionState()
}

func (s *SessionService) IsConnected() bool {
	return s.sessions.IsConnected()
}

func (s *SessionService) GetParticipants() []session.Participant {
	return s.sessions.GetParticipants()
}

func (s *SessionService) CurrentSession() (session.Session, bool) {
	return s.sessions.CurrentSession()
}

func (s *SessionService) SetAudioMuted(mute bool) error {
	return s.sessions.SetAudioMuted(mute)
}

func (s *SessionService) SetVideoEnabled(enabled bool) error {
	return s.sessions.SetVideoEnabled(enabled)
}

func (s *SessionService) SwitchCamera() error {
	return s.sessions.SwitchCamera()
}

func (s *SessionService) OnStateChanged(key string, f func()) {
	s.sessions.OnStateChanged(key, f)
}

func (s *SessionService) RemoveStateObserver(key string) {
	s.sessions.RemoveStateObserver(key)
}

func (s *SessionService) OnRosterChanged(key string, f func()) {
	s.sessions.OnRosterChanged(key, f)
}

// Close releases the session, cancels credential renewals and stops the
// metrics server.
func (s *SessionService) Close() {
	s.sessions.Close()
	s.credentials.Close()

	s.lock.Lock()
	srv := s.promServer
	s.promServer = nil
	s.lock.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (s *SessionService) joinTarget() (session.JoinRequest, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.lastJoin == nil {
		return session.JoinRequest{}, false
	}
	return *s.lastJoin, true
}

func roleFor(req session.JoinRequest) provider.Role {
	if req.IsHost {
		return provider.RoleHost
	}
	return provider.RoleAudience
}
