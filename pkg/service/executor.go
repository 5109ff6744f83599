package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/credentials"
	"github.com/vulu-live/liveconn/pkg/session"
	"github.com/vulu-live/liveconn/pkg/utils"
)

var ErrNoRecoveryTarget = errors.New("no previous join target to recover")

// sessionExecutor adapts the session and credential managers to the recovery
// strategy actions. The target to rejoin is the most recent join request,
// supplied by the owning service.
type sessionExecutor struct {
	sessions *session.Manager
	creds    *credentials.Manager
	conf     config.RecoveryConfig
	clock    clock.Clock
	target   func() (session.JoinRequest, bool)
}

func (e *sessionExecutor) RenewToken(ctx context.Context) error {
	req, ok := e.target()
	if !ok {
		return ErrNoRecoveryTarget
	}

	key := credentials.Key{
		Channel: req.Channel,
		UID:     utils.DeriveParticipantID(req.Identity),
		Role:    roleFor(req),
	}
	e.creds.Invalidate(key)
	_, err := e.creds.Acquire(ctx, key)
	return err
}

func (e *sessionExecutor) Reconnect(ctx context.Context) error {
	req, ok := e.target()
	if !ok {
		return ErrNoRecoveryTarget
	}

	e.sessions.Leave()
	if err := e.pause(ctx); err != nil {
		return err
	}
	_, err := e.sessions.Join(ctx, req)
	return err
}

func (e *sessionExecutor) Reinitialize(ctx context.Context) error {
	req, ok := e.target()
	if !ok {
		return ErrNoRecoveryTarget
	}

	if err := e.sessions.Reinitialize(); err != nil {
		return err
	}
	_, err := e.sessions.Join(ctx, req)
	return err
}

func (e *sessionExecutor) EnterFallback(ctx context.Context) error {
	req, ok := e.target()
	if !ok {
		return ErrNoRecoveryTarget
	}

	req.VideoDisabled = true
	e.sessions.Leave()
	if err := e.pause(ctx); err != nil {
		return err
	}
	_, err := e.sessions.Join(ctx, req)
	return err
}

func (e *sessionExecutor) pause(ctx context.Context) error {
	if e.conf.ReconnectPause <= 0 {
		return nil
	}
	t := e.clock.Timer(e.conf.ReconnectPause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
