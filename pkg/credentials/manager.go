package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"
	"github.com/jellydator/ttlcache/v3"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/logger"
)

type ManagerParams struct {
	Service TokenService
	Config  config.CredentialConfig
	Clock   clock.Clock
	Logger  logger.Logger
}

// Manager caches short-lived join tokens per (channel, uid, role) and renews
// them in the background before they cross the renewal buffer.
type Manager struct {
	params ManagerParams

	cache *ttlcache.Cache[Key, *Credential]

	lock     sync.Mutex
	renewals map[Key]*clock.Timer

	stop core.Fuse
}

func NewManager(params ManagerParams) *Manager {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[Key, *Credential](params.Config.TokenTTL),
		ttlcache.WithDisableTouchOnHit[Key, *Credential](),
	)
	go cache.Start()

	return &Manager{
		params:   params,
		cache:    cache,
		renewals: make(map[Key]*clock.Timer),
		stop:     core.NewFuse(),
	}
}

// Acquire returns a usable credential for key, from cache when the cached
// entry is still outside the renewal buffer, otherwise freshly issued.
func (m *Manager) Acquire(ctx context.Context, key Key) (*Credential, error) {
	if m.stop.IsBroken() {
		return nil, ErrManagerClosed
	}

	if item := m.cache.Get(key); item != nil {
		cred := item.Value()
		if cred.UsableAt(m.params.Clock.Now(), m.params.Config.RenewalBuffer) {
			return cred, nil
		}
	}

	return m.issue(ctx, key)
}

// RenewIfNeeded checks the supplied expiry against the buffer and issues a
// fresh credential when it is about to lapse. It returns nil when the current
// credential is still usable.
func (m *Manager) RenewIfNeeded(ctx context.Context, key Key, currentExpiry time.Time) (*Credential, error) {
	if m.stop.IsBroken() {
		return nil, ErrManagerClosed
	}
	if m.params.Clock.Now().Before(currentExpiry.Add(-m.params.Config.RenewalBuffer)) {
		return nil, nil
	}
	return m.issue(ctx, key)
}

// CheckAccess asks the token service whether the channel may be joined at all.
func (m *Manager) CheckAccess(ctx context.Context, channel string) error {
	canJoin, reason, err := m.params.Service.ValidateAccess(ctx, channel)
	if err != nil {
		return wrapErr(ErrCredentialUnavailable, err)
	}
	if !canJoin {
		m.params.Logger.Infow("channel access refused", "channel", channel, "reason", reason)
		return fmt.Errorf("%w: %s", ErrAccessDenied, reason)
	}
	return nil
}

// Invalidate drops one cached entry and cancels its renewal timer.
func (m *Manager) Invalidate(key Key) {
	m.cache.Delete(key)
	m.cancelRenewal(key)
}

// InvalidateAll drops every cached credential; used on logout and after
// credential-service failures.
func (m *Manager) InvalidateAll() {
	m.cache.DeleteAll()

	m.lock.Lock()
	for key, t := range m.renewals {
		t.Stop()
		delete(m.renewals, key)
	}
	m.lock.Unlock()
}

func (m *Manager) Close() {
	m.stop.Once(func() {
		m.InvalidateAll()
		m.cache.Stop()
	})
}

func (m *Manager) issue(ctx context.Context, key Key) (*Credential, error) {
	issueCtx := ctx
	if m.params.Config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		issueCtx, cancel = context.WithTimeout(ctx, m.params.Config.RequestTimeout)
		defer cancel()
	}

	token, expiresAt, err := m.params.Service.IssueToken(issueCtx, key.Channel, key.UID, key.Role, m.params.Config.TokenTTL)
	if err != nil {
		m.params.Logger.Errorw("token issue failed", err, "key", key.String())
		return nil, wrapErr(ErrCredentialUnavailable, err)
	}
	if token == "" || !expiresAt.After(m.params.Clock.Now()) {
		m.params.Logger.Errorw("token service returned invalid payload", nil,
			"key", key.String(), "expiresAt", expiresAt)
		return nil, ErrCredentialUnavailable
	}

	cred := &Credential{
		Key:       key,
		Token:     token,
		ExpiresAt: expiresAt,
	}

	ttl := expiresAt.Sub(m.params.Clock.Now())
	m.cache.Set(key, cred, ttl)
	m.armRenewal(cred)

	m.params.Logger.Debugw("credential issued", "key", key.String(), "expiresAt", expiresAt)
	return cred, nil
}

// armRenewal schedules a background renewal at expiry - buffer. Each renewal
// re-arms the next one; a failed renewal logs and leaves the stale entry so
// the next Acquire forces a fresh issue.
func (m *Manager) armRenewal(cred *Credential) {
	delay := cred.ExpiresAt.Add(-m.params.Config.RenewalBuffer).Sub(m.params.Clock.Now())
	if delay <= 0 {
		return
	}

	m.lock.Lock()
	if prev := m.renewals[cred.Key]; prev != nil {
		prev.Stop()
	}
	key := cred.Key
	m.renewals[cred.Key] = m.params.Clock.AfterFunc(delay, func() {
		m.renew(key)
	})
	m.lock.Unlock()
}

func (m *Manager) renew(key Key) {
	if m.stop.IsBroken() {
		return
	}

	ctx := context.Background()
	if _, err := m.issue(ctx, key); err != nil {
		m.params.Logger.Warnw("background credential renewal failed, keeping stale entry", err,
			"key", key.String())
	}
}

func (m *Manager) cancelRenewal(key Key) {
	m.lock.Lock()
	if t := m.renewals[key]; t != nil {
		t.Stop()
		delete(m.renewals, key)
	}
	m.lock.Unlock()
}
