package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/vulu-live/liveconn/pkg/provider"
)

// Key identifies a cached credential. At most one live credential exists per
// key.
type Key struct {
	Channel string
	UID     uint32
	Role    provider.Role
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Channel, k.UID, k.Role)
}

// Credential is an opaque join token plus the parameters it was issued for.
type Credential struct {
	Key
	Token     string
	ExpiresAt time.Time
}

// UsableAt reports whether the credential can still be handed to the provider
// at the given instant. A credential inside the renewal buffer is treated as
// expired so a join never races token expiry.
func (c *Credential) UsableAt(now time.Time, buffer time.Duration) bool {
	return now.Before(c.ExpiresAt.Add(-buffer))
}

// TokenService is the external credential issuer. Implementations must be safe
// for concurrent use.
type TokenService interface {
	IssueToken(ctx context.Context, channel string, uid uint32, role provider.Role, ttl time.Duration) (token string, expiresAt time.Time, err error)
	ValidateAccess(ctx context.Context, channel string) (canJoin bool, reason string, err error)
}
