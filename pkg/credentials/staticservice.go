package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"github.com/vulu-live/liveconn/pkg/provider"
)

// StaticTokenService mints self-contained tokens locally. It backs the dev
// runner and tests; tokens are opaque and never validated by anything.
type StaticTokenService struct {
	// channels listed here are refused with the mapped reason
	Blocked map[string]string
}

func (s *StaticTokenService) IssueToken(ctx context.Context, channel string, uid uint32, role provider.Role, ttl time.Duration) (string, time.Time, error) {
	token := fmt.Sprintf("tok-%s-%d-%s", channel, uid, shortuuid.New())
	return token, time.Now().Add(ttl), nil
}

func (s *StaticTokenService) ValidateAccess(ctx context.Context, channel string) (bool, string, error) {
	if reason, ok := s.Blocked[channel]; ok {
		return false, reason, nil
	}
	return true, "", nil
}
