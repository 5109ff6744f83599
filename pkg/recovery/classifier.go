package recovery

import (
	"errors"
	"strings"

	"github.com/vulu-live/liveconn/pkg/credentials"
	"github.com/vulu-live/liveconn/pkg/session"
)

// Class buckets a failure for strategy selection.
type Class int32

const (
	ClassOther Class = iota
	ClassNetwork
	ClassAuthentication
	ClassPermission
	ClassRateLimit
)

func (c Class) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassAuthentication:
		return "authentication"
	case ClassPermission:
		return "permission"
	case ClassRateLimit:
		return "rate-limit"
	}
	return "other"
}

// Classify buckets err. Known sentinels are matched first; everything else
// falls back to message heuristics, which is as good as it gets with vendor
// SDK error strings.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}

	switch {
	case errors.Is(err, session.ErrJoinTimeout):
		return ClassNetwork
	case errors.Is(err, credentials.ErrCredentialUnavailable):
		return ClassAuthentication
	case errors.Is(err, credentials.ErrAccessDenied):
		return ClassPermission
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests", "429"):
		return ClassRateLimit
	case containsAny(msg, "token", "auth", "credential", "401", "unauthorized"):
		return ClassAuthentication
	case containsAny(msg, "permission", "denied", "forbidden", "403"):
		return ClassPermission
	case containsAny(msg, "network", "timeout", "timed out", "unreachable", "connection", "dns"):
		return ClassNetwork
	}
	return ClassOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
