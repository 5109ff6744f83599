package utils

import (
	"github.com/cespare/xxhash/v2"
	"github.com/lithammer/shortuuid/v3"
)

const (
	SessionPrefix = "S-"
	AttemptPrefix = "RA-"
)

func NewGuid(prefix string) string {
	return prefix + shortuuid.New()
}

// DeriveParticipantID maps an account identity onto the numeric uid space the
// transport provider expects. The hash is stable, so repeated joins by the
// same identity always reuse the same uid. Zero is reserved by providers to
// mean "assign one for me", so it is never returned.
func DeriveParticipantID(identity string) uint32 {
	uid := uint32(xxhash.Sum64String(identity))
	if uid == 0 {
		uid = 1
	}
	return uid
}
