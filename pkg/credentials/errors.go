package credentials

import (
	"errors"
	"fmt"
)

var (
	// the token service could not be reached or returned an invalid payload
	ErrCredentialUnavailable = errors.New("credential service unavailable")
	// the token service refused access to the channel
	ErrAccessDenied = errors.New("access to channel denied")
	// the manager has been closed
	ErrManagerClosed = errors.New("credential manager is closed")
)

func wrapErr(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %v", sentinel, cause)
}
