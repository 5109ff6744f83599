package session

import "errors"

var (
	// no provider callback arrived within the join timeout
	ErrJoinTimeout = errors.New("timed out waiting for join confirmation")
	// the transport provider rejected the join with a non-retryable code
	ErrProviderRejected = errors.New("transport provider rejected the join")
	// a pending join was cancelled by a concurrent leave
	ErrLeaveRequested = errors.New("join cancelled: leave was requested")
	// the manager has been closed and cannot join again
	ErrManagerClosed = errors.New("session manager is closed")
	// an operation that needs an active session was called without one
	ErrNotJoined = errors.New("no active session")
)
