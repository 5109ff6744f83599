package recovery

import "context"

// Strategy names a single recovery action. Strategies are tried in order
// for a failure class until one succeeds or the retry budget runs out.
type Strategy string

const (
	StrategyTokenRenewal   Strategy = "token-renewal"
	StrategyReconnect      Strategy = "reconnect"
	StrategyReinitialize   Strategy = "reinitialize"
	StrategyFallbackMode   Strategy = "fallback-mode"
	StrategyCircuitBreaker Strategy = "circuit-breaker"
)

// Executor performs the concrete recovery actions against the session layer.
type Executor interface {
	// RenewToken invalidates the cached credential and fetches a fresh one.
	RenewToken(ctx context.Context) error

	// Reconnect leaves the current channel and rejoins with the same target.
	Reconnect(ctx context.Context) error

	// Reinitialize tears down the media engine, recreates it, and rejoins.
	Reinitialize(ctx context.Context) error

	// EnterFallback rejoins with reduced functionality (audio only).
	EnterFallback(ctx context.Context) error
}

// strategiesFor returns the ordered strategy ladder for a failure class.
func strategiesFor(c Class) []Strategy {
	switch c {
	case ClassNetwork:
		return []Strategy{StrategyReconnect, StrategyTokenRenewal, StrategyReinitialize}
	case ClassAuthentication:
		return []Strategy{StrategyTokenRenewal, StrategyReconnect}
	case ClassPermission:
		return []Strategy{StrategyTokenRenewal, StrategyFallbackMode}
	case ClassRateLimit:
		return []Strategy{StrategyFallbackMode}
	default:
		return []Strategy{StrategyReconnect, StrategyReinitialize, StrategyFallbackMode}
	}
}

func execute(ctx context.Context, ex Executor, s Strategy) error {
	switch s {
	case StrategyTokenRenewal:
		return ex.RenewToken(ctx)
	case StrategyReconnect:
		return ex.Reconnect(ctx)
	case StrategyReinitialize:
		return ex.Reinitialize(ctx)
	case StrategyFallbackMode:
		return ex.EnterFallback(ctx)
	}
	return nil
}
