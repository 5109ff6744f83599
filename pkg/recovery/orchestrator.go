package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/deque"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/logger"
	"github.com/vulu-live/liveconn/pkg/telemetry/prometheus"
	"github.com/vulu-live/liveconn/pkg/utils"
)

// AttemptRecord captures one recovery attempt for diagnostics. Records are
// immutable once appended to the history.
type AttemptRecord struct {
	ID        string
	Timestamp time.Time
	Error     string
	Strategy  Strategy
	Success   bool
	Duration  time.Duration
}

// Result is the outcome of a single Recover call.
type Result struct {
	Success      bool
	StrategyUsed Strategy
	Attempts     int
	Duration     time.Duration
}

// Stats summarizes all recovery activity since startup.
type Stats struct {
	TotalAttempts       int
	SuccessRate         float64
	AverageDuration     time.Duration
	CircuitBreakerOpen  bool
	ConsecutiveFailures int
}

type OrchestratorParams struct {
	Executor Executor
	Config   config.RecoveryConfig
	Clock    clock.Clock
	Logger   logger.Logger
}

// Orchestrator drives remediation after a session failure: it classifies the
// error, walks the strategy ladder for that class with exponential backoff
// between attempts, and trips a circuit breaker after repeated whole-run
// failures. At most one Recover runs at a time.
type Orchestrator struct {
	executor Executor
	conf     config.RecoveryConfig
	clock    clock.Clock
	logger   logger.Logger

	runLock sync.Mutex

	lock                sync.RWMutex
	history             deque.Deque[AttemptRecord]
	totalAttempts       int
	totalSuccesses      int
	totalDuration       time.Duration
	consecutiveFailures int
	breakerOpenedAt     time.Time
}

func NewOrchestrator(params OrchestratorParams) *Orchestrator {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	l := params.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	return &Orchestrator{
		executor: params.Executor,
		conf:     params.Config,
		clock:    c,
		logger:   l.WithComponent("recovery"),
	}
}

// Recover attempts to restore the session after cause. It blocks for the
// duration of the run (bounded by the retry budget and backoff schedule) and
// honors ctx cancellation between attempts.
func (o *Orchestrator) Recover(ctx context.Context, cause error) Result {
	o.runLock.Lock()
	defer o.runLock.Unlock()

	if o.breakerBlocks() {
		o.logger.Warnw("recovery rejected", ErrCircuitBreakerOpen)
		return Result{StrategyUsed: StrategyCircuitBreaker}
	}

	class := Classify(cause)
	ladder := strategiesFor(class)
	o.logger.Infow("starting recovery",
		"class", class.String(),
		"strategies", ladder,
		"cause", cause,
	)

	bo := o.newBackOff()
	start := o.clock.Now()
	attempts := 0

	for _, strategy := range ladder {
		for perStrategy := 0; perStrategy < o.conf.AttemptsPerStrategy; perStrategy++ {
			if attempts >= o.conf.MaxRetries {
				return o.finish(cause, Result{
					Attempts: attempts,
					Duration: o.clock.Since(start),
				})
			}
			if attempts > 0 {
				if err := o.wait(ctx, bo.NextBackOff()); err != nil {
					return o.finish(cause, Result{
						Attempts: attempts,
						Duration: o.clock.Since(start),
					})
				}
			}
			attempts++

			attemptStart := o.clock.Now()
			err := execute(ctx, o.executor, strategy)
			dur := o.clock.Since(attemptStart)
			o.record(cause, strategy, err == nil, dur)

			if err == nil {
				return o.finish(cause, Result{
					Success:      true,
					StrategyUsed: strategy,
					Attempts:     attempts,
					Duration:     o.clock.Since(start),
				})
			}
			o.logger.Warnw("recovery attempt failed", err,
				"strategy", strategy,
				"attempt", attempts,
			)
		}
	}

	return o.finish(cause, Result{
		Attempts: attempts,
		Duration: o.clock.Since(start),
	})
}

// Stats returns a snapshot of recovery accounting since startup.
func (o *Orchestrator) Stats() Stats {
	o.lock.RLock()
	defer o.lock.RUnlock()

	s := Stats{
		TotalAttempts:       o.totalAttempts,
		ConsecutiveFailures: o.consecutiveFailures,
		CircuitBreakerOpen:  o.breakerOpenLocked(),
	}
	if o.totalAttempts > 0 {
		s.SuccessRate = float64(o.totalSuccesses) / float64(o.totalAttempts)
		s.AverageDuration = o.totalDuration / time.Duration(o.totalAttempts)
	}
	return s
}

// History returns the most recent attempt records, newest last.
func (o *Orchestrator) History() []AttemptRecord {
	o.lock.RLock()
	defer o.lock.RUnlock()

	out := make([]AttemptRecord, 0, o.history.Len())
	for i := 0; i < o.history.Len(); i++ {
		out = append(out, o.history.At(i))
	}
	return out
}

// CircuitBreakerOpen reports whether recovery is currently suspended.
func (o *Orchestrator) CircuitBreakerOpen() bool {
	o.lock.RLock()
	defer o.lock.RUnlock()
	return o.breakerOpenLocked()
}

func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.conf.BaseDelay
	bo.Multiplier = o.conf.Multiplier
	bo.MaxInterval = o.conf.MaxDelay
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (o *Orchestrator) wait(ctx context.Context, delay time.Duration) error {
	t := o.clock.Timer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// breakerBlocks checks the breaker at the start of a run, auto-closing it
// once the cooldown has elapsed.
func (o *Orchestrator) breakerBlocks() bool {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.breakerOpenedAt.IsZero() {
		return false
	}
	if o.clock.Since(o.breakerOpenedAt) < o.conf.CircuitBreakerTimeout {
		return true
	}

	o.breakerOpenedAt = time.Time{}
	o.consecutiveFailures = 0
	prometheus.SetCircuitBreakerOpen(false)
	prometheus.SetConsecutiveFailures(0)
	o.logger.Infow("circuit breaker closed after cooldown")
	return false
}

func (o *Orchestrator) breakerOpenLocked() bool {
	return !o.breakerOpenedAt.IsZero() &&
		o.clock.Since(o.breakerOpenedAt) < o.conf.CircuitBreakerTimeout
}

func (o *Orchestrator) record(cause error, strategy Strategy, success bool, dur time.Duration) {
	o.lock.Lock()
	defer o.lock.Unlock()

	rec := AttemptRecord{
		ID:        utils.NewGuid(utils.AttemptPrefix),
		Timestamp: o.clock.Now(),
		Strategy:  strategy,
		Success:   success,
		Duration:  dur,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if o.history.Len() >= o.conf.HistorySize {
		o.history.PopFront()
	}
	o.history.PushBack(rec)

	o.totalAttempts++
	o.totalDuration += dur
	if success {
		o.totalSuccesses++
	}
	prometheus.RecordRecoveryAttempt(string(strategy), success, dur.Seconds())
}

// finish applies whole-run breaker accounting and returns res unchanged.
func (o *Orchestrator) finish(cause error, res Result) Result {
	o.lock.Lock()
	defer o.lock.Unlock()

	if res.Success {
		o.consecutiveFailures = 0
		prometheus.SetConsecutiveFailures(0)
		return res
	}

	o.consecutiveFailures++
	prometheus.SetConsecutiveFailures(o.consecutiveFailures)
	if o.consecutiveFailures >= o.conf.CircuitBreakerThreshold && o.breakerOpenedAt.IsZero() {
		o.breakerOpenedAt = o.clock.Now()
		prometheus.SetCircuitBreakerOpen(true)
		o.logger.Warnw("circuit breaker opened", cause,
			"consecutiveFailures", o.consecutiveFailures,
			"cooldown", o.conf.CircuitBreakerTimeout,
		)
	}
	return res
}
