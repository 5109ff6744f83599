package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const liveconnNamespace = "liveconn"

var (
	initOnce sync.Once

	participantCurrent  atomic.Int32
	joinAttempts        atomic.Int32
	joinSuccesses       atomic.Int32
	consecutiveFailures atomic.Int32

	promConnected          prometheus.Gauge
	promParticipantCurrent prometheus.Gauge
	promJoinCounter        *prometheus.CounterVec
	promRecoveryCounter    *prometheus.CounterVec
	promRecoveryDuration   prometheus.Histogram
	promBreakerOpen        prometheus.Gauge
	promConsecutiveFails   prometheus.Gauge
)

// Init registers all collectors. Safe to call more than once; only the first
// call registers.
func Init(serviceID string) {
	initOnce.Do(func() {
		constLabels := prometheus.Labels{"service_id": serviceID}

		promConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "session",
			Name:        "connected",
			ConstLabels: constLabels,
		})
		promParticipantCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "session",
			Name:        "participants",
			ConstLabels: constLabels,
		})
		promJoinCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "session",
			Name:        "join_total",
			ConstLabels: constLabels,
		}, []string{"outcome"})
		promRecoveryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "recovery",
			Name:        "attempts_total",
			ConstLabels: constLabels,
		}, []string{"strategy", "outcome"})
		promRecoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "recovery",
			Name:        "duration_seconds",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		})
		promBreakerOpen = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "recovery",
			Name:        "circuit_breaker_open",
			ConstLabels: constLabels,
		})
		promConsecutiveFails = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   liveconnNamespace,
			Subsystem:   "recovery",
			Name:        "consecutive_failures",
			ConstLabels: constLabels,
		})

		prometheus.MustRegister(promConnected, promParticipantCurrent, promJoinCounter,
			promRecoveryCounter, promRecoveryDuration, promBreakerOpen, promConsecutiveFails)
	})
}

func registered() bool {
	return promConnected != nil
}

func SetConnected(connected bool) {
	if !registered() {
		return
	}
	if connected {
		promConnected.Set(1)
	} else {
		promConnected.Set(0)
	}
}

func SetParticipantCount(count int) {
	participantCurrent.Store(int32(count))
	if registered() {
		promParticipantCurrent.Set(float64(count))
	}
}

func RecordJoinAttempt() {
	joinAttempts.Inc()
	if registered() {
		promJoinCounter.WithLabelValues("attempt").Inc()
	}
}

func RecordJoinSuccess() {
	joinSuccesses.Inc()
	if registered() {
		promJoinCounter.WithLabelValues("success").Inc()
	}
}

func RecordRecoveryAttempt(strategy string, success bool, durationSeconds float64) {
	if !registered() {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	promRecoveryCounter.WithLabelValues(strategy, outcome).Inc()
	promRecoveryDuration.Observe(durationSeconds)
}

func SetCircuitBreakerOpen(open bool) {
	if !registered() {
		return
	}
	if open {
		promBreakerOpen.Set(1)
	} else {
		promBreakerOpen.Set(0)
	}
}

func SetConsecutiveFailures(count int) {
	consecutiveFailures.Store(int32(count))
	if registered() {
		promConsecutiveFails.Set(float64(count))
	}
}
