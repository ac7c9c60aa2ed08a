package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type GatewayMetrics interface {
	IncAdmittedInteractions(source string)
	IncMonotonicityViolations()
	IncLockTimeouts()
	ObserveAdmission(duration time.Duration)
	AddVerificationOutcomes(status string, count int)
	IncRoundsCompleted()
	IncRoundsAbandoned()
	AddOrphansReclassified(count int)
	SetRankedPeers(active, blacklisted int)
	IncReplicaFailures(replica string)
	IncRateLimitedQueries()
	SetChainHeight(height int64)
	SetSyncedHeight(height int64)
}

var METRICS_SUBSYSTEM = "interaction_gateway"

type gatewayMetrics struct {
	admittedInteractions   *prometheus.CounterVec
	monotonicityViolations prometheus.Counter
	lockTimeouts           prometheus.Counter
	admissionDuration      prometheus.Histogram
	verificationOutcomes   *prometheus.CounterVec
	roundsCompleted        prometheus.Counter
	roundsAbandoned        prometheus.Counter
	orphansReclassified    prometheus.Counter
	rankedPeers            *prometheus.GaugeVec
	replicaFailures        *prometheus.CounterVec
	rateLimitedQueries     prometheus.Counter
	chainHeight            prometheus.Gauge
	syncedHeight           prometheus.Gauge
}

func InitMetrics(ctx context.Context, registry prometheus.Registerer) GatewayMetrics {
	metrics := &gatewayMetrics{}

	metrics.admittedInteractions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "admitted_interactions_total",
		Help: "Interactions sequenced and committed", Subsystem: METRICS_SUBSYSTEM}, []string{"source"})
	metrics.monotonicityViolations = prometheus.NewCounter(prometheus.CounterOpts{Name: "monotonicity_violations_total",
		Help: "Admissions rejected because the sort key did not advance", Subsystem: METRICS_SUBSYSTEM})
	metrics.lockTimeouts = prometheus.NewCounter(prometheus.CounterOpts{Name: "lock_timeouts_total",
		Help: "Admissions rejected because the contract lock was not obtained in time", Subsystem: METRICS_SUBSYSTEM})
	metrics.admissionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "admission_ms",
		Help: "Time to sequence and commit one interaction", Subsystem: METRICS_SUBSYSTEM, Buckets: []float64{5, 10, 20, 40, 80, 200, 400, 800, 1600, 5000}})
	metrics.verificationOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "verification_outcomes_total",
		Help: "Interactions finalized by the confirmation verifier", Subsystem: METRICS_SUBSYSTEM}, []string{"status"})
	metrics.roundsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "verification_rounds_completed_total",
		Help: "Verification rounds that finished within their timeout", Subsystem: METRICS_SUBSYSTEM})
	metrics.roundsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{Name: "verification_rounds_abandoned_total",
		Help: "Verification rounds abandoned on timeout", Subsystem: METRICS_SUBSYSTEM})
	metrics.orphansReclassified = prometheus.NewCounter(prometheus.CounterOpts{Name: "orphans_reclassified_total",
		Help: "Orphaned interactions returned to not_processed", Subsystem: METRICS_SUBSYSTEM})
	metrics.rankedPeers = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ranked_peers",
		Help: "Peers recorded by the last ranking cycle", Subsystem: METRICS_SUBSYSTEM}, []string{"state"})
	metrics.replicaFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "replica_failures_total",
		Help: "Secondary replica writes that exhausted their retries", Subsystem: METRICS_SUBSYSTEM}, []string{"replica"})
	metrics.rateLimitedQueries = prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_rate_limited_total",
		Help: "Ledger queries retried after a rate limit response", Subsystem: METRICS_SUBSYSTEM})
	metrics.chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "chain_height",
		Help: "Last observed ledger height", Subsystem: METRICS_SUBSYSTEM})
	metrics.syncedHeight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "synced_height",
		Help: "Last fully synced block height", Subsystem: METRICS_SUBSYSTEM})

	registry.MustRegister(metrics.admittedInteractions)
	registry.MustRegister(metrics.monotonicityViolations)
	registry.MustRegister(metrics.lockTimeouts)
	registry.MustRegister(metrics.admissionDuration)
	registry.MustRegister(metrics.verificationOutcomes)
	registry.MustRegister(metrics.roundsCompleted)
	registry.MustRegister(metrics.roundsAbandoned)
	registry.MustRegister(metrics.orphansReclassified)
	registry.MustRegister(metrics.rankedPeers)
	registry.MustRegister(metrics.replicaFailures)
	registry.MustRegister(metrics.rateLimitedQueries)
	registry.MustRegister(metrics.chainHeight)
	registry.MustRegister(metrics.syncedHeight)
	return metrics
}

func (gm *gatewayMetrics) IncAdmittedInteractions(source string) {
	gm.admittedInteractions.WithLabelValues(source).Inc()
}

func (gm *gatewayMetrics) IncMonotonicityViolations() {
	gm.monotonicityViolations.Inc()
}

func (gm *gatewayMetrics) IncLockTimeouts() {
	gm.lockTimeouts.Inc()
}

func (gm *gatewayMetrics) ObserveAdmission(duration time.Duration) {
	gm.admissionDuration.Observe(float64(duration.Milliseconds()))
}

func (gm *gatewayMetrics) AddVerificationOutcomes(status string, count int) {
	gm.verificationOutcomes.WithLabelValues(status).Add(float64(count))
}

func (gm *gatewayMetrics) IncRoundsCompleted() {
	gm.roundsCompleted.Inc()
}

func (gm *gatewayMetrics) IncRoundsAbandoned() {
	gm.roundsAbandoned.Inc()
}

func (gm *gatewayMetrics) AddOrphansReclassified(count int) {
	gm.orphansReclassified.Add(float64(count))
}

func (gm *gatewayMetrics) SetRankedPeers(active, blacklisted int) {
	gm.rankedPeers.WithLabelValues("active").Set(float64(active))
	gm.rankedPeers.WithLabelValues("blacklisted").Set(float64(blacklisted))
}

func (gm *gatewayMetrics) IncReplicaFailures(replica string) {
	gm.replicaFailures.WithLabelValues(replica).Inc()
}

func (gm *gatewayMetrics) IncRateLimitedQueries() {
	gm.rateLimitedQueries.Inc()
}

func (gm *gatewayMetrics) SetChainHeight(height int64) {
	gm.chainHeight.Set(float64(height))
}

func (gm *gatewayMetrics) SetSyncedHeight(height int64) {
	gm.syncedHeight.Set(float64(height))
}

// Noop returns metrics that record nothing, for tests and tools.
func Noop() GatewayMetrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) IncAdmittedInteractions(string)      {}
func (noopMetrics) IncMonotonicityViolations()          {}
func (noopMetrics) IncLockTimeouts()                    {}
func (noopMetrics) ObserveAdmission(time.Duration)      {}
func (noopMetrics) AddVerificationOutcomes(string, int) {}
func (noopMetrics) IncRoundsCompleted()                 {}
func (noopMetrics) IncRoundsAbandoned()                 {}
func (noopMetrics) AddOrphansReclassified(int)          {}
func (noopMetrics) SetRankedPeers(int, int)             {}
func (noopMetrics) IncReplicaFailures(string)           {}
func (noopMetrics) IncRateLimitedQueries()              {}
func (noopMetrics) SetChainHeight(int64)                {}
func (noopMetrics) SetSyncedHeight(int64)               {}
