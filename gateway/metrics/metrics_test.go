package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*gatewayMetrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	m, ok := InitMetrics(context.Background(), registry).(*gatewayMetrics)
	require.True(t, ok)
	return m, registry
}

func TestAdmissionMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.IncAdmittedInteractions("gateway")
	m.IncAdmittedInteractions("gateway")
	m.IncAdmittedInteractions("arweave")
	m.IncMonotonicityViolations()
	m.IncLockTimeouts()
	m.ObserveAdmission(15 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.admittedInteractions.WithLabelValues("gateway")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.admittedInteractions.WithLabelValues("arweave")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.monotonicityViolations))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lockTimeouts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.admissionDuration))
}

func TestVerificationMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.AddVerificationOutcomes("confirmed", 3)
	m.AddVerificationOutcomes("orphaned", 1)
	m.IncRoundsCompleted()
	m.IncRoundsAbandoned()
	m.AddOrphansReclassified(2)
	m.SetRankedPeers(7, 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.verificationOutcomes.WithLabelValues("confirmed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.verificationOutcomes.WithLabelValues("orphaned")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.roundsCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.roundsAbandoned))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.orphansReclassified))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.rankedPeers.WithLabelValues("active")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.rankedPeers.WithLabelValues("blacklisted")))
}

func TestRegistryGather(t *testing.T) {
	m, registry := newTestMetrics(t)

	m.IncReplicaFailures("replica-0")
	m.IncRateLimitedQueries()
	m.SetChainHeight(1500)
	m.SetSyncedHeight(1490)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["interaction_gateway_replica_failures_total"])
	assert.True(t, names["interaction_gateway_ledger_rate_limited_total"])
	assert.True(t, names["interaction_gateway_chain_height"])
	assert.Equal(t, float64(1490), testutil.ToFloat64(m.syncedHeight))
}

func TestNoop(t *testing.T) {
	m := Noop()
	m.IncAdmittedInteractions("gateway")
	m.AddVerificationOutcomes("confirmed", 1)
	m.SetRankedPeers(1, 1)
}
