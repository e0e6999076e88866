package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/correlator/internal/metrics"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != "messaging_core_"+name {
			continue
		}

		for _, m := range family.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}

	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}

	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}

	return true
}

func TestRegistryClaimedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	tags := metrics.Tags{Queue: "outbox", Store: "postgres"}
	metricsReg.Claimed(tags, 3)

	value := counterValue(t, reg, "claimed_total", map[string]string{"queue": "outbox", "store": "postgres"})
	require.Equal(t, float64(3), value)
}

func TestRegistryDuplicateTracksProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	metricsReg.Duplicate(metrics.Tags{Queue: "inbox", Store: "postgres", Provider: "github"})

	value := counterValue(t, reg, "duplicate_total", map[string]string{"provider": "github"})
	require.Equal(t, float64(1), value)
}

func TestRegistryObserveDurationsDoNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	tags := metrics.Tags{Queue: "scheduler", Store: "postgres"}
	metricsReg.ObserveClaimDuration(tags, 12.5)
	metricsReg.ObserveAckDuration(tags, 4.2)
	metricsReg.ObserveProcessingDuration(tags, 87.1)
	metricsReg.ObserveLeaseRenewDuration(tags, 1.3)
}
