// Package metrics exposes the messaging core's Prometheus
// instrumentation: one counter family per queue lifecycle event, and
// one histogram family per timed operation, each carrying the stable
// tag keys every dispatcher loop reports by (queue, store, provider,
// reason, status).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "messaging_core"

// Tags is the stable label set every queue metric carries. Not every
// event populates every tag: Provider is empty outside the webhook
// pipeline, Reason is empty on success.
type Tags struct {
	Queue    string // outbox, inbox, scheduler, idempotency
	Store    string // postgres, memory
	Provider string // webhook provider name, empty elsewhere
	Reason   string // why a row was abandoned/failed/rejected
	Status   string // terminal status reached, where applicable
}

func (t Tags) values() []string {
	return []string{t.Queue, t.Store, t.Provider, t.Reason, t.Status}
}

var labelNames = []string{"queue", "store", "provider", "reason", "status"}

// Registry holds the full set of counter and histogram vectors emitted
// by dispatcher, lease, and webhook-ingestion loops. Build one with
// NewRegistry and register it with a prometheus.Registerer at process
// startup.
type Registry struct {
	claimed      *prometheus.CounterVec
	acknowledged *prometheus.CounterVec
	abandoned    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	revived      *prometheus.CounterVec
	reaped       *prometheus.CounterVec
	duplicate    *prometheus.CounterVec

	claimDuration      *prometheus.HistogramVec
	ackDuration        *prometheus.HistogramVec
	processingDuration *prometheus.HistogramVec
	leaseRenewDuration *prometheus.HistogramVec
}

// NewRegistry builds the metric vectors and registers them against reg.
// Pass prometheus.DefaultRegisterer to use the global registry, or a
// fresh prometheus.NewRegistry() in tests to avoid collisions between
// parallel test runs.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labelNames)
	}

	histogram := func(name, help string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
		}, labelNames)
	}

	return &Registry{
		claimed:      counter("claimed_total", "Rows claimed off a queue."),
		acknowledged: counter("acknowledged_total", "Rows acknowledged as done."),
		abandoned:    counter("abandoned_total", "Claimed rows abandoned back to ready."),
		failed:       counter("failed_total", "Rows moved to a terminal failed state."),
		revived:      counter("revived_total", "Poisoned rows manually revived to ready."),
		reaped:       counter("reaped_total", "Rows whose lease expired and were reclaimed by the reaper."),
		duplicate:    counter("duplicate_total", "Inbound messages recognized as already processed."),

		claimDuration:      histogram("claim_duration_ms", "Time spent claiming a batch."),
		ackDuration:        histogram("ack_duration_ms", "Time spent acknowledging a batch."),
		processingDuration: histogram("processing_duration_ms", "Time spent running a handler for one message."),
		leaseRenewDuration: histogram("lease_renew_duration_ms", "Time spent renewing a system lease."),
	}
}

func (r *Registry) Claimed(tags Tags, n int) {
	r.claimed.WithLabelValues(tags.values()...).Add(float64(n))
}

func (r *Registry) Acknowledged(tags Tags, n int) {
	r.acknowledged.WithLabelValues(tags.values()...).Add(float64(n))
}

func (r *Registry) Abandoned(tags Tags, n int) {
	r.abandoned.WithLabelValues(tags.values()...).Add(float64(n))
}

func (r *Registry) Failed(tags Tags, n int) {
	r.failed.WithLabelValues(tags.values()...).Add(float64(n))
}

func (r *Registry) Revived(tags Tags, n int) {
	r.revived.WithLabelValues(tags.values()...).Add(float64(n))
}

func (r *Registry) Reaped(tags Tags, n int) {
	r.reaped.WithLabelValues(tags.values()...).Add(float64(n))
}

func (r *Registry) Duplicate(tags Tags) {
	r.duplicate.WithLabelValues(tags.values()...).Inc()
}

func (r *Registry) ObserveClaimDuration(tags Tags, ms float64) {
	r.claimDuration.WithLabelValues(tags.values()...).Observe(ms)
}

func (r *Registry) ObserveAckDuration(tags Tags, ms float64) {
	r.ackDuration.WithLabelValues(tags.values()...).Observe(ms)
}

func (r *Registry) ObserveProcessingDuration(tags Tags, ms float64) {
	r.processingDuration.WithLabelValues(tags.values()...).Observe(ms)
}

func (r *Registry) ObserveLeaseRenewDuration(tags Tags, ms float64) {
	r.leaseRenewDuration.WithLabelValues(tags.values()...).Observe(ms)
}
