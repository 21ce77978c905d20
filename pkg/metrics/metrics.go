// Package metrics registers the Prometheus instrumentation for the
// replication core: event-generation bumps, quorum transitions, lock-heal
// outcomes, and split-brain detections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge this module exports. Construct one
// per process with NewMetrics and thread it through the components that
// need it, mirroring the teacher's promauto-based metrics structs.
type Metrics struct {
	EventGenerationBumps prometheus.Counter
	QuorumMetTotal       prometheus.Counter
	QuorumLostTotal      prometheus.Counter
	QuorumCurrentUp      prometheus.Gauge

	LockHealSucceeded prometheus.Counter
	LockHealAbandoned prometheus.Counter
	LockHealRequeued  prometheus.Counter

	SplitBrainDetected *prometheus.CounterVec // labeled by dimension: data, metadata

	TransactionQuorumFailed prometheus.Counter
	TransactionSucceeded    prometheus.Counter
}

// NewMetrics registers every AFR metric against reg and returns the bundle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventGenerationBumps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "event_generation_bumps_total",
			Help:      "Number of times the topology event generation counter incremented.",
		}),
		QuorumMetTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "quorum_met_total",
			Help:      "Number of times the up-replica mask crossed into quorum.",
		}),
		QuorumLostTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "quorum_lost_total",
			Help:      "Number of times the up-replica mask dropped out of quorum.",
		}),
		QuorumCurrentUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "afr",
			Name:      "replicas_up",
			Help:      "Current number of up replicas in the set.",
		}),
		LockHealSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "lock_heal_succeeded_total",
			Help:      "Number of saved locks successfully replayed after reconnect.",
		}),
		LockHealAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "lock_heal_abandoned_total",
			Help:      "Number of saved locks abandoned: owner no longer holds the range, or fenced after quorum loss.",
		}),
		LockHealRequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "lock_heal_requeued_total",
			Help:      "Number of lock-heal attempts left queued for retry: no quorum on the heal domain lock, a failed install, or an intervening child flap.",
		}),
		SplitBrainDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "split_brain_detected_total",
			Help:      "Number of split-brain detections, labeled by dimension.",
		}, []string{"dimension"}),
		TransactionQuorumFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "transaction_quorum_failed_total",
			Help:      "Number of mutation transactions that failed to reach quorum.",
		}),
		TransactionSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "afr",
			Name:      "transaction_succeeded_total",
			Help:      "Number of mutation transactions that completed successfully.",
		}),
	}
}
