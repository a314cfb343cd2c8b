// Package metrics exposes leader lifecycle metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Leader holds the leader process metrics. A nil *Leader records nothing.
type Leader struct {
	grants     prometheus.Counter
	revokes    prometheus.Counter
	published  prometheus.Counter
	discarded  prometheus.Counter
	fatal      prometheus.Counter
	isLeader   prometheus.Gauge
	tokenSeq   prometheus.Gauge
	creation   prometheus.Histogram
	activeJobs prometheus.Gauge
	recovered  prometheus.Gauge
}

// NewLeader registers the leader metrics with reg. reg may be nil, in which
// case the collectors exist but are not exported.
func NewLeader(reg prometheus.Registerer) *Leader {
	m := &Leader{
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward", Subsystem: "leader", Name: "grants_total",
			Help: "Leadership grants received.",
		}),
		revokes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward", Subsystem: "leader", Name: "revokes_total",
			Help: "Leadership revocations received.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward", Subsystem: "dispatcher", Name: "published_total",
			Help: "Dispatcher services published to callers.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward", Subsystem: "dispatcher", Name: "discarded_total",
			Help: "Dispatcher services torn down because their epoch was superseded.",
		}),
		fatal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward", Subsystem: "leader", Name: "fatal_errors_total",
			Help: "Recovery or creation failures reported on the fatal channel.",
		}),
		isLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steward", Subsystem: "leader", Name: "is_leader",
			Help: "1 while a dispatcher service is published by this node.",
		}),
		tokenSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steward", Subsystem: "leader", Name: "fencing_token_seq",
			Help: "Sequence number of the published fencing token.",
		}),
		creation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "steward", Subsystem: "dispatcher", Name: "creation_seconds",
			Help:    "Time from grant to a started dispatcher service.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steward", Subsystem: "dispatcher", Name: "active_jobs",
			Help: "Jobs registered with the published dispatcher.",
		}),
		recovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steward", Subsystem: "dispatcher", Name: "recovered_jobs",
			Help: "Job graphs recovered by the latest grant.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.grants, m.revokes, m.published, m.discarded, m.fatal,
			m.isLeader, m.tokenSeq, m.creation, m.activeJobs, m.recovered)
	}
	return m
}

func (m *Leader) Granted() {
	if m != nil {
		m.grants.Inc()
	}
}

func (m *Leader) Revoked() {
	if m != nil {
		m.revokes.Inc()
	}
}

func (m *Leader) Fatal() {
	if m != nil {
		m.fatal.Inc()
	}
}

func (m *Leader) Recovered(n int) {
	if m != nil {
		m.recovered.Set(float64(n))
	}
}

// Published records a service going live under the token with sequence seq.
func (m *Leader) Published(seq uint64, took time.Duration) {
	if m == nil {
		return
	}
	m.published.Inc()
	m.isLeader.Set(1)
	m.tokenSeq.Set(float64(seq))
	m.creation.Observe(took.Seconds())
}

func (m *Leader) Discarded() {
	if m != nil {
		m.discarded.Inc()
	}
}

// Unpublished records the published service being stopped.
func (m *Leader) Unpublished() {
	if m == nil {
		return
	}
	m.isLeader.Set(0)
	m.activeJobs.Set(0)
}

func (m *Leader) ActiveJobs(n int) {
	if m != nil {
		m.activeJobs.Set(float64(n))
	}
}
