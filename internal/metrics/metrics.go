// Package metrics implements the Prometheus collectors the daemon
// publishes for replication activity: seconds spent per sync state and
// bytes replicated, labelled per link.
package metrics

import (
	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the metrics a sync run reports to. Register it with
// a prometheus.Registerer once at daemon startup.
type Collectors struct {
	SecsPerState     *prometheus.HistogramVec
	BytesReplicated  *prometheus.CounterVec
	SyncsTotal       *prometheus.CounterVec
	CurrentSpeed     *prometheus.GaugeVec

	speedSamples map[string][]float64
}

// New builds an unregistered set of Collectors.
func New() *Collectors {
	return &Collectors{
		SecsPerState: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zlinkd",
			Name:      "replication_state_seconds",
			Help:      "Time spent in each replication sync terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"link", "state"}),
		BytesReplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zlinkd",
			Name:      "replication_bytes_total",
			Help:      "Total bytes sent by completed SendStream actions, per link.",
		}, []string{"link"}),
		SyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zlinkd",
			Name:      "replication_syncs_total",
			Help:      "Total replication.sync invocations, per link and terminal state.",
		}, []string{"link", "state"}),
		CurrentSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zlinkd",
			Name:      "replication_speed_bytes_per_second",
			Help:      "Smoothed transfer speed of the most recent syncs, per link.",
		}, []string{"link"}),
		speedSamples: make(map[string][]float64),
	}
}

// MustRegister registers every collector against reg.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.SecsPerState, c.BytesReplicated, c.SyncsTotal, c.CurrentSpeed)
}

// RecordSync records one finished sync's outcome. speed smoothing keeps
// the last 10 samples and reports their median on CurrentSpeed, so the
// gauge doesn't react to a single noisy sample.
func (c *Collectors) RecordSync(link, state string, elapsedSecs float64, bytesSent uint64, speed float64) {
	c.SecsPerState.WithLabelValues(link, state).Observe(elapsedSecs)
	c.SyncsTotal.WithLabelValues(link, state).Inc()
	if bytesSent > 0 {
		c.BytesReplicated.WithLabelValues(link).Add(float64(bytesSent))
	}

	samples := append(c.speedSamples[link], speed)
	if len(samples) > 10 {
		samples = samples[len(samples)-10:]
	}
	c.speedSamples[link] = samples

	median, err := stats.Median(samples)
	if err != nil {
		return
	}
	c.CurrentSpeed.WithLabelValues(link).Set(median)
}
