// Package metric exposes counters for the protocol engine. The framer and
// monitor decoder recover from malformed input by skipping it, so dropped
// frames are counted here instead of being lost silently.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	FramesDecoded  *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	BytesReceived  prometheus.Counter
	Snapshots      prometheus.Counter
	QueryTimeouts  prometheus.Counter
	ConnectsOpened prometheus.Counter
	ConnectsClosed prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		FramesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "frames",
				Name:      "decoded_total",
				Help:      "Total number of complete frames decoded",
			},
			[]string{"encoding"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "frames",
				Name:      "dropped_total",
				Help:      "Total number of frames dropped during recovery",
			},
			[]string{"reason"},
		),

		BytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "frames",
				Name:      "bytes_received_total",
				Help:      "Total number of payload bytes handed to the framer",
			},
		),

		Snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "monitor",
				Name:      "snapshots_total",
				Help:      "Total number of monitor snapshots decoded",
			},
		),

		QueryTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "queries",
				Name:      "timeouts_total",
				Help:      "Total number of queries that timed out waiting for a response",
			},
		),

		ConnectsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "connections",
				Name:      "opened_total",
				Help:      "Total number of connections opened",
			},
		),

		ConnectsClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docdb_client",
				Subsystem: "connections",
				Name:      "closed_total",
				Help:      "Total number of connections closed",
			},
		),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.FramesDecoded,
		m.FramesDropped,
		m.BytesReceived,
		m.Snapshots,
		m.QueryTimeouts,
		m.ConnectsOpened,
		m.ConnectsClosed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Default is the process-wide instance used by the engine packages.
var Default = NewMetrics()
