package rooibos

import (
	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rooibos_poll_cycles_total",
		Help: "Live data requests issued by the poller.",
	})

	pollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooibos_poll_errors_total",
			Help: "Poll cycles that produced no snapshot, by failure kind.",
		},
		[]string{"kind"},
	)

	snapshotsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rooibos_snapshots_dropped_total",
		Help: "Snapshots replaced before any reader asked for them.",
	})

	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rooibos_link_reconnects_total",
		Help: "Times the ecm link was closed and reopened after an error.",
	})

	fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rooibos_fetch_duration_seconds",
		Help:    "Time taken by a single live data request.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1},
	})

	lastSnapshot = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rooibos_last_snapshot_timestamp_seconds",
		Help: "Capture time of the newest published snapshot.",
	})
)

// RegisterMetrics registers the poller's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		pollCycles,
		pollErrors,
		snapshotsDropped,
		reconnects,
		fetchDuration,
		lastSnapshot,
	} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "unable to register metrics")
		}
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ecm.ErrFailedChecksum):
		return "checksum"
	case errors.Is(err, ecm.ErrNakResponse):
		return "nak"
	case errors.Is(err, ecm.ErrUnknownResponse):
		return "unknown"
	case errors.Is(err, ecm.ErrNoResponse):
		return "no_response"
	case errors.Is(err, ecm.ErrUnknownParameter),
		errors.Is(err, ecm.ErrWrongKind),
		errors.Is(err, ecm.ErrOutOfBounds):
		return "decode"
	}
	return "link"
}
