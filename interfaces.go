package rooibos

import (
	"github.com/jd3nn1s/rooibos/ecm"
)

// Forwarder receives the dashboard telemetry whenever it changes. It must
// not block.
type Forwarder interface {
	Forward(newTelemetry ecm.Frame, prevTelemetry ecm.Frame) error
}

// SnapshotReader is the read side of the polling cache.
type SnapshotReader interface {
	Latest() (*ecm.Snapshot, error)
}
