package ecm

import (
	"github.com/pkg/errors"
)

// SnapshotSource produces live data snapshots, either from the ECM over a
// serial link or from canned data.
type SnapshotSource interface {
	Open() error
	Close() error
	FetchSnapshot() (*Snapshot, error)
	Name() string
}

// GetLiveDataParams fetches a single snapshot and decodes the named parameters.
func GetLiveDataParams(src SnapshotSource, d *Decoder, names ...string) (Frame, error) {
	snap, err := src.FetchSnapshot()
	if err != nil {
		return nil, err
	}
	frame, err := d.Decode(snap.Data(), names...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode live data")
	}
	return frame, nil
}
