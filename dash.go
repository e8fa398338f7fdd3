package rooibos

import (
	"context"
	"time"

	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Dash turns cached snapshots into the set of parameters shown on the
// dashboard and hands changes to its forwarders.
type Dash struct {
	cache   SnapshotReader
	decoder *ecm.Decoder
	names   []string

	telemetry     ecm.Frame
	prevTelemetry ecm.Frame
	forwarders    []Forwarder
}

func NewDash(cache SnapshotReader, decoder *ecm.Decoder, names ...string) (*Dash, error) {
	for _, name := range names {
		if _, ok := decoder.Schema().Lookup(name); !ok {
			return nil, errors.Wrapf(ecm.ErrUnknownParameter, "%q", name)
		}
	}
	return &Dash{
		cache:   cache,
		decoder: decoder,
		names:   names,
	}, nil
}

func (d *Dash) AddForwarder(f Forwarder) {
	d.forwarders = append(d.forwarders, f)
}

func (d *Dash) Telemetry() ecm.Frame {
	return d.telemetry
}

// CheckCache decodes the latest snapshot and reports whether the telemetry
// changed.
func (d *Dash) CheckCache() (changed bool, err error) {
	snap, err := d.cache.Latest()
	if err != nil {
		return false, err
	}
	frame, err := d.decoder.Decode(snap.Data(), d.names...)
	if err != nil {
		return false, err
	}
	if d.telemetry != nil && frame.Equal(d.telemetry) {
		return false, nil
	}
	d.prevTelemetry = d.telemetry
	d.telemetry = frame
	return true, nil
}

// Readout renders the current telemetry one "name: value units" line per
// parameter, in the order the dash was created with.
func (d *Dash) Readout() ([]string, error) {
	return d.decoder.Readouts(d.telemetry, d.names...)
}

func (d *Dash) TelemetryUpdate() {
	for _, f := range d.forwarders {
		if err := f.Forward(d.telemetry, d.prevTelemetry); err != nil {
			log.WithField("err", err).Error("unable to forward telemetry")
		}
	}
}

// Run checks the cache every refresh period until ctx is done, calling
// onChange (if set) and the forwarders whenever the telemetry changes.
func (d *Dash) Run(ctx context.Context, refresh time.Duration, onChange func(ecm.Frame)) error {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		changed, err := d.CheckCache()
		if err != nil {
			log.WithField("err", err).Warn("no telemetry")
		} else if changed {
			if onChange != nil {
				onChange(d.telemetry)
			}
			d.TelemetryUpdate()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
