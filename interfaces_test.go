package rooibos

import (
	"sync"
	"testing"

	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/stretchr/testify/require"
)

const seqParam = "engine_hours"

func loadDecoder(t *testing.T) *ecm.Decoder {
	s, err := schema.Load("live_data.json")
	require.NoError(t, err)
	return ecm.NewDecoder(s)
}

// sourceStub serves the live data sample with a sequence number stored in
// seqParam. errs are returned, in order, before any snapshot is served.
type sourceStub struct {
	decoder *ecm.Decoder

	mu      sync.Mutex
	open    bool
	opens   int
	closes  int
	openErr error
	errs    []error
	failAll error
	seq     uint64
}

func newSourceStub(t *testing.T) *sourceStub {
	return &sourceStub{decoder: loadDecoder(t)}
}

func (s *sourceStub) Name() string {
	return "stub"
}

func (s *sourceStub) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	return nil
}

func (s *sourceStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.open = false
	return nil
}

func (s *sourceStub) FetchSnapshot() (*ecm.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ecm.ErrNotOpen
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if s.failAll != nil {
		return nil, s.failAll
	}
	s.seq++
	data := make([]byte, len(ecm.LiveDataSample))
	copy(data, ecm.LiveDataSample)
	if err := s.decoder.PutRaw(data, seqParam, s.seq); err != nil {
		return nil, err
	}
	return ecm.NewSnapshot(data), nil
}

func (s *sourceStub) counts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

func (s *sourceStub) setFailAll(err error) {
	s.mu.Lock()
	s.failAll = err
	s.mu.Unlock()
}

func seqOf(t *testing.T, d *ecm.Decoder, snap *ecm.Snapshot) uint64 {
	v, err := d.DecodeScalar(snap.Data(), seqParam)
	require.NoError(t, err)
	return uint64(v)
}

type forwarderStub struct {
	calls         int
	telemetry     ecm.Frame
	prevTelemetry ecm.Frame
	err           error
}

func (fwd *forwarderStub) Forward(newTelemetry ecm.Frame, prevTelemetry ecm.Frame) error {
	fwd.calls++
	fwd.telemetry = newTelemetry
	fwd.prevTelemetry = prevTelemetry
	return fwd.err
}

// readerStub serves a fixed sequence of snapshots, repeating the last one.
type readerStub struct {
	snaps []*ecm.Snapshot
	err   error
}

func (r *readerStub) Latest() (*ecm.Snapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	s := r.snaps[0]
	if len(r.snaps) > 1 {
		r.snaps = r.snaps[1:]
	}
	return s, nil
}
