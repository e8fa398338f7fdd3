package rooibos

import (
	"sync"

	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
)

// SweepSource serves the canned live data sample with one scalar parameter
// ramping between min and max, for exercising the dashboard on the bench.
type SweepSource struct {
	ecm.MockSource
	decoder *ecm.Decoder
	param   string

	mu             sync.Mutex
	min, max, step uint64
	value          uint64
	down           bool
}

// NewSweepSource ramps param's raw value from min to max and back in step
// increments.
func NewSweepSource(decoder *ecm.Decoder, param string, min, max, step uint64) (*SweepSource, error) {
	p, ok := decoder.Schema().Lookup(param)
	if !ok {
		return nil, errors.Wrapf(ecm.ErrUnknownParameter, "%q", param)
	}
	if p.Kind != schema.Scalar {
		return nil, errors.Wrapf(ecm.ErrWrongKind, "%s is a %s", param, p.Kind)
	}
	if step == 0 || min >= max {
		return nil, errors.Errorf("invalid sweep %d..%d step %d", min, max, step)
	}
	return &SweepSource{
		decoder: decoder,
		param:   param,
		min:     min,
		max:     max,
		step:    step,
		value:   min,
	}, nil
}

func (s *SweepSource) Name() string {
	return "ecm-sweep"
}

func (s *SweepSource) FetchSnapshot() (*ecm.Snapshot, error) {
	snap, err := s.MockSource.FetchSnapshot()
	if err != nil {
		return nil, err
	}

	data := snap.Data()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.decoder.PutRaw(data, s.param, s.value); err != nil {
		return nil, err
	}

	if s.down {
		if s.value-s.min <= s.step {
			s.value = s.min
			s.down = false
		} else {
			s.value -= s.step
		}
	} else {
		if s.max-s.value <= s.step {
			s.value = s.max
			s.down = true
		} else {
			s.value += s.step
		}
	}
	return ecm.NewSnapshot(data), nil
}
