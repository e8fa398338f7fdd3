package ecm

import (
	"github.com/pkg/errors"
)

// Quality counts the outcome of repeated live data requests.
type Quality struct {
	Samples          int
	ChecksumFailures int
	Naks             int
	Unknown          int
	NoResponse       int
}

func (q Quality) ChecksumFailureRatio() float64 {
	if q.Samples == 0 {
		return 0
	}
	return float64(q.ChecksumFailures) / float64(q.Samples)
}

// SampleLinkQuality performs n fetches and counts every protocol failure.
// A link failure aborts sampling.
func SampleLinkQuality(src SnapshotSource, n int) (Quality, error) {
	q := Quality{}
	for i := 0; i < n; i++ {
		_, err := src.FetchSnapshot()
		q.Samples++
		switch {
		case err == nil:
		case errors.Is(err, ErrFailedChecksum):
			q.ChecksumFailures++
		case errors.Is(err, ErrNakResponse):
			q.Naks++
		case errors.Is(err, ErrUnknownResponse):
			q.Unknown++
		case errors.Is(err, ErrNoResponse):
			q.NoResponse++
		default:
			return q, err
		}
	}
	return q, nil
}
