package ecm

import (
	"github.com/pkg/errors"
)

// Protocol errors. The frame that produced them is discarded in full.
var (
	ErrNakResponse     = errors.New("ecm responded with NAK")
	ErrFailedChecksum  = errors.New("ecm response failed checksum")
	ErrUnknownResponse = errors.New("unknown ecm response")
)

// Link errors.
var (
	ErrNoResponse = errors.New("no response from ecm")
	ErrNotOpen    = errors.New("ecm link is not open")
)

// Schema errors.
var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrWrongKind        = errors.New("wrong parameter kind")
	ErrOutOfBounds      = errors.New("parameter address out of bounds")
)

// IsProtocolError reports whether err is a per-request failure after which
// the link can still be used: a rejected or corrupt frame, or a read timeout.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrNakResponse) ||
		errors.Is(err, ErrFailedChecksum) ||
		errors.Is(err, ErrUnknownResponse) ||
		errors.Is(err, ErrNoResponse)
}
