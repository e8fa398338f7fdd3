package ecm

import (
	"io"

	"github.com/pkg/errors"
)

const (
	markerSOH = 0x01
	markerEOH = 0x02
	markerEOT = 0x03
	markerACK = 0x06
	markerNAK = 0x15

	idECM  = 0x42
	idTool = 0xFF

	// SOH, 0x00, destination, size, source, EOH
	headerSize = 6
)

// CommandLiveData requests the runtime data snapshot.
const CommandLiveData = 'C'

// EncodeRequest wraps command in a request frame addressed to the ECM.
func EncodeRequest(command []byte) []byte {
	frame := make([]byte, 0, headerSize+len(command)+2)
	frame = append(frame, markerSOH, 0x00, idECM, byte(len(command)+1), idTool, markerEOH)
	frame = append(frame, command...)
	frame = append(frame, markerEOT)
	return append(frame, checksum(frame[1:]))
}

// DecodeResponse reads a single response frame from r and returns the payload
// following the ACK marker.
func DecodeResponse(r io.Reader) ([]byte, error) {
	hdr := make([]byte, headerSize)
	if _, err := readFull(r, hdr[:1]); err != nil {
		return nil, readError(err, "start of frame")
	}
	if hdr[0] != markerSOH {
		return nil, errors.Wrapf(ErrUnknownResponse, "unexpected start byte 0x%02x", hdr[0])
	}
	if _, err := readFull(r, hdr[1:]); err != nil {
		return nil, truncated(err, "header")
	}
	size := int(hdr[3])
	if size < 2 {
		return nil, errors.Wrapf(ErrUnknownResponse, "invalid frame size %d", size)
	}

	// body, EOT and checksum
	rest := make([]byte, size+1)
	if _, err := readFull(r, rest); err != nil {
		return nil, truncated(err, "frame body")
	}

	// the checksum covers the framing bytes too, so it is checked before them
	want := checksum(hdr[1:]) ^ checksum(rest[:size])
	if got := rest[size]; got != want {
		return nil, errors.Wrapf(ErrFailedChecksum, "got 0x%02x, expected 0x%02x", got, want)
	}
	if hdr[5] != markerEOH {
		return nil, errors.Wrapf(ErrUnknownResponse, "unexpected header end 0x%02x", hdr[5])
	}
	if rest[size-1] != markerEOT {
		return nil, errors.Wrapf(ErrUnknownResponse, "missing end of frame marker")
	}

	body := rest[:size-1]
	switch body[0] {
	case markerACK:
		return body[1:], nil
	case markerNAK:
		return nil, ErrNakResponse
	}
	return nil, errors.Wrapf(ErrUnknownResponse, "unexpected marker 0x%02x", body[0])
}

func readError(err error, what string) error {
	if err == ErrNoResponse {
		return err
	}
	return errors.Wrapf(err, "unable to read %s", what)
}

// truncated reports a frame cut short by a timeout as a desynchronized
// stream. Other read errors are link failures.
func truncated(err error, what string) error {
	if err == ErrNoResponse {
		return errors.Wrapf(ErrUnknownResponse, "truncated %s", what)
	}
	return errors.Wrapf(err, "unable to read %s", what)
}

func checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// readFull is io.ReadFull for serial ports, which report a read timeout as
// zero bytes with no error.
func readFull(r io.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			if err == io.EOF {
				return read, ErrNoResponse
			}
			return read, err
		}
		if n == 0 {
			return read, ErrNoResponse
		}
	}
	return read, nil
}
