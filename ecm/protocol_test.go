package ecm

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseFrame(marker byte, payload []byte) []byte {
	body := append([]byte{marker}, payload...)
	frame := []byte{markerSOH, 0x00, idTool, byte(len(body) + 1), idECM, markerEOH}
	frame = append(frame, body...)
	frame = append(frame, markerEOT)
	return append(frame, checksum(frame[1:]))
}

// reseal recomputes the checksum of a deliberately malformed frame.
func reseal(frame []byte) {
	frame[len(frame)-1] = checksum(frame[1 : len(frame)-1])
}

// timeoutReader behaves like a serial port with a read timeout: once its data
// is exhausted every read returns zero bytes and no error.
type timeoutReader struct {
	data []byte
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestEncodeRequest(t *testing.T) {
	assert.Equal(t,
		[]byte{0x01, 0x00, 0x42, 0x02, 0xff, 0x02, 0x43, 0x03, 0xfd},
		EncodeRequest([]byte{CommandLiveData}))
}

func TestDecodeResponse(t *testing.T) {
	frame := responseFrame(markerACK, LiveDataSample)
	payload, err := DecodeResponse(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, LiveDataSample, payload)

	// trickle the frame one byte at a time
	r := &oneByteReader{data: frame}
	payload, err = DecodeResponse(r)
	require.NoError(t, err)
	assert.Equal(t, LiveDataSample, payload)
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, nil
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestDecodeResponseNak(t *testing.T) {
	_, err := DecodeResponse(bytes.NewReader(responseFrame(markerNAK, nil)))
	assert.True(t, errors.Is(err, ErrNakResponse))
}

func TestDecodeResponseFailedChecksum(t *testing.T) {
	frame := responseFrame(markerACK, LiveDataSample)
	for i := 1; i < len(frame); i++ {
		if i == 3 {
			// a corrupt size changes how much is read, see TestDecodeResponseCorruptSize
			continue
		}
		corrupt := append([]byte(nil), frame...)
		corrupt[i] ^= 0x10
		payload, err := DecodeResponse(bytes.NewReader(corrupt))
		assert.Nil(t, payload)
		assert.True(t, errors.Is(err, ErrFailedChecksum), "byte %d: %v", i, err)
	}
}

func TestDecodeResponseCorruptSize(t *testing.T) {
	frame := responseFrame(markerACK, LiveDataSample)

	shorter := append([]byte(nil), frame...)
	shorter[3] -= 4
	payload, err := DecodeResponse(bytes.NewReader(shorter))
	assert.Nil(t, payload)
	assert.True(t, IsProtocolError(err), "%v", err)

	longer := append([]byte(nil), frame...)
	longer[3] ^= 0x10
	payload, err = DecodeResponse(&timeoutReader{data: longer})
	assert.Nil(t, payload)
	assert.True(t, errors.Is(err, ErrUnknownResponse), "%v", err)
}

func TestDecodeResponseUnknown(t *testing.T) {
	frame := responseFrame(0x07, []byte{1, 2, 3})
	_, err := DecodeResponse(bytes.NewReader(frame))
	assert.True(t, errors.Is(err, ErrUnknownResponse), "unknown marker")

	_, err = DecodeResponse(bytes.NewReader([]byte{0x55, 0x01, 0x02}))
	assert.True(t, errors.Is(err, ErrUnknownResponse), "garbage start byte")

	good := responseFrame(markerACK, []byte{1, 2, 3})
	noEOH := append([]byte(nil), good...)
	noEOH[5] = 0x00
	reseal(noEOH)
	_, err = DecodeResponse(bytes.NewReader(noEOH))
	assert.True(t, errors.Is(err, ErrUnknownResponse), "missing header end")

	noEOT := append([]byte(nil), good...)
	noEOT[len(noEOT)-2] = 0x00
	reseal(noEOT)
	_, err = DecodeResponse(bytes.NewReader(noEOT))
	assert.True(t, errors.Is(err, ErrUnknownResponse), "missing end of frame")

	_, err = DecodeResponse(&timeoutReader{data: good[:len(good)-4]})
	assert.True(t, errors.Is(err, ErrUnknownResponse), "truncated frame")

	tiny := []byte{markerSOH, 0x00, idTool, 0x01, idECM, markerEOH}
	_, err = DecodeResponse(bytes.NewReader(tiny))
	assert.True(t, errors.Is(err, ErrUnknownResponse), "frame too small")
}

func TestDecodeResponseNoResponse(t *testing.T) {
	_, err := DecodeResponse(&timeoutReader{})
	assert.Equal(t, ErrNoResponse, err)

	_, err = DecodeResponse(bytes.NewReader(nil))
	assert.Equal(t, ErrNoResponse, err)
	assert.False(t, errors.Is(err, ErrFailedChecksum))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("device unplugged")
}

func TestDecodeResponseReadError(t *testing.T) {
	_, err := DecodeResponse(failingReader{})
	require.Error(t, err)
	assert.False(t, IsProtocolError(err))
}

func TestIsProtocolError(t *testing.T) {
	assert.True(t, IsProtocolError(errors.Wrap(ErrFailedChecksum, "x")))
	assert.True(t, IsProtocolError(ErrNakResponse))
	assert.True(t, IsProtocolError(ErrUnknownResponse))
	assert.True(t, IsProtocolError(ErrNoResponse))
	assert.False(t, IsProtocolError(ErrNotOpen))
	assert.False(t, IsProtocolError(errors.New("io")))
}
