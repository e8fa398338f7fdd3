package ecm

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const defaultBaudRate = 9600

// DefaultReadTimeout bounds each read from the serial port.
const DefaultReadTimeout = 100 * time.Millisecond

type LinkConfig struct {
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration
	// SnapshotLength is the payload size every live data response must have.
	SnapshotLength int
}

// Port is the part of a serial port the link uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// to allow testing
var openPort = func(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Link talks to the ECM over a serial port.
type Link struct {
	cfg LinkConfig

	mu   sync.Mutex
	port Port
}

func NewLink(cfg LinkConfig) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Link{cfg: cfg}
}

func (l *Link) Name() string {
	return "ecm"
}

// Open opens the serial port, closing any port that is already open.
func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeLocked(); err != nil {
		log.WithField("err", err).Warn("unable to close previous ecm port")
	}
	p, err := openPort(l.cfg.PortName, l.cfg.BaudRate, l.cfg.ReadTimeout)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", l.cfg.PortName)
	}
	l.port = p
	log.WithField("port", l.cfg.PortName).
		WithField("baud", l.cfg.BaudRate).
		Info("ecm link opened")
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// FetchSnapshot requests live data and waits for a validated response.
func (l *Link) FetchSnapshot() (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, ErrNotOpen
	}

	// drop anything left over from an earlier desynchronized response
	if err := l.port.ResetInputBuffer(); err != nil {
		return nil, errors.Wrap(err, "unable to reset ecm input buffer")
	}
	if _, err := l.port.Write(EncodeRequest([]byte{CommandLiveData})); err != nil {
		return nil, errors.Wrap(err, "unable to send live data request")
	}
	payload, err := DecodeResponse(l.port)
	if err != nil {
		return nil, err
	}
	if l.cfg.SnapshotLength > 0 && len(payload) != l.cfg.SnapshotLength {
		return nil, errors.Wrapf(ErrUnknownResponse, "live data is %d bytes, expected %d",
			len(payload), l.cfg.SnapshotLength)
	}
	return NewSnapshot(payload), nil
}
