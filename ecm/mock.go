package ecm

import (
	"sync"
)

// LiveDataSample is a live data response captured from a running engine.
var LiveDataSample = []byte{
	0x18, 0x0e, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x79, 0x2a, 0x79, 0x2a, 0xe4, 0x51,
	0xe4, 0x51, 0x26, 0x00, 0x18, 0xe7, 0x04, 0x2b, 0x02, 0x6b, 0x02, 0x66, 0x00, 0xe2, 0x00, 0x4e,
	0x07, 0xfc, 0x03, 0x00, 0x00, 0xe8, 0x03, 0xe8, 0x03, 0xe8, 0x03, 0xe8, 0x03, 0xdc, 0x03, 0xdc,
	0x03, 0x00, 0x90, 0x00, 0x01, 0x39, 0xb4, 0x6b, 0x6e, 0x02, 0xe4, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x32, 0x00, 0x1d, 0x00,
	0x00, 0x00, 0x00, 0x53, 0x00, 0x41, 0x01, 0xf4, 0xc6, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0xff, 0x72, 0xff, 0xb3, 0x73, 0x18, 0x9b, 0x9a, 0x01, 0x4f, 0x0a, 0x5e, 0x00, 0x00,
	0xb4, 0x6b, 0xff, 0x9a, 0x00, 0x00, 0x4b, 0x96, 0x52, 0x0c, 0x04, 0x0c, 0x04, 0x00,
}

// MockSource serves LiveDataSample without touching any hardware.
type MockSource struct {
	mu   sync.Mutex
	open bool
}

func (m *MockSource) Name() string {
	return "ecm-mock"
}

func (m *MockSource) Open() error {
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	return nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	return nil
}

// FetchSnapshot returns the sample with a fresh capture time.
func (m *MockSource) FetchSnapshot() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil, ErrNotOpen
	}
	return NewSnapshot(LiveDataSample), nil
}
