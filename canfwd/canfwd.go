package canfwd

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/brutella/can"
	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

var newBus = func(portName string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(portName)
}

// Connection forwards scalar telemetry onto a CAN bus, one frame ID per
// parameter.
type Connection struct {
	bus   CANBus
	ids   map[string]uint32
	names []string

	fwdChan chan ecm.Frame
	// last value put on the bus per parameter, owned by the sender
	sent map[string]uint16
}

// Connect opens the CAN interface. ids maps parameter names to the frame ID
// each is published under.
func Connect(portName string, ids map[string]uint32) (*Connection, error) {
	bus, err := newBus(portName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", portName)
	}
	return newConnection(bus, ids), nil
}

func newConnection(bus CANBus, ids map[string]uint32) *Connection {
	c := &Connection{
		bus:     bus,
		ids:     ids,
		fwdChan: make(chan ecm.Frame, 1),
		sent:    map[string]uint16{},
	}
	for name := range ids {
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// Start services the bus until ctx is done.
func (c *Connection) Start(ctx context.Context) error {
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("CAN bus opened and subscribed")

	go func() {
		<-ctx.Done()
		log.Infof("stopping can bus: %v", ctx.Err())
		if err := c.bus.Disconnect(); err != nil {
			log.WithField("err", err).Warn("unable to disconnect canbus after context")
		}
	}()
	go c.send(ctx)

	return c.bus.ConnectAndPublish()
}

func (c *Connection) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Disconnect()
}

// Forward queues newTelemetry for the sender, replacing any telemetry it has
// not picked up yet.
func (c *Connection) Forward(newTelemetry ecm.Frame, prevTelemetry ecm.Frame) error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	for {
		select {
		case c.fwdChan <- newTelemetry:
			return nil
		default:
		}
		select {
		case <-c.fwdChan:
		default:
		}
	}
}

func (c *Connection) send(ctx context.Context) {
	for {
		select {
		case t := <-c.fwdChan:
			if err := c.publish(t); err != nil {
				log.WithField("err", err).Error("unable to forward telemetry to can bus")
			}
		case <-ctx.Done():
			return
		}
	}
}

// publish sends every mapped scalar whose value on the bus would change.
func (c *Connection) publish(telem ecm.Frame) error {
	for _, name := range c.names {
		v, ok := telem[name]
		if !ok || v.Kind != schema.Scalar {
			continue
		}
		f := uint16Frame(c.ids[name], v.Scalar)
		value := binary.LittleEndian.Uint16(f.Data[0:2])
		if last, ok := c.sent[name]; ok && last == value {
			continue
		}
		log.WithField("canID", f.ID).
			WithField(name, value).
			Debug("sending telemetry over canbus")
		if err := c.bus.Publish(f); err != nil {
			return errors.Wrapf(err, "unable to send %s to can bus", name)
		}
		c.sent[name] = value
	}
	return nil
}

func (c *Connection) handleFrame(frame can.Frame) {
	log.WithField("canID", frame.ID).
		WithField("length", frame.Length).
		Debug("received canbus frame")
}

func uint16Frame(id uint32, v float64) can.Frame {
	v = math.Round(v)
	if v < 0 || math.IsNaN(v) {
		v = 0
	} else if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	f := can.Frame{
		ID:     id,
		Length: 2,
	}
	binary.LittleEndian.PutUint16(f.Data[0:2], uint16(v))
	return f
}
