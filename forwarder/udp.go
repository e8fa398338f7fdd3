package forwarder

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const udpSendInterval = 100 * time.Millisecond

type UDPConfig struct {
	Server     string
	Port       int
	Parameters []string
}

// UDPForwarder sends the configured parameters to a server as fixed-layout
// datagrams, at most one every udpSendInterval.
type UDPForwarder struct {
	Config *UDPConfig

	bits    map[string][]string
	conn    net.Conn
	fwdChan chan ecm.Frame
}

func NewUDPForwarder(fileName string, s *schema.Schema) (*UDPForwarder, error) {
	file, err := openConfig(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file, s)
}

func NewUDPForwarderFromReader(configReader io.Reader, s *schema.Schema) (*UDPForwarder, error) {
	config := UDPConfig{}
	if err := decodeConfig(configReader, &config); err != nil {
		return nil, errors.Wrap(err, "unable to load udp forwarder configuration")
	}
	if len(config.Parameters) == 0 || len(config.Parameters) > 255 {
		return nil, errors.Errorf("udp forwarder needs 1 to 255 parameters, got %d", len(config.Parameters))
	}
	bits, err := bitOrders(s, config.Parameters)
	if err != nil {
		return nil, err
	}
	udp := &UDPForwarder{
		Config:  &config,
		bits:    bits,
		fwdChan: make(chan ecm.Frame, 1),
	}
	if err = udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(newTelemetry ecm.Frame, prevTelemetry ecm.Frame) error {
	select {
	case udp.fwdChan <- newTelemetry:
	default:
		// if channel is full, skip
	}
	return nil
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.NewTicker(udpSendInterval)
	defer limiter.Stop()
	for {
		select {
		case t := <-udp.fwdChan:
			if err := udp.forward(t); err != nil {
				log.Error("unable to forward telemetry to server ", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(telem ecm.Frame) error {
	pkt, err := encodePacket(udp.Config.Parameters, udp.bits, telem)
	if err != nil {
		return err
	}
	_, err = udp.conn.Write(pkt)
	return err
}

func (udp *UDPForwarder) connect() error {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp server")
	}
	udp.conn = conn
	return nil
}
