package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const mqttTimeout = 5 * time.Second

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Retained bool
}

// MQTTForwarder publishes every telemetry change as a JSON object keyed by
// parameter name.
type MQTTForwarder struct {
	Config *MQTTConfig

	client  mqtt.Client
	fwdChan chan ecm.Frame
}

// to allow testing
var newMQTTClient = func(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

func NewMQTTForwarder(fileName string) (*MQTTForwarder, error) {
	file, err := openConfig(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return NewMQTTForwarderFromReader(file)
}

func NewMQTTForwarderFromReader(configReader io.Reader) (*MQTTForwarder, error) {
	config := MQTTConfig{
		ClientID: "rooibos",
		Topic:    "rooibos/telemetry",
	}
	if err := decodeConfig(configReader, &config); err != nil {
		return nil, errors.Wrap(err, "unable to load mqtt forwarder configuration")
	}
	if config.Broker == "" {
		return nil, errors.New("mqtt forwarder needs a broker")
	}
	if config.QoS > 2 {
		return nil, errors.Errorf("invalid mqtt qos %d", config.QoS)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout)
	m := &MQTTForwarder{
		Config:  &config,
		client:  newMQTTClient(opts),
		fwdChan: make(chan ecm.Frame, 1),
	}
	if err := wait(m.client.Connect()); err != nil {
		return nil, errors.Wrapf(err, "unable to connect to %s", config.Broker)
	}
	log.WithField("broker", config.Broker).Info("mqtt forwarder connected")
	return m, nil
}

func (m *MQTTForwarder) Close() error {
	m.client.Disconnect(250)
	return nil
}

func (m *MQTTForwarder) Forward(newTelemetry ecm.Frame, prevTelemetry ecm.Frame) error {
	select {
	case m.fwdChan <- newTelemetry:
	default:
	}
	return nil
}

func (m *MQTTForwarder) Start(ctx context.Context) error {
	for {
		select {
		case t := <-m.fwdChan:
			if err := m.publish(t); err != nil {
				log.WithField("err", err).Error("unable to publish telemetry")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *MQTTForwarder) publish(telem ecm.Frame) error {
	payload, err := json.Marshal(jsonFrame(telem))
	if err != nil {
		return errors.Wrap(err, "unable to encode telemetry")
	}
	return wait(m.client.Publish(m.Config.Topic, m.Config.QoS, m.Config.Retained, payload))
}

func jsonFrame(telem ecm.Frame) map[string]interface{} {
	out := make(map[string]interface{}, len(telem))
	for name, v := range telem {
		if v.Kind == schema.Bitfield {
			out[name] = v.Flags
		} else {
			out[name] = v.Scalar
		}
	}
	return out
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("timed out waiting for mqtt broker")
	}
	return token.Error()
}
