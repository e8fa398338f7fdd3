package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenStub struct {
	mqtt.Token
	err error
}

func (t *tokenStub) Wait() bool {
	return true
}

func (t *tokenStub) WaitTimeout(time.Duration) bool {
	return true
}

func (t *tokenStub) Error() error {
	return t.err
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type clientStub struct {
	mqtt.Client
	opts         *mqtt.ClientOptions
	connectErr   error
	disconnected bool
	publishChan  chan publishCall
}

func (c *clientStub) Connect() mqtt.Token {
	return &tokenStub{err: c.connectErr}
}

func (c *clientStub) Disconnect(uint) {
	c.disconnected = true
}

func (c *clientStub) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.publishChan <- publishCall{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	}
	return &tokenStub{}
}

func stubMQTT(client *clientStub) func() {
	origNewMQTTClient := newMQTTClient
	newMQTTClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}
	return func() {
		newMQTTClient = origNewMQTTClient
	}
}

func TestMQTTForwarder(t *testing.T) {
	client := &clientStub{publishChan: make(chan publishCall, 1)}
	defer stubMQTT(client)()

	m, err := NewMQTTForwarderFromReader(bytes.NewBufferString(`
Broker = "tcp://localhost:1883"
Topic = "bike/ecm"
QoS = 1
Retained = true
`))
	require.NoError(t, err)
	assert.Equal(t, "rooibos", m.Config.ClientID)
	assert.Equal(t, "tcp://localhost:1883", client.opts.Servers[0].String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = m.Start(ctx)
	}()

	s := loadSchema(t)
	assert.NoError(t, m.Forward(sampleFrame(t, s), nil))

	call := <-client.publishChan
	assert.Equal(t, "bike/ecm", call.topic)
	assert.Equal(t, byte(1), call.qos)
	assert.True(t, call.retained)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(call.payload, &payload))
	assert.Equal(t, 1870.0, payload["engine_rpm"])
	assert.Equal(t, map[string]interface{}{
		"engine_running":   true,
		"o2_active":        false,
		"accel_enrich":     false,
		"decel_enleanment": false,
	}, payload["engine_status"])

	assert.NoError(t, m.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTForwarderErrors(t *testing.T) {
	client := &clientStub{connectErr: errors.New("connection refused")}
	defer stubMQTT(client)()

	_, err := NewMQTTForwarderFromReader(bytes.NewBufferString(`Broker = "tcp://localhost:1883"`))
	assert.Error(t, err)

	_, err = NewMQTTForwarderFromReader(bytes.NewBufferString(`Topic = "x"`))
	assert.Error(t, err, "broker is required")

	_, err = NewMQTTForwarderFromReader(bytes.NewBufferString(`
Broker = "tcp://localhost:1883"
QoS = 3
`))
	assert.Error(t, err)
}
