package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/internal/envelope"
	"github.com/lorawan-server/field-tester-server/internal/service"
)

type testToken struct {
	err error
}

func (t *testToken) Wait() bool                     { return true }
func (t *testToken) WaitTimeout(time.Duration) bool { return true }
func (t *testToken) Error() error                   { return t.err }

func (t *testToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken completes once release is closed.
type pendingToken struct {
	release chan struct{}
}

func (t *pendingToken) Wait() bool {
	<-t.release
	return true
}

func (t *pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.release:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *pendingToken) Done() <-chan struct{} { return t.release }
func (t *pendingToken) Error() error          { return nil }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type testClient struct {
	paho.Client

	sync.Mutex
	published []published
	err       error
	pending   *pendingToken
}

func (c *testClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.Lock()
	defer c.Unlock()

	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.pending != nil {
		return c.pending
	}
	return &testToken{err: c.err}
}

type testMessage struct {
	paho.Message

	topic   string
	payload []byte
}

func (m *testMessage) Topic() string   { return m.topic }
func (m *testMessage) Payload() []byte { return m.payload }

func newTestBackend(t *testing.T) *Backend {
	env, err := envelope.New(envelope.TypeTTS3)
	require.NoError(t, err)

	b, err := NewBackend(config.MQTTConfig{
		Server:   "localhost",
		Port:     1883,
		ClientID: "test",
		Topic:    "v3/+/devices/+/up",
		QoS:      1,
	}, service.NewProcessor(env, nil))
	require.NoError(t, err)
	return b
}

const uplink = `{
	"end_device_ids": {"device_id": "field-tester-01", "application_ids": {"application_id": "mapper"}},
	"uplink_message": {"f_port": 1, "f_cnt": 3, "frm_payload": "IAAAgAAAA+gFCA==", "rx_metadata": [{"rssi": -110}, {"rssi": -95}]}
}`

func TestHandleUplink(t *testing.T) {
	t.Run("response published", func(t *testing.T) {
		assert := require.New(t)
		b := newTestBackend(t)
		c := &testClient{}
		ok := testutil.ToFloat64(mqttPublishCounter("ok"))

		b.handleUplink(c, &testMessage{topic: "v3/mapper/devices/field-tester-01/up", payload: []byte(uplink)})
		b.wg.Wait()

		assert.Len(c.published, 1)
		assert.Equal("v3/mapper/devices/field-tester-01/down/replace", c.published[0].topic)
		assert.Equal(byte(1), c.published[0].qos)
		assert.JSONEq(`{"downlinks": [{"f_port": 2, "frm_payload": "A1ppoAAC", "priority": "HIGH"}]}`, string(c.published[0].payload))
		assert.Equal(ok+1, testutil.ToFloat64(mqttPublishCounter("ok")))
	})

	t.Run("dropped", func(t *testing.T) {
		b := newTestBackend(t)
		c := &testClient{}
		dropped := testutil.ToFloat64(mqttEventCounter("dropped"))

		b.handleUplink(c, &testMessage{topic: "v3/mapper/devices/field-tester-01/up", payload: []byte(`{"end_device_ids": {}}`)})
		b.wg.Wait()

		assert.Empty(t, c.published)
		assert.Equal(t, dropped+1, testutil.ToFloat64(mqttEventCounter("dropped")))
	})

	t.Run("invalid", func(t *testing.T) {
		b := newTestBackend(t)
		c := &testClient{}
		errs := testutil.ToFloat64(mqttEventCounter("error"))

		b.handleUplink(c, &testMessage{topic: "v3/mapper/devices/field-tester-01/up", payload: []byte(`nope`)})
		b.wg.Wait()

		assert.Empty(t, c.published)
		assert.Equal(t, errs+1, testutil.ToFloat64(mqttEventCounter("error")))
	})

	t.Run("publish error", func(t *testing.T) {
		b := newTestBackend(t)
		c := &testClient{err: errors.New("not connected")}
		errs := testutil.ToFloat64(mqttPublishCounter("error"))

		b.handleUplink(c, &testMessage{topic: "v3/mapper/devices/field-tester-01/up", payload: []byte(uplink)})
		b.wg.Wait()

		assert.Len(t, c.published, 1)
		assert.Equal(t, errs+1, testutil.ToFloat64(mqttPublishCounter("error")))
	})
}

func TestHandleUplinkDoesNotBlock(t *testing.T) {
	assert := require.New(t)
	b := newTestBackend(t)
	c := &testClient{pending: &pendingToken{release: make(chan struct{})}}
	ok := testutil.ToFloat64(mqttPublishCounter("ok"))

	returned := make(chan struct{})
	go func() {
		b.handleUplink(c, &testMessage{topic: "v3/mapper/devices/field-tester-01/up", payload: []byte(uplink)})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on the publish token")
	}

	close(c.pending.release)
	b.wg.Wait()

	c.Lock()
	assert.Len(c.published, 1)
	c.Unlock()
	assert.Equal(ok+1, testutil.ToFloat64(mqttPublishCounter("ok")))
}

func TestHandleUplinkAfterClose(t *testing.T) {
	b := newTestBackend(t)
	c := &testClient{}
	closed := testutil.ToFloat64(mqttEventCounter("closed"))

	b.Lock()
	b.closed = true
	b.Unlock()

	b.handleUplink(c, &testMessage{topic: "v3/mapper/devices/field-tester-01/up", payload: []byte(uplink)})
	b.wg.Wait()

	assert.Empty(t, c.published)
	assert.Equal(t, closed+1, testutil.ToFloat64(mqttEventCounter("closed")))
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost", 1883, false))
	assert.Equal(t, "ssl://eu1.cloud.thethings.network:8883", brokerURL("eu1.cloud.thethings.network", 8883, true))
	assert.Equal(t, "ws://broker:9001/mqtt", brokerURL("ws://broker:9001/mqtt", 1883, false))
}

func TestNewTLSConfig(t *testing.T) {
	tlsConfig, err := newTLSConfig("", "", "")
	assert.NoError(t, err)
	assert.Nil(t, tlsConfig)

	_, err = newTLSConfig("/does/not/exist.pem", "", "")
	assert.Error(t, err)
}
