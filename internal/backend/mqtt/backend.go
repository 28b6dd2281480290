// Package mqtt receives field tester uplinks from the network server MQTT
// integration and publishes the responses.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/internal/service"
)

const publishTimeout = 5 * time.Second

// Handler processes a received uplink.
type Handler interface {
	HandleUplink(ctx context.Context, topic string, data []byte) (*service.Result, error)
}

// Backend implements the MQTT backend.
type Backend struct {
	sync.RWMutex

	ctx     context.Context
	closed  bool
	wg      sync.WaitGroup
	conn    paho.Client
	config  config.MQTTConfig
	handler Handler
}

// NewBackend creates a new Backend. The connection is made by Start.
func NewBackend(c config.MQTTConfig, h Handler) (*Backend, error) {
	b := Backend{
		ctx:     context.Background(),
		config:  c,
		handler: h,
	}

	tlsconfig, err := newTLSConfig(c.CACert, c.TLSCert, c.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("mqtt: load tls config: %w", err)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(c.Server, c.Port, tlsconfig != nil))
	opts.SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	opts.SetCleanSession(c.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetKeepAlive(c.KeepAlive)
	opts.SetMaxReconnectInterval(c.MaxReconnectInterval)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}

	b.conn = paho.NewClient(opts)

	return &b, nil
}

// Start connects to the broker and handles uplinks until the context is
// cancelled. Subscribing happens on every (re)connect.
func (b *Backend) Start(ctx context.Context) error {
	b.Lock()
	b.ctx = ctx
	b.Unlock()

	log.Info().
		Str("server", b.config.Server).
		Int("port", b.config.Port).
		Msg("mqtt: connecting to mqtt broker")

	// with connect retry the token only completes once connected
	token := b.conn.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: connect: %w", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()

	return b.Close()
}

// Close unsubscribes, waits for in-flight uplinks and disconnects.
func (b *Backend) Close() error {
	log.Info().Msg("mqtt: closing backend")

	b.Lock()
	b.closed = true
	b.Unlock()

	if b.conn.IsConnected() {
		log.Info().Str("topic", b.config.Topic).Msg("mqtt: unsubscribing from uplink topic")
		token := b.conn.Unsubscribe(b.config.Topic)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", b.config.Topic).Msg("mqtt: unsubscribe error")
		}
	}

	log.Info().Msg("mqtt: handling last messages")
	b.wg.Wait()

	b.conn.Disconnect(250)
	return nil
}

func (b *Backend) context() context.Context {
	b.RLock()
	defer b.RUnlock()
	return b.ctx
}

// handleUplink is the paho message handler. Paho calls it in order and it
// must not block, so the uplink is processed and answered in a goroutine.
func (b *Backend) handleUplink(c paho.Client, msg paho.Message) {
	b.Lock()
	if b.closed {
		b.Unlock()
		mqttEventCounter("closed").Inc()
		log.Warn().Str("topic", msg.Topic()).Msg("mqtt: backend closed, uplink discarded")
		return
	}
	b.wg.Add(1)
	b.Unlock()

	go func() {
		defer b.wg.Done()
		b.processUplink(c, msg)
	}()
}

func (b *Backend) processUplink(c paho.Client, msg paho.Message) {
	topic := msg.Topic()
	logger := log.With().Str("topic", topic).Logger()
	logger.Debug().Int("size", len(msg.Payload())).Msg("mqtt: uplink received")

	res, err := b.handler.HandleUplink(b.context(), topic, msg.Payload())
	if err != nil {
		mqttEventCounter("error").Inc()
		logger.Error().Err(err).Msg("mqtt: handle uplink error")
		return
	}
	if res == nil {
		mqttEventCounter("dropped").Inc()
		return
	}
	mqttEventCounter("processed").Inc()

	logger.Info().
		Str("dev_eui", res.Uplink.DevEUI).
		Str("device_id", res.Uplink.DeviceID).
		Str("downlink_topic", res.Topic).
		Uint8("qos", b.config.QoS).
		Msg("mqtt: publishing response")

	token := c.Publish(res.Topic, b.config.QoS, false, res.Body)
	if !token.WaitTimeout(publishTimeout) {
		mqttPublishCounter("timeout").Inc()
		logger.Error().Str("downlink_topic", res.Topic).Msg("mqtt: publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		mqttPublishCounter("error").Inc()
		logger.Error().Err(err).Str("downlink_topic", res.Topic).Msg("mqtt: publish error")
		return
	}
	mqttPublishCounter("ok").Inc()
}

func (b *Backend) onConnected(c paho.Client) {
	mqttConnectCounter().Inc()
	log.Info().Msg("mqtt: connected to mqtt broker")

	for {
		log.Info().
			Str("topic", b.config.Topic).
			Uint8("qos", b.config.QoS).
			Msg("mqtt: subscribing to uplink topic")

		token := c.Subscribe(b.config.Topic, b.config.QoS, b.handleUplink)
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", b.config.Topic).Msg("mqtt: subscribe error, will retry in 2s")

			select {
			case <-b.context().Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		return
	}
}

func (b *Backend) onConnectionLost(c paho.Client, err error) {
	mqttDisconnectCounter().Inc()
	log.Error().Err(err).Msg("mqtt: connection lost")
}

// brokerURL builds the broker address. A server that already carries a
// scheme is used as is.
func brokerURL(server string, port int, useTLS bool) string {
	if strings.Contains(server, "://") {
		return server
	}

	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, server, port)
}

func newTLSConfig(cafile, certFile, certKeyFile string) (*tls.Config, error) {
	if cafile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	// Import trusted certificates from CAfile.pem.
	if cafile != "" {
		cacert, err := os.ReadFile(cafile)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		certpool := x509.NewCertPool()
		if !certpool.AppendCertsFromPEM(cacert) {
			return nil, fmt.Errorf("no certificates found in %s", cafile)
		}

		tlsConfig.RootCAs = certpool
	}

	// Import certificate and the key
	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key-pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}

	return tlsConfig, nil
}
