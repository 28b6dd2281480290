// Package nats receives field tester uplinks from a NATS subject. Responses
// go to the reply subject of a request, or to the configured downlink
// subject.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/internal/service"
)

const drainTimeout = 5 * time.Second

var errDrainTimeout = errors.New("nats: drain timeout")

// Handler processes a received uplink.
type Handler interface {
	HandleUplink(ctx context.Context, topic string, data []byte) (*service.Result, error)
}

// Backend implements the NATS backend.
type Backend struct {
	nc      *nats.Conn
	config  config.NATSConfig
	handler Handler
	ctx     context.Context

	publish func(subject string, data []byte) error
}

// Connect opens the NATS connection with reconnect handling.
func Connect(c config.NATSConfig, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(c.URL,
		nats.Name(name),
		nats.UserInfo(c.Username, c.Password),
		nats.ReconnectWait(c.ReconnectInterval),
		nats.MaxReconnects(c.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats: disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("nats: async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return nc, nil
}

// NewBackend creates a new Backend.
func NewBackend(nc *nats.Conn, c config.NATSConfig, h Handler) *Backend {
	b := &Backend{
		nc:      nc,
		config:  c,
		handler: h,
		ctx:     context.Background(),
	}
	if nc != nil {
		b.publish = nc.Publish
	}
	return b
}

// Start subscribes to the uplink subject and blocks until the context is
// cancelled.
func (b *Backend) Start(ctx context.Context) error {
	b.ctx = ctx

	sub, err := b.nc.QueueSubscribe(b.config.Subject, b.config.QueueGroup, b.handleMessage)
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", b.config.Subject, err)
	}

	log.Info().
		Str("subject", b.config.Subject).
		Str("queue_group", b.config.QueueGroup).
		Msg("nats: subscribed to uplink subject")

	<-ctx.Done()

	log.Info().Msg("nats: handling last messages")
	if err := drain(sub, drainTimeout); err != nil {
		log.Error().Err(err).Msg("nats: drain subscription error")
	}

	return nil
}

type drainer interface {
	Drain() error
	IsValid() bool
}

// drain stops new deliveries and waits until the pending messages are
// handled. Subscription.Drain only starts this, the subscription turns
// invalid once it is done.
func drain(sub drainer, timeout time.Duration) error {
	if err := sub.Drain(); err != nil {
		return err
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for sub.IsValid() {
		select {
		case <-deadline:
			return errDrainTimeout
		case <-ticker.C:
		}
	}
	return nil
}

func (b *Backend) handleMessage(msg *nats.Msg) {
	logger := log.With().Str("subject", msg.Subject).Logger()
	logger.Debug().Int("size", len(msg.Data)).Msg("nats: uplink received")

	res, err := b.handler.HandleUplink(b.ctx, msg.Subject, msg.Data)
	if err != nil {
		natsEventCounter("error").Inc()
		logger.Error().Err(err).Msg("nats: handle uplink error")
		return
	}
	if res == nil {
		natsEventCounter("dropped").Inc()
		return
	}
	natsEventCounter("processed").Inc()

	subject, kind := msg.Reply, "reply"
	if subject == "" {
		subject, kind = b.config.DownlinkSubject, "downlink"
	}
	if subject == "" {
		logger.Debug().Msg("nats: no reply or downlink subject, response discarded")
		return
	}

	if err := b.publish(subject, res.Body); err != nil {
		natsPublishCounter("error").Inc()
		logger.Error().Err(err).Str("response_subject", subject).Msg("nats: publish response error")
		return
	}
	natsPublishCounter(kind).Inc()

	logger.Info().
		Str("dev_eui", res.Uplink.DevEUI).
		Str("device_id", res.Uplink.DeviceID).
		Str("response_subject", subject).
		Msg("nats: response sent")
}
