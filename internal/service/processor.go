// Package service runs field tester uplinks from any backend through the
// envelope and the decoder.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/field-tester-server/internal/envelope"
	"github.com/lorawan-server/field-tester-server/internal/models"
	"github.com/lorawan-server/field-tester-server/internal/storage"
	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
	"github.com/lorawan-server/field-tester-server/pkg/lorawan"
)

// Result is the downlink to send back for an accepted uplink.
type Result struct {
	// Topic is the downlink topic, empty when the uplink had no topic.
	Topic  string
	Body   []byte
	Uplink *envelope.Uplink
	Fix    *fieldtester.DecodedFix
}

// Processor decodes uplinks of a single envelope type.
type Processor struct {
	env   envelope.Envelope
	store storage.Store
}

// NewProcessor creates a processor. The store is optional.
func NewProcessor(env envelope.Envelope, store storage.Store) *Processor {
	return &Processor{
		env:   env,
		store: store,
	}
}

// Envelope returns the envelope the processor decodes.
func (p *Processor) Envelope() envelope.Envelope {
	return p.env
}

// HandleUplink decodes the message and returns the downlink to publish. A nil
// result without error means the message was dropped: it was not an uplink,
// it was sent on another port or the fix was rejected. An error is returned
// for messages that cannot be parsed.
func (p *Processor) HandleUplink(ctx context.Context, topic string, data []byte) (*Result, error) {
	typ := string(p.env.Type())

	up, err := p.env.DecodeUplink(data)
	if err != nil {
		switch {
		case errors.Is(err, envelope.ErrIgnored):
			uplinkCounter(typ, outcomeIgnored).Inc()
			log.Debug().Str("topic", topic).Str("envelope", typ).Msg("service: message ignored")
			return nil, nil
		case errors.Is(err, envelope.ErrUnsupportedPort):
			uplinkCounter(typ, outcomeUnsupportedPort).Inc()
			log.Debug().Err(err).Str("topic", topic).Str("envelope", typ).Msg("service: uplink on unsupported port dropped")
			return nil, nil
		}
		uplinkCounter(typ, outcomeInvalid).Inc()
		return nil, fmt.Errorf("decode %s uplink: %w", typ, err)
	}

	logger := log.With().
		Str("topic", topic).
		Str("envelope", typ).
		Uint8("f_port", up.FPort).
		Uint32("f_cnt", up.FCnt).
		Str("dev_eui", up.DevEUI).
		Logger()

	fix, err := fieldtester.Decode(up.Payload, up.FPort, up.FCnt, up.Gateways)
	if err != nil {
		reason := rejectReason(err)
		uplinkCounter(typ, outcomeRejected).Inc()
		rejectCounter(reason).Inc()
		logger.Info().Err(err).Str("reason", reason).Msg("service: fix rejected")
		return nil, nil
	}

	body, err := p.env.EncodeDownlink(up, fix)
	if err != nil {
		return nil, fmt.Errorf("encode %s downlink: %w", typ, err)
	}

	uplinkCounter(typ, outcomeAccepted).Inc()
	logger.Info().
		Float64("latitude", fix.Latitude).
		Float64("longitude", fix.Longitude).
		Int("num_gateways", fix.NumGateways).
		Int("min_rssi", fix.MinRSSI).
		Int("max_rssi", fix.MaxRSSI).
		Int("min_distance", fix.MinDistance).
		Int("max_distance", fix.MaxDistance).
		Msg("service: fix accepted")

	if p.store != nil {
		if err := p.store.CreateFix(ctx, newFixRecord(typ, topic, up, fix)); err != nil {
			storageErrorCounter().Inc()
			logger.Error().Err(err).Msg("service: store fix error")
		}
	}

	res := Result{
		Body:   body,
		Uplink: up,
		Fix:    fix,
	}
	if topic != "" {
		res.Topic = p.env.DownlinkTopic(topic)
	}

	return &res, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, fieldtester.ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, fieldtester.ErrLowQuality):
		return "low_quality"
	case errors.Is(err, fieldtester.ErrInvalidPort):
		return "invalid_port"
	}
	return "unknown"
}

func newFixRecord(typ, topic string, up *envelope.Uplink, fix *fieldtester.DecodedFix) *models.FixRecord {
	gateways := make([]interface{}, 0, len(up.Gateways))
	for _, gw := range up.Gateways {
		g := map[string]interface{}{"rssi": gw.RSSI}
		if gw.Location != nil {
			g["latitude"] = gw.Location.Latitude
			g["longitude"] = gw.Location.Longitude
		}
		gateways = append(gateways, g)
	}

	rec := models.FixRecord{
		Envelope:      typ,
		DeviceID:      up.DeviceID,
		ApplicationID: up.ApplicationID,
		FPort:         up.FPort,
		FCnt:          up.FCnt,
		Latitude:      fix.Latitude,
		Longitude:     fix.Longitude,
		Altitude:      fix.Altitude,
		HDOP:          fix.HDOP,
		Sats:          fix.Sats,
		Accuracy:      fix.Accuracy,
		NumGateways:   fix.NumGateways,
		MinRSSI:       fix.MinRSSI,
		MaxRSSI:       fix.MaxRSSI,
		MinDistance:   fix.MinDistance,
		MaxDistance:   fix.MaxDistance,
		Buffer:        []byte(fix.Buffer),
		Metadata: models.Variables{
			"topic":    topic,
			"gateways": gateways,
		},
	}

	if eui, ok := parseDevEUI(up.DevEUI); ok {
		rec.DevEUI = &eui
	}

	return &rec
}

// parseDevEUI accepts hex (TTS, ChirpStack v4) and base64 (ChirpStack v3)
// encoded EUIs. The zero EUI is rejected.
func parseDevEUI(s string) (lorawan.EUI64, bool) {
	if s == "" {
		return lorawan.EUI64{}, false
	}

	eui, err := lorawan.ParseEUI64(s)
	if err != nil {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil || len(b) != len(eui) {
			return eui, false
		}
		copy(eui[:], b)
	}

	// an all-zero EUI is what integrations send when the device is unknown
	return eui, !eui.IsZero()
}
