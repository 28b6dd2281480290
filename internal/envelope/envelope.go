// Package envelope adapts network server message formats to the field tester
// decoder and wraps its result back into a downlink.
package envelope

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
)

// Common errors
var (
	// ErrIgnored is returned for messages that are not uplinks.
	ErrIgnored = errors.New("envelope: not an uplink")
	// ErrUnsupportedPort is returned for uplinks on other ports than the
	// field tester ones, e.g. downlink acknowledgements.
	ErrUnsupportedPort = errors.New("envelope: unsupported f_port")
	ErrInvalidPayload  = errors.New("envelope: invalid payload")
)

// Type identifies an envelope format.
type Type string

// Supported envelope types.
const (
	TypeRaw        Type = "raw"
	TypeTTS3       Type = "tts3"
	TypeChirpStack Type = "cs34"
)

// Types lists all supported envelope types.
var Types = []Type{TypeRaw, TypeTTS3, TypeChirpStack}

// ParseType parses an envelope type. Besides the short names it accepts the
// long names used by older configuration files.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw":
		return TypeRaw, nil
	case "tts3", "thethingsstack_v3", "tts":
		return TypeTTS3, nil
	case "cs34", "chirpstack_v3+", "chirpstack":
		return TypeChirpStack, nil
	}
	return "", fmt.Errorf("unknown envelope type: %q", s)
}

// Uplink is a field tester uplink extracted from an envelope.
type Uplink struct {
	Payload       []byte
	FPort         uint8
	FCnt          uint32
	Gateways      []fieldtester.Gateway
	DevEUI        string
	DeviceID      string
	ApplicationID string

	// Version is the network server API version the uplink was received
	// with, zero when the envelope has a single version.
	Version int
}

// Envelope converts between a network server message format and Uplink.
type Envelope interface {
	// Type returns the envelope type.
	Type() Type

	// DecodeUplink extracts the uplink from a message body.
	DecodeUplink(data []byte) (*Uplink, error)

	// EncodeDownlink builds the response body for the decoded fix.
	EncodeDownlink(up *Uplink, fix *fieldtester.DecodedFix) ([]byte, error)

	// DownlinkTopic returns the topic the response is published to.
	DownlinkTopic(uplinkTopic string) string
}

// New returns the envelope for the given type.
func New(t Type) (Envelope, error) {
	switch t {
	case TypeRaw:
		return &Raw{}, nil
	case TypeTTS3:
		return &TTS3{}, nil
	case TypeChirpStack:
		return &ChirpStack{}, nil
	}
	return nil, fmt.Errorf("unknown envelope type: %q", t)
}

// checkPort drops anything that is not a field tester uplink.
func checkPort(port uint8) error {
	if port != fieldtester.PortLegacy && port != fieldtester.PortExtended {
		return fmt.Errorf("%w: %d", ErrUnsupportedPort, port)
	}
	return nil
}

// responsePort is the port the downlink is sent on.
func responsePort(port uint8) uint8 {
	return port + 1
}

// replaceLast replaces the last occurrence of old, so that application or
// device ids containing the same text are left alone.
func replaceLast(s, old, new string) string {
	i := strings.LastIndex(s, old)
	if i < 0 {
		return s
	}
	return s[:i] + new + s[i+len(old):]
}

// rssiToInt converts a fractional RSSI, rounding down.
func rssiToInt(rssi float64) int {
	return int(math.Floor(rssi))
}
