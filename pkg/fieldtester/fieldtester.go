// Package fieldtester decodes field tester GPS uplinks and builds the range
// summary downlink sent back to the device.
//
// Uplinks arrive on port 1 (10 bytes) or port 11 (11 bytes). Both carry the
// same packed fix:
//
//	byte 0      bit 7 longitude sign, bit 6 latitude sign, bits 5..0 latitude
//	byte 1..3   latitude (continued, 24 bits total, ends at bit 7 of byte 3)
//	byte 3..5   longitude (23 bits, starts at bit 6 of byte 3)
//	byte 6..7   altitude + 1000, big endian
//	byte 8      hdop * 10
//	byte 9      satellites
//
// The trailing byte of a port 11 uplink is not decoded.
package fieldtester

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/lorawan-server/field-tester-server/pkg/geo"
)

// Supported uplink ports.
const (
	PortLegacy   uint8 = 1
	PortExtended uint8 = 11
)

const (
	legacyPayloadSize   = 10
	extendedPayloadSize = 11

	legacyResponseSize   = 6
	extendedResponseSize = 8

	maxHDOP = 2
	minSats = 5

	altitudeOffset = 1000

	// sentinels, reported unchanged when nothing was folded into them
	minRSSIStart     = 200
	maxRSSIStart     = -200
	minDistanceStart = 1000000
	maxDistanceStart = 0

	rssiOffset = 200

	legacyDistanceStep   = 250
	legacyMaxDistanceCap = 128
	extendedDistanceStep = 10
)

// Rejection reasons. All of them wrap ErrRejected.
var (
	ErrRejected      = errors.New("fieldtester: uplink rejected")
	ErrInvalidPort   = fmt.Errorf("%w: unsupported port", ErrRejected)
	ErrInvalidLength = fmt.Errorf("%w: invalid payload length", ErrRejected)
	ErrLowQuality    = fmt.Errorf("%w: fix quality below threshold", ErrRejected)
)

// Gateway holds the reception metadata of a single gateway.
type Gateway struct {
	RSSI     int        `json:"rssi"`
	Location *geo.Point `json:"location,omitempty"`
}

// Buffer is a downlink payload. It marshals to a JSON array of numbers.
type Buffer []byte

// MarshalJSON implements json.Marshaler
func (b Buffer) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Buffer) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	out := make(Buffer, len(values))
	for i, v := range values {
		if v < 0 || v > 0xff {
			return fmt.Errorf("buffer value %d out of byte range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// DecodedFix is the decoded position plus the gateway summary and the
// encoded downlink.
type DecodedFix struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    int     `json:"altitude"`
	HDOP        float64 `json:"hdop"`
	Sats        int     `json:"sats"`
	Accuracy    float64 `json:"accuracy"`
	NumGateways int     `json:"num_gateways"`
	MinRSSI     int     `json:"min_rssi"`
	MaxRSSI     int     `json:"max_rssi"`
	MinDistance int     `json:"min_distance"`
	MaxDistance int     `json:"max_distance"`
	Buffer      Buffer  `json:"buffer"`
}

// Point returns the fix position.
func (f *DecodedFix) Point() geo.Point {
	return geo.Point{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Process decodes the uplink and returns the fix with its downlink buffer,
// or nil when the uplink is rejected.
func Process(payload []byte, port uint8, sequenceID uint32, gateways []Gateway) *DecodedFix {
	fix, err := Decode(payload, port, sequenceID, gateways)
	if err != nil {
		return nil
	}
	return fix
}

// Decode is Process with the rejection reason reported as an error.
func Decode(payload []byte, port uint8, sequenceID uint32, gateways []Gateway) (*DecodedFix, error) {
	switch port {
	case PortLegacy:
		if len(payload) != legacyPayloadSize {
			return nil, fmt.Errorf("%w: port %d expects %d bytes, got %d", ErrInvalidLength, port, legacyPayloadSize, len(payload))
		}
	case PortExtended:
		if len(payload) != extendedPayloadSize {
			return nil, fmt.Errorf("%w: port %d expects %d bytes, got %d", ErrInvalidLength, port, extendedPayloadSize, len(payload))
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	lonSign := int64(1)
	if payload[0]&0x80 != 0 {
		lonSign = -1
	}
	latSign := int64(1)
	if payload[0]&0x40 != 0 {
		latSign = -1
	}

	encLat := uint32(payload[0]&0x3f)<<17 | uint32(payload[1])<<9 | uint32(payload[2])<<1 | uint32(payload[3])>>7
	encLon := uint32(payload[3]&0x7f)<<16 | uint32(payload[4])<<8 | uint32(payload[5])
	hdop := float64(payload[8]) / 10
	sats := int(payload[9])

	if hdop > maxHDOP || sats < minSats {
		return nil, fmt.Errorf("%w: hdop %.1f, sats %d", ErrLowQuality, hdop, sats)
	}

	fix := DecodedFix{
		Latitude:    float64(latSign*(int64(encLat)*108+53)) / 10000000,
		Longitude:   float64(lonSign*(int64(encLon)*215+107)) / 10000000,
		Altitude:    (int(payload[6])<<8 + int(payload[7])) - altitudeOffset,
		HDOP:        hdop,
		Sats:        sats,
		Accuracy:    (hdop*5 + 5) / 10,
		NumGateways: len(gateways),
		MinRSSI:     minRSSIStart,
		MaxRSSI:     maxRSSIStart,
		MinDistance: minDistanceStart,
		MaxDistance: maxDistanceStart,
	}

	for _, gw := range gateways {
		if gw.RSSI < fix.MinRSSI {
			fix.MinRSSI = gw.RSSI
		}
		if gw.RSSI > fix.MaxRSSI {
			fix.MaxRSSI = gw.RSSI
		}

		if gw.Location == nil {
			continue
		}
		distance := int(geo.CircleDistance(fix.Point(), *gw.Location))
		if distance < fix.MinDistance {
			fix.MinDistance = distance
		}
		if distance > fix.MaxDistance {
			fix.MaxDistance = distance
		}
	}

	if port == PortLegacy {
		fix.Buffer = encodeLegacy(sequenceID, &fix)
	} else {
		fix.Buffer = encodeExtended(sequenceID, &fix)
	}

	return &fix, nil
}

// distanceSteps quantizes a distance. A minimum never reports zero steps.
func distanceSteps(meters, step int, isMin bool) int {
	steps := int(math.Round(float64(meters) / float64(step)))
	if isMin && steps == 0 {
		steps = 1
	}
	return steps
}

func encodeLegacy(sequenceID uint32, fix *DecodedFix) Buffer {
	maxSteps := distanceSteps(fix.MaxDistance, legacyDistanceStep, false)
	if maxSteps > legacyMaxDistanceCap {
		maxSteps = legacyMaxDistanceCap
	}

	return Buffer{
		byte(sequenceID & 0xff),
		byte((fix.MinRSSI + rssiOffset) & 0xff),
		byte((fix.MaxRSSI + rssiOffset) & 0xff),
		byte(distanceSteps(fix.MinDistance, legacyDistanceStep, true) & 0xff),
		byte(maxSteps & 0xff),
		byte(fix.NumGateways & 0xff),
	}
}

func encodeExtended(sequenceID uint32, fix *DecodedFix) Buffer {
	minSteps := distanceSteps(fix.MinDistance, extendedDistanceStep, true)
	maxSteps := distanceSteps(fix.MaxDistance, extendedDistanceStep, false)

	return Buffer{
		byte(sequenceID & 0xff),
		byte((fix.MinRSSI + rssiOffset) & 0xff),
		byte((fix.MaxRSSI + rssiOffset) & 0xff),
		byte((minSteps >> 8) & 0xff),
		byte(minSteps & 0xff),
		byte((maxSteps >> 8) & 0xff),
		byte(maxSteps & 0xff),
		byte(fix.NumGateways & 0xff),
	}
}
