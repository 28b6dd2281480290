package fieldtester

import "fmt"

// Response is the device-side view of a downlink buffer. Distances are the
// quantized steps scaled back to meters.
type Response struct {
	SequenceID  uint8 `json:"sequence_id"`
	MinRSSI     int   `json:"min_rssi"`
	MaxRSSI     int   `json:"max_rssi"`
	MinDistance int   `json:"min_distance"`
	MaxDistance int   `json:"max_distance"`
	NumGateways uint8 `json:"num_gateways"`
}

// DecodeResponse parses a downlink buffer for the given uplink port.
func DecodeResponse(port uint8, buf []byte) (*Response, error) {
	var resp Response

	switch port {
	case PortLegacy:
		if len(buf) != legacyResponseSize {
			return nil, fmt.Errorf("port %d response expects %d bytes, got %d", port, legacyResponseSize, len(buf))
		}
		resp.MinDistance = int(buf[3]) * legacyDistanceStep
		resp.MaxDistance = int(buf[4]) * legacyDistanceStep
		resp.NumGateways = buf[5]
	case PortExtended:
		if len(buf) != extendedResponseSize {
			return nil, fmt.Errorf("port %d response expects %d bytes, got %d", port, extendedResponseSize, len(buf))
		}
		resp.MinDistance = (int(buf[3])<<8 | int(buf[4])) * extendedDistanceStep
		resp.MaxDistance = (int(buf[5])<<8 | int(buf[6])) * extendedDistanceStep
		resp.NumGateways = buf[7]
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	resp.SequenceID = buf[0]
	resp.MinRSSI = int(buf[1]) - rssiOffset
	resp.MaxRSSI = int(buf[2]) - rssiOffset

	return &resp, nil
}
