package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/field-tester-server/pkg/lorawan"
)

// FixRecord is an accepted field tester fix together with the uplink it
// came from and the response that was sent back.
type FixRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Envelope      string         `json:"envelope" db:"envelope"`
	DevEUI        *lorawan.EUI64 `json:"devEUI,omitempty" db:"dev_eui"`
	DeviceID      string         `json:"deviceId,omitempty" db:"device_id"`
	ApplicationID string         `json:"applicationId,omitempty" db:"application_id"`
	FPort         uint8          `json:"fPort" db:"f_port"`
	FCnt          uint32         `json:"fCnt" db:"f_cnt"`

	Latitude    float64 `json:"latitude" db:"latitude"`
	Longitude   float64 `json:"longitude" db:"longitude"`
	Altitude    int     `json:"altitude" db:"altitude"`
	HDOP        float64 `json:"hdop" db:"hdop"`
	Sats        int     `json:"sats" db:"sats"`
	Accuracy    float64 `json:"accuracy" db:"accuracy"`
	NumGateways int     `json:"numGateways" db:"num_gateways"`
	MinRSSI     int     `json:"minRssi" db:"min_rssi"`
	MaxRSSI     int     `json:"maxRssi" db:"max_rssi"`
	MinDistance int     `json:"minDistance" db:"min_distance"`
	MaxDistance int     `json:"maxDistance" db:"max_distance"`

	// Buffer is the downlink payload sent to the device.
	Buffer []byte `json:"buffer" db:"buffer"`

	// Metadata holds the receiving gateways and the uplink topic.
	Metadata Variables `json:"metadata,omitempty" db:"metadata"`
}
