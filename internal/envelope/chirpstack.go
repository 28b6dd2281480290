package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
	"github.com/lorawan-server/field-tester-server/pkg/geo"
)

// ChirpStack implements the ChirpStack v3 and v4 integration envelope. A v4
// event carries a deviceInfo object, v3 has the device fields at the top
// level.
type ChirpStack struct{}

type csLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

type csRXInfo struct {
	GatewayID   string      `json:"gatewayId,omitempty"`
	GatewayIDV3 string      `json:"gatewayID,omitempty"`
	RSSI        float64     `json:"rssi"`
	SNR         float64     `json:"snr,omitempty"`
	LoRaSNR     float64     `json:"loRaSNR,omitempty"`
	Location    *csLocation `json:"location,omitempty"`
}

type csDeviceInfo struct {
	TenantID        string `json:"tenantId,omitempty"`
	ApplicationID   string `json:"applicationId"`
	ApplicationName string `json:"applicationName,omitempty"`
	DeviceName      string `json:"deviceName,omitempty"`
	DevEUI          string `json:"devEui"`
}

type csUplink struct {
	DeviceInfo *csDeviceInfo `json:"deviceInfo,omitempty"`

	// v3 only
	ApplicationID string `json:"applicationID,omitempty"`
	DeviceName    string `json:"deviceName,omitempty"`
	DevEUI        string `json:"devEUI,omitempty"`

	FCnt   uint32     `json:"fCnt"`
	FPort  uint8      `json:"fPort"`
	Data   []byte     `json:"data"`
	RXInfo []csRXInfo `json:"rxInfo"`
}

type csDownlink struct {
	Confirmed bool   `json:"confirmed"`
	FPort     uint8  `json:"fPort"`
	Data      string `json:"data"`
	DevEUI    string `json:"devEui,omitempty"`
}

// Type implements Envelope
func (e *ChirpStack) Type() Type {
	return TypeChirpStack
}

// DecodeUplink implements Envelope
func (e *ChirpStack) DecodeUplink(data []byte) (*Uplink, error) {
	var msg csUplink
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := checkPort(msg.FPort); err != nil {
		return nil, err
	}

	gateways := make([]fieldtester.Gateway, 0, len(msg.RXInfo))
	for _, rx := range msg.RXInfo {
		gw := fieldtester.Gateway{RSSI: rssiToInt(rx.RSSI)}
		if rx.Location != nil {
			gw.Location = &geo.Point{Latitude: rx.Location.Latitude, Longitude: rx.Location.Longitude}
		}
		gateways = append(gateways, gw)
	}

	up := Uplink{
		Payload:  msg.Data,
		FPort:    msg.FPort,
		FCnt:     msg.FCnt,
		Gateways: gateways,
	}

	if msg.DeviceInfo != nil {
		up.Version = 4
		up.DevEUI = msg.DeviceInfo.DevEUI
		up.DeviceID = msg.DeviceInfo.DeviceName
		up.ApplicationID = msg.DeviceInfo.ApplicationID
	} else {
		up.Version = 3
		up.DevEUI = msg.DevEUI
		up.DeviceID = msg.DeviceName
		up.ApplicationID = msg.ApplicationID
	}

	return &up, nil
}

// EncodeDownlink implements Envelope
func (e *ChirpStack) EncodeDownlink(up *Uplink, fix *fieldtester.DecodedFix) ([]byte, error) {
	down := csDownlink{
		Confirmed: false,
		FPort:     responsePort(up.FPort),
		Data:      base64.StdEncoding.EncodeToString(fix.Buffer),
	}
	// v3 takes the device from the topic
	if up.Version == 4 {
		down.DevEUI = up.DevEUI
	}

	return json.Marshal(down)
}

// DownlinkTopic implements Envelope
func (e *ChirpStack) DownlinkTopic(uplinkTopic string) string {
	return replaceLast(uplinkTopic, "/event/up", "/command/down")
}
