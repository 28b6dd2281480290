package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
	"github.com/lorawan-server/field-tester-server/pkg/geo"
)

// TTS3 implements The Things Stack v3 webhook and MQTT envelope.
type TTS3 struct{}

type ttsLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Source    string  `json:"source,omitempty"`
}

type ttsRXMetadata struct {
	GatewayIDs struct {
		GatewayID string `json:"gateway_id"`
		EUI       string `json:"eui,omitempty"`
	} `json:"gateway_ids"`
	RSSI        *float64     `json:"rssi,omitempty"`
	ChannelRSSI *float64     `json:"channel_rssi,omitempty"`
	SNR         float64      `json:"snr"`
	Location    *ttsLocation `json:"location,omitempty"`
}

type ttsUplinkMessage struct {
	FPort      uint8           `json:"f_port"`
	FCnt       uint32          `json:"f_cnt"`
	FRMPayload []byte          `json:"frm_payload"`
	RXMetadata []ttsRXMetadata `json:"rx_metadata"`
}

type ttsUplink struct {
	EndDeviceIDs struct {
		DeviceID       string `json:"device_id"`
		DevEUI         string `json:"dev_eui,omitempty"`
		ApplicationIDs struct {
			ApplicationID string `json:"application_id"`
		} `json:"application_ids"`
	} `json:"end_device_ids"`
	UplinkMessage *ttsUplinkMessage `json:"uplink_message,omitempty"`
}

type ttsDownlink struct {
	FPort      uint8  `json:"f_port"`
	FRMPayload string `json:"frm_payload"`
	Priority   string `json:"priority"`
}

type ttsDownlinks struct {
	Downlinks []ttsDownlink `json:"downlinks"`
}

// Type implements Envelope
func (e *TTS3) Type() Type {
	return TypeTTS3
}

// DecodeUplink implements Envelope
func (e *TTS3) DecodeUplink(data []byte) (*Uplink, error) {
	var msg ttsUplink
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// join accepts, downlink events etc. share the topic space
	if msg.UplinkMessage == nil {
		return nil, ErrIgnored
	}

	um := msg.UplinkMessage
	if err := checkPort(um.FPort); err != nil {
		return nil, err
	}

	gateways := make([]fieldtester.Gateway, 0, len(um.RXMetadata))
	for _, rx := range um.RXMetadata {
		gw := fieldtester.Gateway{}
		switch {
		case rx.RSSI != nil:
			gw.RSSI = rssiToInt(*rx.RSSI)
		case rx.ChannelRSSI != nil:
			gw.RSSI = rssiToInt(*rx.ChannelRSSI)
		}
		if rx.Location != nil {
			gw.Location = &geo.Point{Latitude: rx.Location.Latitude, Longitude: rx.Location.Longitude}
		}
		gateways = append(gateways, gw)
	}

	return &Uplink{
		Payload:       um.FRMPayload,
		FPort:         um.FPort,
		FCnt:          um.FCnt,
		Gateways:      gateways,
		DevEUI:        msg.EndDeviceIDs.DevEUI,
		DeviceID:      msg.EndDeviceIDs.DeviceID,
		ApplicationID: msg.EndDeviceIDs.ApplicationIDs.ApplicationID,
		Version:       3,
	}, nil
}

// EncodeDownlink implements Envelope
func (e *TTS3) EncodeDownlink(up *Uplink, fix *fieldtester.DecodedFix) ([]byte, error) {
	return json.Marshal(ttsDownlinks{
		Downlinks: []ttsDownlink{
			{
				FPort:      responsePort(up.FPort),
				FRMPayload: base64.StdEncoding.EncodeToString(fix.Buffer),
				Priority:   "HIGH",
			},
		},
	})
}

// DownlinkTopic implements Envelope
func (e *TTS3) DownlinkTopic(uplinkTopic string) string {
	return replaceLast(uplinkTopic, "/up", "/down/replace")
}
