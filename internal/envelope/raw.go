package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
)

// RawUplink is the test envelope, carrying the decoder inputs directly.
type RawUplink struct {
	Bytes         fieldtester.Buffer    `json:"bytes" validate:"required,min=1"`
	Port          *uint8                `json:"port,omitempty"`
	UplinkCounter uint32                `json:"uplink_counter"`
	Gateways      []fieldtester.Gateway `json:"gateways" validate:"max=256"`
}

// Raw implements the raw/test envelope. The response body is the decoded fix
// itself.
type Raw struct{}

// Type implements Envelope
func (e *Raw) Type() Type {
	return TypeRaw
}

// DecodeUplink implements Envelope
func (e *Raw) DecodeUplink(data []byte) (*Uplink, error) {
	var msg RawUplink
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return msg.Uplink()
}

// Uplink converts the raw message, defaulting the port to 1.
func (msg *RawUplink) Uplink() (*Uplink, error) {
	port := fieldtester.PortLegacy
	if msg.Port != nil {
		port = *msg.Port
	}
	if err := checkPort(port); err != nil {
		return nil, err
	}

	gateways := msg.Gateways
	if gateways == nil {
		gateways = []fieldtester.Gateway{}
	}

	return &Uplink{
		Payload:  msg.Bytes,
		FPort:    port,
		FCnt:     msg.UplinkCounter,
		Gateways: gateways,
	}, nil
}

// EncodeDownlink implements Envelope
func (e *Raw) EncodeDownlink(up *Uplink, fix *fieldtester.DecodedFix) ([]byte, error) {
	return json.Marshal(fix)
}

// DownlinkTopic implements Envelope
func (e *Raw) DownlinkTopic(uplinkTopic string) string {
	return replaceLast(uplinkTopic, "/up", "/down")
}
