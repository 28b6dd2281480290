package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
	"github.com/lorawan-server/field-tester-server/pkg/geo"
)

// IAAAgAAAA+gFCA== is 20 00 00 80 00 00 03 e8 05 08
const testFRMPayload = "IAAAgAAAA+gFCA=="

var testPayload = []byte{0x20, 0x00, 0x00, 0x80, 0x00, 0x00, 0x03, 0xe8, 0x05, 0x08}

func TestParseType(t *testing.T) {
	tests := []struct {
		in            string
		expected      Type
		expectedError bool
	}{
		{in: "raw", expected: TypeRaw},
		{in: "tts3", expected: TypeTTS3},
		{in: "TheThingsStack_v3", expected: TypeTTS3},
		{in: "cs34", expected: TypeChirpStack},
		{in: "ChirpStack_v3+", expected: TypeChirpStack},
		{in: " CS34 ", expected: TypeChirpStack},
		{in: "loriot", expectedError: true},
		{in: "", expectedError: true},
	}

	for _, tst := range tests {
		t.Run(tst.in, func(t *testing.T) {
			typ, err := ParseType(tst.in)
			if tst.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tst.expected, typ)
		})
	}
}

func TestNew(t *testing.T) {
	for _, typ := range Types {
		env, err := New(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, env.Type())
	}

	_, err := New("unknown")
	assert.Error(t, err)
}

func TestReplaceLast(t *testing.T) {
	assert.Equal(t, "v3/app/devices/dev/down/replace", replaceLast("v3/app/devices/dev/up", "/up", "/down/replace"))
	assert.Equal(t, "v3/upstairs/devices/dev/down/replace", replaceLast("v3/upstairs/devices/dev/up", "/up", "/down/replace"))
	assert.Equal(t, "no/match", replaceLast("no/match", "/up", "/down"))
}

func TestRSSIToInt(t *testing.T) {
	assert.Equal(t, -80, rssiToInt(-80))
	assert.Equal(t, -81, rssiToInt(-80.5))
	assert.Equal(t, 3, rssiToInt(3.9))
}

func TestRaw(t *testing.T) {
	env := &Raw{}

	t.Run("decode", func(t *testing.T) {
		assert := require.New(t)

		up, err := env.DecodeUplink([]byte(`{
			"bytes": [32, 0, 0, 128, 0, 0, 3, 232, 5, 8],
			"uplink_counter": 5,
			"gateways": [
				{"rssi": -80, "location": {"latitude": 0, "longitude": 0}},
				{"rssi": -95}
			]
		}`))
		assert.NoError(err)
		assert.Equal(testPayload, up.Payload)
		assert.Equal(fieldtester.PortLegacy, up.FPort)
		assert.Equal(uint32(5), up.FCnt)
		assert.Equal([]fieldtester.Gateway{
			{RSSI: -80, Location: &geo.Point{}},
			{RSSI: -95},
		}, up.Gateways)
	})

	t.Run("defaults", func(t *testing.T) {
		assert := require.New(t)

		up, err := env.DecodeUplink([]byte(`{}`))
		assert.NoError(err)
		assert.Equal(fieldtester.PortLegacy, up.FPort)
		assert.Equal(uint32(0), up.FCnt)
		assert.NotNil(up.Gateways)
		assert.Empty(up.Payload)
	})

	t.Run("extended port", func(t *testing.T) {
		up, err := env.DecodeUplink([]byte(`{"bytes": [1,2,3], "port": 11}`))
		require.NoError(t, err)
		assert.Equal(t, fieldtester.PortExtended, up.FPort)
	})

	t.Run("unsupported port", func(t *testing.T) {
		_, err := env.DecodeUplink([]byte(`{"bytes": [1,2,3], "port": 2}`))
		assert.ErrorIs(t, err, ErrUnsupportedPort)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := env.DecodeUplink([]byte(`{"bytes": "nope"`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("encode", func(t *testing.T) {
		assert := require.New(t)

		fix := &fieldtester.DecodedFix{Sats: 8, Buffer: fieldtester.Buffer{1, 2, 3, 4, 5, 6}}
		b, err := env.EncodeDownlink(&Uplink{FPort: 1}, fix)
		assert.NoError(err)

		var out fieldtester.DecodedFix
		assert.NoError(json.Unmarshal(b, &out))
		assert.Equal(*fix, out)
	})

	assert.Equal(t, "test/dev/down", env.DownlinkTopic("test/dev/up"))
}

const ttsUplinkJSON = `{
	"end_device_ids": {
		"device_id": "field-tester-01",
		"application_ids": {"application_id": "mapper"},
		"dev_eui": "AC1F09FFFE012345"
	},
	"correlation_ids": ["as:up:01H"],
	"received_at": "2023-06-01T10:00:00Z",
	"uplink_message": {
		"f_port": 1,
		"f_cnt": 77,
		"frm_payload": "IAAAgAAAA+gFCA==",
		"rx_metadata": [
			{
				"gateway_ids": {"gateway_id": "gw-roof", "eui": "B827EBFFFE000001"},
				"rssi": -101,
				"channel_rssi": -101,
				"snr": 4.5,
				"location": {"latitude": 45.3, "longitude": 0, "altitude": 12, "source": "SOURCE_REGISTRY"}
			},
			{
				"gateway_ids": {"gateway_id": "gw-hidden"},
				"channel_rssi": -64.5,
				"snr": 9.25
			}
		]
	}
}`

func TestTTS3(t *testing.T) {
	env := &TTS3{}

	t.Run("decode", func(t *testing.T) {
		assert := require.New(t)

		up, err := env.DecodeUplink([]byte(ttsUplinkJSON))
		assert.NoError(err)
		assert.Equal(testPayload, up.Payload)
		assert.Equal(uint8(1), up.FPort)
		assert.Equal(uint32(77), up.FCnt)
		assert.Equal("AC1F09FFFE012345", up.DevEUI)
		assert.Equal("field-tester-01", up.DeviceID)
		assert.Equal("mapper", up.ApplicationID)
		assert.Equal([]fieldtester.Gateway{
			{RSSI: -101, Location: &geo.Point{Latitude: 45.3}},
			{RSSI: -65},
		}, up.Gateways)
	})

	t.Run("not an uplink", func(t *testing.T) {
		_, err := env.DecodeUplink([]byte(`{"end_device_ids": {"device_id": "x"}, "join_accept": {}}`))
		assert.ErrorIs(t, err, ErrIgnored)
	})

	t.Run("downlink ack port", func(t *testing.T) {
		_, err := env.DecodeUplink([]byte(`{"uplink_message": {"f_port": 2, "frm_payload": "AA=="}}`))
		assert.ErrorIs(t, err, ErrUnsupportedPort)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := env.DecodeUplink([]byte(`{"uplink_message": {"f_port": 1, "frm_payload": "%%%"}}`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("encode", func(t *testing.T) {
		assert := require.New(t)

		b, err := env.EncodeDownlink(&Uplink{FPort: 11}, &fieldtester.DecodedFix{
			Buffer: fieldtester.Buffer{1, 120, 120, 0, 17, 2, 181, 1},
		})
		assert.NoError(err)
		assert.JSONEq(`{"downlinks": [{"f_port": 12, "frm_payload": "AXh4ABECtQE=", "priority": "HIGH"}]}`, string(b))
	})

	assert.Equal(t, "v3/mapper@ttn/devices/field-tester-01/down/replace", env.DownlinkTopic("v3/mapper@ttn/devices/field-tester-01/up"))
}

const csV4UplinkJSON = `{
	"deduplicationId": "3ac7e3c4-4401-4b8d-9386-a5c902f9202d",
	"time": "2023-06-01T10:00:00Z",
	"deviceInfo": {
		"tenantId": "52f14cd4-c6f1-4fbd-8f87-4025e1d49242",
		"applicationId": "1a2b3c",
		"applicationName": "mapper",
		"deviceName": "field-tester-01",
		"devEui": "ac1f09fffe012345"
	},
	"devAddr": "00189440",
	"fCnt": 300,
	"fPort": 11,
	"data": "IAAAgAAAA+gFCP8=",
	"rxInfo": [
		{"gatewayId": "b827ebfffe000001", "rssi": -57, "snr": 10, "location": {"latitude": 45.35, "longitude": 0.05, "altitude": 3}},
		{"gatewayId": "b827ebfffe000002", "rssi": -118, "snr": -7.5}
	]
}`

const csV3UplinkJSON = `{
	"applicationID": "12",
	"applicationName": "mapper",
	"deviceName": "field-tester-02",
	"devEUI": "rB8J//4BI0U=",
	"rxInfo": [
		{"gatewayID": "uCfr//4AAAE=", "rssi": -90, "loRaSNR": 6, "location": {"latitude": 45.31, "longitude": 0.02, "altitude": 0}}
	],
	"fCnt": 10,
	"fPort": 1,
	"data": "IAAAgAAAA+gFCA=="
}`

func TestChirpStack(t *testing.T) {
	env := &ChirpStack{}

	t.Run("decode v4", func(t *testing.T) {
		assert := require.New(t)

		up, err := env.DecodeUplink([]byte(csV4UplinkJSON))
		assert.NoError(err)
		assert.Equal(4, up.Version)
		assert.Equal(append(append([]byte{}, testPayload...), 0xff), up.Payload)
		assert.Equal(uint8(11), up.FPort)
		assert.Equal(uint32(300), up.FCnt)
		assert.Equal("ac1f09fffe012345", up.DevEUI)
		assert.Equal("field-tester-01", up.DeviceID)
		assert.Equal("1a2b3c", up.ApplicationID)
		assert.Equal([]fieldtester.Gateway{
			{RSSI: -57, Location: &geo.Point{Latitude: 45.35, Longitude: 0.05}},
			{RSSI: -118},
		}, up.Gateways)
	})

	t.Run("decode v3", func(t *testing.T) {
		assert := require.New(t)

		up, err := env.DecodeUplink([]byte(csV3UplinkJSON))
		assert.NoError(err)
		assert.Equal(3, up.Version)
		assert.Equal(testPayload, up.Payload)
		assert.Equal(uint8(1), up.FPort)
		assert.Equal(uint32(10), up.FCnt)
		assert.Equal("rB8J//4BI0U=", up.DevEUI)
		assert.Equal("field-tester-02", up.DeviceID)
		assert.Equal("12", up.ApplicationID)
		assert.Equal([]fieldtester.Gateway{
			{RSSI: -90, Location: &geo.Point{Latitude: 45.31, Longitude: 0.02}},
		}, up.Gateways)
	})

	t.Run("missing port", func(t *testing.T) {
		_, err := env.DecodeUplink([]byte(`{"deviceInfo": {"devEui": "0101010101010101"}, "fCnt": 1}`))
		assert.ErrorIs(t, err, ErrUnsupportedPort)
	})

	t.Run("encode v4", func(t *testing.T) {
		b, err := env.EncodeDownlink(&Uplink{FPort: 1, Version: 4, DevEUI: "ac1f09fffe012345"}, &fieldtester.DecodedFix{
			Buffer: fieldtester.Buffer{1, 120, 120, 180, 128, 1},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"confirmed": false, "fPort": 2, "data": "AXh4tIAB", "devEui": "ac1f09fffe012345"}`, string(b))
	})

	t.Run("encode v3", func(t *testing.T) {
		b, err := env.EncodeDownlink(&Uplink{FPort: 1, Version: 3, DevEUI: "rB8J//4BI0U="}, &fieldtester.DecodedFix{
			Buffer: fieldtester.Buffer{1, 120, 120, 180, 128, 1},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"confirmed": false, "fPort": 2, "data": "AXh4tIAB"}`, string(b))
	})

	assert.Equal(t, "application/12/device/ac1f09fffe012345/command/down", env.DownlinkTopic("application/12/device/ac1f09fffe012345/event/up"))
}
