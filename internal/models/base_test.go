package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		v, err := Variables{"topic": "v3/app/devices/dev/up"}.Value()
		require.NoError(t, err)
		assert.JSONEq(t, `{"topic": "v3/app/devices/dev/up"}`, string(v.([]byte)))

		v, err = Variables(nil).Value()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("scan", func(t *testing.T) {
		var v Variables
		require.NoError(t, v.Scan([]byte(`{"gateways": [{"rssi": -80}]}`)))
		assert.Equal(t, Variables{"gateways": []interface{}{map[string]interface{}{"rssi": float64(-80)}}}, v)

		require.NoError(t, v.Scan(`{"a": 1}`))
		assert.Equal(t, Variables{"a": float64(1)}, v)

		require.NoError(t, v.Scan(nil))
		assert.Equal(t, Variables{}, v)

		assert.Error(t, v.Scan(42))
	})
}
