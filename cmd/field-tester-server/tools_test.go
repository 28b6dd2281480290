package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/field-tester-server/internal/auth"
	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/pkg/crypto"
	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
)

func TestRunDecodeResponse(t *testing.T) {
	tests := []struct {
		name          string
		arg           string
		expected      fieldtester.Response
		expectedError bool
	}{
		{
			name: "legacy",
			arg:  "1:017878b48001",
			expected: fieldtester.Response{
				SequenceID:  1,
				MinRSSI:     -80,
				MaxRSSI:     -80,
				MinDistance: 45000,
				MaxDistance: 32000,
				NumGateways: 1,
			},
		},
		{
			name: "extended",
			arg:  "11:2a508c001102b503",
			expected: fieldtester.Response{
				SequenceID:  42,
				MinRSSI:     -120,
				MaxRSSI:     -60,
				MinDistance: 170,
				MaxDistance: 6930,
				NumGateways: 3,
			},
		},
		{name: "missing separator", arg: "017878b48001", expectedError: true},
		{name: "invalid port", arg: "x:01", expectedError: true},
		{name: "invalid hex", arg: "1:zz", expectedError: true},
		{name: "wrong length", arg: "11:017878b48001", expectedError: true},
		{name: "unsupported port", arg: "2:017878b48001", expectedError: true},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := runDecodeResponse(&buf, tst.arg)
			if tst.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var out fieldtester.Response
			require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
			assert.Equal(t, tst.expected, out)
		})
	}
}

func TestRunHashKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runHashKey(&buf, "webhook-key"))

	assert.True(t, crypto.VerifyPassword("webhook-key", strings.TrimSpace(buf.String())))
}

func TestRunGenerateKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runGenerateKey(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	key := strings.TrimSpace(strings.TrimPrefix(lines[0], "key:"))
	hash := strings.TrimSpace(strings.TrimPrefix(lines[1], "hash:"))
	assert.Len(t, key, 44)
	assert.True(t, crypto.VerifyPassword(key, hash))
}

func TestRunIssueToken(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour}}

	var buf bytes.Buffer
	require.NoError(t, runIssueToken(&buf, cfg, "dashboard"))

	claims, err := auth.NewJWTManager(&cfg.JWT).ValidateToken(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)

	assert.Error(t, runIssueToken(&buf, &config.Config{}, "dashboard"))
}
