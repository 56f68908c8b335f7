package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		name   string
		status ConnectionStatus
		want   string
	}{
		{"disconnected", StatusDisconnected, "disconnected"},
		{"connecting", StatusConnecting, "connecting"},
		{"connected", StatusConnected, "connected"},
		{"error", StatusError, "error"},
		{"out of range", ConnectionStatus(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ConnectionStatus
		to      ConnectionStatus
		wantErr bool
	}{
		{"disconnected → connecting", StatusDisconnected, StatusConnecting, false},
		{"error → connecting", StatusError, StatusConnecting, false},
		{"connecting → connected", StatusConnecting, StatusConnected, false},
		{"connecting → error", StatusConnecting, StatusError, false},
		{"connecting → disconnected", StatusConnecting, StatusDisconnected, false},
		{"connected → disconnected", StatusConnected, StatusDisconnected, false},
		{"error → disconnected", StatusError, StatusDisconnected, false},

		{"disconnected → connected skips connecting", StatusDisconnected, StatusConnected, true},
		{"disconnected → error", StatusDisconnected, StatusError, true},
		{"connected → connecting", StatusConnected, StatusConnecting, true},
		{"error → connected", StatusError, StatusConnected, true},
		{"unknown source", ConnectionStatus(99), StatusConnecting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionStatus_JSON(t *testing.T) {
	data, err := json.Marshal(StatusConnecting)
	require.NoError(t, err)
	assert.JSONEq(t, `"connecting"`, string(data))

	var s ConnectionStatus
	require.NoError(t, json.Unmarshal([]byte(`"error"`), &s))
	assert.Equal(t, StatusError, s)

	assert.Error(t, json.Unmarshal([]byte(`"Ready"`), &s))
}

func TestConnectionStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusDisconnected.IsTerminal())
	assert.False(t, StatusConnecting.IsTerminal())
	assert.True(t, StatusConnected.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}
