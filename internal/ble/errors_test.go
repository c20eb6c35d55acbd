package ble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		adapterOff bool
	}{
		{"nil", nil, false},
		{"bluez not ready", errors.New("org.bluez.Error.NotReady: Resource Not Ready"), true},
		{"windows off", errors.New("Bluetooth is turned off"), true},
		{"rfkill", errors.New("Operation not possible due to RF-kill"), true},
		{"german locale", errors.New("Das Gerät kann nicht verwendet werden"), true},
		{"plain timeout", errors.New("connection timed out"), false},
		{"device gone", errors.New("le-connection-abort-by-local"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.adapterOff, errors.Is(got, ErrAdapterOff))
			if !tt.adapterOff {
				assert.Equal(t, tt.err, got)
			}
		})
	}
}
