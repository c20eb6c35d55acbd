package ble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableRetriesAfterFailure(t *testing.T) {
	calls := 0
	tr := &BluetoothTransport{
		enableFn: func() error {
			calls++
			if calls == 1 {
				return errors.New("bluez: org.bluez.Error.NotReady")
			}
			return nil
		},
	}

	err := tr.enable()
	require.ErrorIs(t, err, ErrAdapterOff)

	// The radio came back: the next use must try again, not replay the
	// startup failure.
	require.NoError(t, tr.enable())
	assert.Equal(t, 2, calls)

	// Success is cached.
	require.NoError(t, tr.enable())
	assert.Equal(t, 2, calls)
}
