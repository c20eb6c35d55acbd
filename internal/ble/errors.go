package ble

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAdapterOff marks failures caused by the Bluetooth radio itself
// being off or unavailable, as opposed to an ordinary connect failure.
// Callers surface it distinctly so the user is prompted to enable
// Bluetooth instead of the supervisor retrying forever.
var ErrAdapterOff = errors.New("bluetooth adapter is off or unavailable")

// ErrNotConnected is returned for sends attempted without a live
// connection.
var ErrNotConnected = errors.New("not connected to device")

// Message fragments observed from bluez and the Windows/macOS backends
// across locales when the radio is off. Matching is heuristic: the
// platforms expose no common error code for this condition.
var adapterOffFragments = []string{
	"bluetooth adapter is off",
	"bluetooth is turned off",
	"org.bluez.error.notready",
	"device not ready",
	"adapter not enabled",
	"operation not possible due to rf-kill",
	"das gerät kann nicht verwendet werden",
}

// Classify wraps err with ErrAdapterOff when its message indicates the
// radio is off; otherwise it returns err unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range adapterOffFragments {
		if strings.Contains(msg, fragment) {
			return fmt.Errorf("%w: %v", ErrAdapterOff, err)
		}
	}
	return err
}
