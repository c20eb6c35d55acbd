// Package ble abstracts the Bluetooth Low-Energy transport used to
// drive the lamp. The Transport interface keeps the connection
// supervisor testable with a fake; the real implementation sits on
// tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"time"
)

// Device is one discovered peripheral. Only named devices are reported
// by a scan; the lamp advertises a stable name while its address may
// rotate between power cycles.
type Device struct {
	Name    string
	Address string
}

// Conn is a live connection to the lamp's control characteristic.
type Conn interface {
	// Write sends one frame without requesting a write response.
	Write(payload []byte) error
	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect() error
}

// Transport performs discovery and connection establishment.
type Transport interface {
	// Scan discovers named peripherals for at most timeout. A radio
	// that is off or unavailable is reported as ErrAdapterOff.
	Scan(ctx context.Context, timeout time.Duration) ([]Device, error)
	// Connect establishes a connection and resolves the control
	// characteristic within timeout.
	Connect(ctx context.Context, address string, timeout time.Duration) (Conn, error)
}
