package ble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/kallaics/lampd/internal/protocol"
)

// BluetoothTransport implements Transport on tinygo.org/x/bluetooth.
type BluetoothTransport struct {
	adapter *bluetooth.Adapter

	// enableFn is the adapter's Enable; a field so tests can stand in
	// for the radio.
	enableFn func() error
	enableMu sync.Mutex
	enabled  bool

	serviceUUID bluetooth.UUID
	charUUID    bluetooth.UUID
}

// NewTransport wraps the default system adapter. The adapter itself is
// enabled lazily on first use, so a daemon started while Bluetooth is
// off can recover once the radio comes up.
func NewTransport() (*BluetoothTransport, error) {
	serviceUUID, err := bluetooth.ParseUUID(protocol.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("service uuid: %w", err)
	}
	charUUID, err := bluetooth.ParseUUID(protocol.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("characteristic uuid: %w", err)
	}
	adapter := bluetooth.DefaultAdapter
	return &BluetoothTransport{
		adapter:     adapter,
		enableFn:    adapter.Enable,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
	}, nil
}

// enable brings the adapter up on first use. Only success is cached: a
// radio that was off at startup is retried on the next scan or connect,
// which is what lets the supervisor's backoff loop recover when
// Bluetooth comes back.
func (t *BluetoothTransport) enable() error {
	t.enableMu.Lock()
	defer t.enableMu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.enableFn(); err != nil {
		return Classify(err)
	}
	t.enabled = true
	return nil
}

// Scan discovers peripherals for at most timeout and returns the named
// ones, deduplicated by address.
func (t *BluetoothTransport) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]Device)
	)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		// StopScan unblocks adapter.Scan below.
		if err := t.adapter.StopScan(); err != nil {
			log.Debug().Err(err).Msg("StopScan failed")
		}
	}()

	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" {
			return
		}
		mu.Lock()
		seen[result.Address.String()] = Device{Name: name, Address: result.Address.String()}
		mu.Unlock()
	})
	if err != nil {
		return nil, Classify(err)
	}

	devices := make([]Device, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	log.Debug().Int("count", len(devices)).Msg("Scan finished")
	return devices, nil
}

// Connect establishes a connection to address and resolves the control
// characteristic.
func (t *BluetoothTransport) Connect(ctx context.Context, address string, timeout time.Duration) (Conn, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", address, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, Classify(err)
	}

	char, err := t.resolveCharacteristic(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, Classify(err)
	}

	return &deviceConn{device: device, char: char}, nil
}

func (t *BluetoothTransport) resolveCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	var zero bluetooth.DeviceCharacteristic

	services, err := device.DiscoverServices([]bluetooth.UUID{t.serviceUUID})
	if err != nil {
		return zero, fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return zero, fmt.Errorf("control service %s not found", protocol.ServiceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{t.charUUID})
	if err != nil {
		return zero, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return zero, fmt.Errorf("control characteristic %s not found", protocol.CharacteristicUUID)
	}
	return chars[0], nil
}

// deviceConn wraps a connected device and its control characteristic.
type deviceConn struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic

	mu     sync.Mutex
	closed bool
}

func (c *deviceConn) Write(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	if _, err := c.char.WriteWithoutResponse(payload); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *deviceConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.device.Disconnect()
}
