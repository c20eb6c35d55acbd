// Package supervisor owns the BLE client lifecycle: connect with
// bounded retries, keep-alive pings, failure detection, rescan-by-name
// when the lamp's address rotates, and cooperative shutdown. The
// original ad hoc retry branches are expressed as one explicit state
// machine with a single error-classification step.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/eventbus"
	"github.com/kallaics/lampd/internal/protocol"
)

// State is the supervisor's position in the connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateBackoffWait
	StateRescanning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoffWait:
		return "backoff_wait"
	case StateRescanning:
		return "rescanning"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ConnectionState collapses the machine state into the three-valued
// status mirrored to user interfaces.
func (s State) ConnectionState() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnecting, StateScanning, StateRescanning:
		return "connecting"
	default:
		return "disconnected"
	}
}

// Config carries the supervisor timings.
type Config struct {
	ConnectTimeout      time.Duration
	RetryDelay          time.Duration
	MaxConnectAttempts  int
	ScanTimeout         time.Duration
	RescanTimeout       time.Duration
	RescanDelay         time.Duration
	LoopTick            time.Duration
	PingInterval        time.Duration
	InactivityThreshold time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      15 * time.Second,
		RetryDelay:          1 * time.Second,
		MaxConnectAttempts:  3,
		ScanTimeout:         12 * time.Second,
		RescanTimeout:       15 * time.Second,
		RescanDelay:         5 * time.Second,
		LoopTick:            500 * time.Millisecond,
		PingInterval:        20 * time.Second,
		InactivityThreshold: 5 * time.Second,
	}
}

// Activity is the shared activity clock: the command channel marks
// successful user sends here, so the supervisor never pings right after
// a real command already proved the link.
type Activity struct {
	mu          sync.Mutex
	lastPing    time.Time
	lastCommand time.Time
}

// MarkCommand records a successful user-initiated send. It also counts
// as a ping: the write just proved the connection.
func (a *Activity) MarkCommand() {
	now := time.Now()
	a.mu.Lock()
	a.lastCommand = now
	a.lastPing = now
	a.mu.Unlock()
}

// MarkPing records a successful keep-alive write.
func (a *Activity) MarkPing() {
	a.mu.Lock()
	a.lastPing = time.Now()
	a.mu.Unlock()
}

func (a *Activity) snapshot() (lastPing, lastCommand time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPing, a.lastCommand
}

// Pinger sends the keep-alive no-op. The command channel implements it,
// so pings share the rate limiter with user commands and schedule
// transitions instead of writing to the handle directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Supervisor maintains the connection to one remembered device.
type Supervisor struct {
	transport ble.Transport
	cfg       Config
	bus       *eventbus.Bus
	activity  *Activity
	pinger    Pinger

	// opMu serializes connect/teardown sequences: the transport does
	// not support concurrent operations on one client handle.
	opMu sync.Mutex
	// connMu guards the shared handle pointer only.
	connMu sync.RWMutex
	conn   ble.Conn

	deviceMu sync.RWMutex
	device   ble.Device

	stateMu sync.RWMutex
	state   State

	// onDeviceChange is invoked when a rescan finds the lamp under a
	// new address, so the caller can persist it.
	onDeviceChange func(ble.Device)
}

// New creates a supervisor over the given transport. bus may be nil.
func New(transport ble.Transport, cfg Config, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{
		transport: transport,
		cfg:       cfg,
		bus:       bus,
		activity:  &Activity{},
		state:     StateIdle,
	}
}

// Activity returns the shared activity clock.
func (s *Supervisor) Activity() *Activity { return s.activity }

// State returns the current machine state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Device returns the remembered (name, address) pair.
func (s *Supervisor) Device() ble.Device {
	s.deviceMu.RLock()
	defer s.deviceMu.RUnlock()
	return s.device
}

// SetDevice selects the device to maintain. Call before Run.
func (s *Supervisor) SetDevice(d ble.Device) {
	s.deviceMu.Lock()
	s.device = d
	s.deviceMu.Unlock()
}

// OnDeviceChange registers the address-rotation callback. Call before Run.
func (s *Supervisor) OnDeviceChange(fn func(ble.Device)) {
	s.onDeviceChange = fn
}

// SetPinger routes keep-alives through the shared command path. Call
// before Run; without one the supervisor writes the ping frame to the
// handle directly.
func (s *Supervisor) SetPinger(p Pinger) {
	s.pinger = p
}

// Conn returns the live handle, or nil. The snapshot is eventually
// consistent: the handle may die right after being returned, which a
// caller observes as a write error.
func (s *Supervisor) Conn() ble.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// ScanOnce performs a one-shot discovery scan, surfacing
// ble.ErrAdapterOff distinctly so the caller can prompt the user to
// enable Bluetooth instead of retrying.
func (s *Supervisor) ScanOnce(ctx context.Context) ([]ble.Device, error) {
	prev := s.State()
	if prev == StateIdle {
		s.setState(StateScanning)
		defer s.setState(prev)
	}
	return s.transport.Scan(ctx, s.cfg.ScanTimeout)
}

// Drop tears the live connection down. Used by the command channel when
// a send fails mid-session: the failure is handled exactly like a
// dropped connection, so the loop re-enters its backoff path.
func (s *Supervisor) Drop(reason error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.teardownLocked() {
		log.Warn().Err(reason).Msg("Connection dropped")
		s.setState(StateBackoffWait)
	}
}

// teardownLocked nulls the shared handle before awaiting the
// transport's teardown, so a concurrent observer never sees a handle
// that is mid-teardown. Caller holds opMu.
func (s *Supervisor) teardownLocked() bool {
	s.connMu.Lock()
	old := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if old == nil {
		return false
	}
	if err := old.Disconnect(); err != nil {
		log.Debug().Err(err).Msg("Disconnect of stale handle failed")
	}
	return true
}

func (s *Supervisor) setState(next State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	if prev == next {
		return
	}
	device := s.Device()
	log.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Str("device", device.Name).
		Msg("Connection state changed")
	if s.bus != nil {
		s.bus.Publish(eventbus.EventConnectionState, map[string]any{
			"state":      next.String(),
			"connection": next.ConnectionState(),
			"device":     device.Name,
			"address":    device.Address,
		})
	}
}

// Run drives the state machine until ctx is cancelled. Cancellation is
// observed at every loop iteration boundary and after every error
// branch, so shutdown latency is bounded by one tick or one retry
// delay. On exit the live handle, if any, is disconnected.
func (s *Supervisor) Run(ctx context.Context) error {
	device := s.Device()
	if device.Name == "" {
		return errors.New("no device selected")
	}
	log.Info().Str("device", device.Name).Str("address", device.Address).Msg("Connection supervisor started")

	failures := 0
	for {
		if ctx.Err() != nil {
			break
		}

		if s.Conn() == nil {
			if failures >= s.cfg.MaxConnectAttempts {
				failures = 0
				if !s.rescan(ctx) {
					if sleepDone(ctx, s.cfg.RescanDelay) {
						break
					}
					continue
				}
			}

			s.setState(StateConnecting)
			if err := s.connect(ctx); err != nil {
				failures++
				if errors.Is(err, ble.ErrAdapterOff) {
					log.Warn().Err(err).Msg("Bluetooth radio is off, waiting")
				} else {
					log.Warn().Err(err).Int("attempt", failures).Msg("Connect failed")
				}
				s.setState(StateBackoffWait)
				if ctx.Err() != nil {
					break
				}
				if sleepDone(ctx, s.cfg.RetryDelay) {
					break
				}
				continue
			}
			s.setState(StateConnected)
			s.activity.MarkPing()
			failures = 0
		} else if pinged, err := s.keepAlive(ctx); err != nil {
			log.Warn().Err(err).Msg("Keep-alive ping failed")
			s.Drop(err)
			failures++
			if ctx.Err() != nil {
				break
			}
			continue
		} else if pinged {
			failures = 0
		}

		if ctx.Err() != nil {
			break
		}
		if sleepDone(ctx, s.cfg.LoopTick) {
			break
		}
	}

	// Final teardown: never leave a live handle behind.
	s.opMu.Lock()
	s.teardownLocked()
	s.opMu.Unlock()
	s.setState(StateTerminated)
	log.Info().Msg("Connection supervisor stopped")
	return nil
}

// connect replaces the shared handle under the exclusive section.
func (s *Supervisor) connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardownLocked()

	device := s.Device()
	conn, err := s.transport.Connect(ctx, device.Address, s.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	log.Info().Str("device", device.Name).Str("address", device.Address).Msg("Connected")
	return nil
}

// rescan looks the device up by display name after repeated connect
// failures: the lamp's address may have rotated. Returns true when the
// device was found (and the remembered address refreshed).
func (s *Supervisor) rescan(ctx context.Context) bool {
	device := s.Device()
	s.setState(StateRescanning)
	log.Info().Str("device", device.Name).Msg("Max connect attempts reached, rescanning by name")

	found, err := s.transport.Scan(ctx, s.cfg.RescanTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("Rescan failed")
		return false
	}
	for _, d := range found {
		if d.Name != device.Name {
			continue
		}
		if d.Address != device.Address {
			log.Info().Str("old", device.Address).Str("new", d.Address).Msg("Device found under a new address")
			s.SetDevice(d)
			if s.onDeviceChange != nil {
				s.onDeviceChange(d)
			}
		} else {
			log.Info().Str("address", d.Address).Msg("Device found under the same address")
		}
		return true
	}
	log.Warn().Str("device", device.Name).Msg("Device not found during rescan")
	return false
}

// keepAlive sends the no-op ping when either the long ping interval
// elapsed, or the short inactivity threshold elapsed since both the
// last user command and the last ping. The second rule detects drops
// quickly once a burst of user interaction goes quiet.
func (s *Supervisor) keepAlive(ctx context.Context) (pinged bool, err error) {
	lastPing, lastCommand := s.activity.snapshot()
	now := time.Now()

	due := now.Sub(lastPing) >= s.cfg.PingInterval ||
		(now.Sub(lastCommand) >= s.cfg.InactivityThreshold && now.Sub(lastPing) >= s.cfg.InactivityThreshold)
	if !due {
		return false, nil
	}

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			return false, err
		}
	} else {
		conn := s.Conn()
		if conn == nil {
			return false, nil
		}
		if err := conn.Write(protocol.KeepAliveFrame()); err != nil {
			return false, err
		}
	}
	s.activity.MarkPing()
	log.Debug().Msg("Keep-alive ping sent")
	return true, nil
}

// sleepDone waits d or until cancellation; true means cancelled.
func sleepDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
