package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/channel"
	"github.com/kallaics/lampd/internal/color"
	"github.com/kallaics/lampd/internal/config"
	"github.com/kallaics/lampd/internal/eventbus"
	"github.com/kallaics/lampd/internal/schedule"
	"github.com/kallaics/lampd/internal/settings"
	"github.com/kallaics/lampd/internal/sun"
	"github.com/kallaics/lampd/internal/supervisor"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	Bus      *eventbus.Bus
	Palette  *color.Palette
	Settings *settings.Store

	// Schedule state
	Store  *schedule.Store
	Engine *schedule.Engine
	Sun    *sun.Calculator

	// Device side
	Transport  ble.Transport
	Supervisor *supervisor.Supervisor
	Channel    *channel.Channel

	// High-level services
	Scheduler *SchedulerService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	palette, err := color.Load(cfg.Paths.Colors())
	if err != nil {
		return nil, err
	}
	s.Palette = palette

	stngs, err := settings.Load(cfg.Paths.Settings())
	if err != nil {
		return nil, err
	}
	s.Settings = stngs

	s.Sun = newSunCalculator(cfg)

	s.Store = schedule.NewStore(cfg.Paths.Profiles(), cfg.Paths.LegacySchedule())
	s.Engine, err = schedule.NewEngine(s.Store, s.Palette, s.Sun, s.Sun.Location())
	if err != nil {
		return nil, err
	}

	transport, err := ble.NewTransport()
	if err != nil {
		return nil, err
	}
	s.Transport = transport

	s.Supervisor = supervisor.New(transport, supervisorConfig(cfg), s.Bus)
	s.Supervisor.OnDeviceChange(func(d ble.Device) {
		if err := s.Settings.SetLastDevice(d.Name, d.Address); err != nil {
			log.Warn().Err(err).Msg("Failed to persist rotated device address")
		}
	})

	s.Channel = channel.New(s.Supervisor, s.Supervisor.Activity(), cfg.BLE.MinSendInterval.Duration())
	s.Supervisor.SetPinger(s.Channel)

	s.Scheduler = NewSchedulerService(cfg, s.Engine, s.Channel, s.Bus)

	return s, nil
}

// newSunCalculator resolves the position once at startup. An explicit
// lat/lon pin wins; otherwise IP geolocation runs with the timezone
// heuristic and fixed fallback behind it.
func newSunCalculator(cfg *config.Config) *sun.Calculator {
	loc := time.Local
	if cfg.Geo.Timezone != "" {
		if parsed, err := time.LoadLocation(cfg.Geo.Timezone); err == nil {
			loc = parsed
		} else {
			log.Warn().Err(err).Str("timezone", cfg.Geo.Timezone).Msg("Invalid timezone, using system zone")
		}
	}

	if cfg.Geo.Pinned() {
		log.Info().Float64("lat", cfg.Geo.Lat).Float64("lon", cfg.Geo.Lon).Msg("Using configured position")
		return sun.NewCalculator(sun.Coordinates{Lat: cfg.Geo.Lat, Lon: cfg.Geo.Lon}, loc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	locator := sun.NewLocator(cfg.Geo.HTTPTimeout.Duration(), sun.DefaultProviders()...)
	coords, located := locator.Coordinates(ctx)
	if !located {
		log.Warn().Float64("lat", coords.Lat).Float64("lon", coords.Lon).Msg("Geolocation failed, using approximate position")
	}
	return sun.NewCalculator(coords, loc)
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		ConnectTimeout:      cfg.BLE.ConnectTimeout.Duration(),
		RetryDelay:          cfg.BLE.RetryDelay.Duration(),
		MaxConnectAttempts:  cfg.BLE.MaxConnectAttempts,
		ScanTimeout:         cfg.BLE.ScanTimeout.Duration(),
		RescanTimeout:       cfg.BLE.RescanTimeout.Duration(),
		RescanDelay:         cfg.BLE.RescanDelay.Duration(),
		LoopTick:            cfg.BLE.LoopTick.Duration(),
		PingInterval:        cfg.BLE.PingInterval.Duration(),
		InactivityThreshold: cfg.BLE.InactivityWindow.Duration(),
	}
}

// selectDevice picks the device the supervisor should maintain: an
// explicit config override beats the remembered one.
func (s *Services) selectDevice() (ble.Device, bool) {
	name, address := s.Settings.LastDevice()
	if s.cfg.BLE.DeviceName != "" && s.cfg.BLE.DeviceName != name {
		// Only the name is known: the stale address forces the
		// supervisor through its rescan path.
		return ble.Device{Name: s.cfg.BLE.DeviceName, Address: address}, true
	}
	if name == "" {
		return ble.Device{}, false
	}
	return ble.Device{Name: name, Address: address}, true
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Profile file watcher: external edits reload the engine and force
	// a re-evaluation. Watch blocks until ctx ends, so it gets its own
	// goroutine like every other long-running loop here.
	go func() {
		if err := s.Store.Watch(ctx, func() {
			if err := s.Engine.Reload(); err != nil {
				log.Warn().Err(err).Msg("Profile reload failed")
				return
			}
			log.Info().Msg("Profiles reloaded from disk")
			s.Scheduler.Kick()
		}); err != nil {
			log.Warn().Err(err).Msg("Profile file watching unavailable")
		}
	}()

	// Re-apply the schedule as soon as the lamp comes back.
	s.Bus.Subscribe(eventbus.EventConnectionState, func(ev eventbus.Event) {
		if state, _ := ev.Data["state"].(string); state == supervisor.StateConnected.String() {
			s.Scheduler.Kick()
		}
	})

	// Connection supervisor, when a device is known and auto-connect
	// is wanted.
	if device, ok := s.selectDevice(); ok && s.Settings.AutoConnect() {
		s.Supervisor.SetDevice(device)
		go func() {
			if err := s.Supervisor.Run(ctx); err != nil {
				onFatalError(err)
			}
		}()
	} else if !ok {
		log.Info().Msg("No device remembered, waiting for a scan")
	} else {
		log.Info().Msg("Auto-connect disabled")
	}

	s.Scheduler.Start(ctx)
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(ctx)
	return nil
}
