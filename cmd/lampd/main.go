package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/app"
	"github.com/kallaics/lampd/internal/autostart"
	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/channel"
	"github.com/kallaics/lampd/internal/config"
	"github.com/kallaics/lampd/internal/instance"
)

var cli struct {
	Config string `short:"c" help:"Path to configuration file." type:"path"`

	Run        RunCmd        `cmd:"" default:"withargs" help:"Run the lamp daemon."`
	Scan       ScanCmd       `cmd:"" help:"Scan for nearby named BLE devices."`
	Use        UseCmd        `cmd:"" help:"Remember a device by name for the daemon to maintain."`
	Color      ColorCmd      `cmd:"" help:"Set the lamp color once and exit."`
	Power      PowerCmd      `cmd:"" help:"Turn the lamp on or off once and exit."`
	Brightness BrightnessCmd `cmd:"" help:"Set the lamp brightness once and exit."`
	Timeline   TimelineCmd   `cmd:"" help:"Print the merged weekly timeline of the active profiles."`
	Autostart  AutostartCmd  `cmd:"" help:"Manage starting with the user session."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("lampd"),
		kong.Description("BLE LED lamp controller with weekly schedules and sunrise/sunset triggers."),
		kong.UsageOnError(),
	)

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log.Level, cfg.Log.Colors)

	kctx.FatalIfErrorf(kctx.Run(cfg))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return config.Default(), nil
		}
		path = filepath.Join(dir, "lampd", "config.yaml")
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func setupLogging(level string, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !colors,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// RunCmd is the daemon entrypoint.
type RunCmd struct {
	Hidden bool `help:"Start without surfacing a UI (used by autostart)."`
}

func (r *RunCmd) Run(cfg *config.Config) error {
	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx := app.SignalContext()

	if cfg.Instance.Enabled {
		socket := cfg.Instance.Socket
		if socket == "" {
			socket = instance.SocketPath("lampd")
		}
		guard, err := instance.Acquire(socket, application.Services().Bus)
		if errors.Is(err, instance.ErrAlreadyRunning) {
			log.Info().Msg("Another instance is running, asked it to activate")
			return nil
		}
		if err != nil {
			return err
		}
		go func() {
			if err := guard.Serve(ctx); err != nil {
				log.Warn().Err(err).Msg("Instance guard stopped")
			}
		}()
	}

	if err := application.Start(ctx); err != nil {
		return err
	}
	application.Wait()
	return application.Stop()
}

// ScanCmd lists nearby named devices.
type ScanCmd struct{}

func (s *ScanCmd) Run(cfg *config.Config) error {
	services, err := app.NewServices(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BLE.ScanTimeout.Duration()+5*time.Second)
	defer cancel()

	devices, err := services.Supervisor.ScanOnce(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No named devices found.")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-24s %s\n", d.Name, d.Address)
	}
	return nil
}

// UseCmd scans and persists the named device for the daemon.
type UseCmd struct {
	Name string `arg:"" help:"Device display name, e.g. ELK-BLEDOM."`
}

func (u *UseCmd) Run(cfg *config.Config) error {
	services, err := app.NewServices(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BLE.ScanTimeout.Duration()+5*time.Second)
	defer cancel()

	devices, err := services.Supervisor.ScanOnce(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if d.Name == u.Name {
			if err := services.Settings.SetLastDevice(d.Name, d.Address); err != nil {
				return err
			}
			fmt.Printf("Remembered %s (%s)\n", d.Name, d.Address)
			return nil
		}
	}
	return fmt.Errorf("device %q not found", u.Name)
}

// ColorCmd sends a single color frame.
type ColorCmd struct {
	Name string `arg:"" help:"Palette color name, e.g. Red."`
}

func (c *ColorCmd) Run(cfg *config.Config) error {
	return withConnectedLamp(cfg, func(ctx context.Context, s *app.Services, ch *channel.Channel) error {
		col, ok := s.Palette.Get(c.Name)
		if !ok {
			return fmt.Errorf("unknown color %q", c.Name)
		}
		return ch.SendFrame(ctx, col.Frame)
	})
}

// PowerCmd sends a single power frame.
type PowerCmd struct {
	State string `arg:"" enum:"on,off" help:"on or off."`
}

func (p *PowerCmd) Run(cfg *config.Config) error {
	return withConnectedLamp(cfg, func(ctx context.Context, _ *app.Services, ch *channel.Channel) error {
		return ch.SendPower(ctx, p.State == "on")
	})
}

// BrightnessCmd sends a single brightness frame and persists the level.
type BrightnessCmd struct {
	Percent int `arg:"" help:"Brightness percentage, 0-100."`
}

func (b *BrightnessCmd) Run(cfg *config.Config) error {
	return withConnectedLamp(cfg, func(ctx context.Context, s *app.Services, ch *channel.Channel) error {
		if err := ch.SendBrightness(ctx, b.Percent); err != nil {
			return err
		}
		return s.Settings.SetBrightness(b.Percent)
	})
}

// directProvider feeds a one-shot connection into the command channel.
type directProvider struct {
	conn ble.Conn
}

func (p *directProvider) Conn() ble.Conn { return p.conn }
func (p *directProvider) Drop(error)     { p.conn = nil }

// withConnectedLamp connects to the remembered device, runs fn with a
// channel bound to that connection, and disconnects. One-shot commands
// share this path instead of spinning up the full supervisor loop.
func withConnectedLamp(cfg *config.Config, fn func(context.Context, *app.Services, *channel.Channel) error) error {
	services, err := app.NewServices(cfg)
	if err != nil {
		return err
	}
	name, address := services.Settings.LastDevice()
	if address == "" {
		return errors.New("no device remembered, run `lampd use <name>` first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BLE.ConnectTimeout.Duration()+5*time.Second)
	defer cancel()

	conn, err := services.Transport.Connect(ctx, address, cfg.BLE.ConnectTimeout.Duration())
	if err != nil {
		return fmt.Errorf("connect to %s (%s): %w", name, address, err)
	}
	defer conn.Disconnect()

	ch := channel.New(&directProvider{conn: conn}, nil, cfg.BLE.MinSendInterval.Duration())
	return fn(ctx, services, ch)
}

// TimelineCmd prints the merged active timeline per weekday.
type TimelineCmd struct {
	Profile string `help:"Restrict to one profile instead of all active ones."`
}

func (t *TimelineCmd) Run(cfg *config.Config) error {
	services, err := app.NewServices(cfg)
	if err != nil {
		return err
	}

	timeline := services.Engine.ActiveTimeline()
	if t.Profile != "" {
		timeline = services.Engine.ProfileTimeline(t.Profile)
		if timeline == nil {
			return fmt.Errorf("unknown profile %q", t.Profile)
		}
	}

	days := make([]string, 0, len(timeline))
	for day := range timeline {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		fmt.Println(day)
		for _, seg := range timeline[day] {
			fmt.Printf("  %02d:%02d - %02d:%02d  %s\n",
				seg.StartMin/60, seg.StartMin%60, seg.EndMin/60, seg.EndMin%60, seg.Hex)
		}
	}
	return nil
}

// AutostartCmd manages the XDG autostart entry.
type AutostartCmd struct {
	Enable  AutostartEnableCmd  `cmd:"" help:"Start lampd with the user session."`
	Disable AutostartDisableCmd `cmd:"" help:"Do not start lampd with the user session."`
	Status  AutostartStatusCmd  `cmd:"" help:"Show whether autostart is enabled."`
}

type AutostartEnableCmd struct{}

func (a *AutostartEnableCmd) Run(cfg *config.Config) error {
	services, err := app.NewServices(cfg)
	if err != nil {
		return err
	}
	if err := autostart.Enable(); err != nil {
		return err
	}
	return services.Settings.SetStartWithSystem(true)
}

type AutostartDisableCmd struct{}

func (a *AutostartDisableCmd) Run(cfg *config.Config) error {
	services, err := app.NewServices(cfg)
	if err != nil {
		return err
	}
	if err := autostart.Disable(); err != nil {
		return err
	}
	return services.Settings.SetStartWithSystem(false)
}

type AutostartStatusCmd struct{}

func (a *AutostartStatusCmd) Run(cfg *config.Config) error {
	on, err := autostart.Enabled()
	if err != nil {
		return err
	}
	if on {
		fmt.Println("autostart: enabled")
	} else {
		fmt.Println("autostart: disabled")
	}
	return nil
}
