package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/channel"
	"github.com/kallaics/lampd/internal/color"
	"github.com/kallaics/lampd/internal/config"
	"github.com/kallaics/lampd/internal/eventbus"
	"github.com/kallaics/lampd/internal/schedule"
	"github.com/kallaics/lampd/internal/settings"
	"github.com/kallaics/lampd/internal/supervisor"
)

type nopTransport struct{}

func (nopTransport) Scan(context.Context, time.Duration) ([]ble.Device, error) {
	return nil, nil
}

func (nopTransport) Connect(context.Context, string, time.Duration) (ble.Conn, error) {
	return nil, errors.New("unreachable")
}

// newTestServices wires a Services container by hand so no real
// adapter or network is touched.
func newTestServices(t *testing.T) *Services {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.StateDir = dir

	palette, err := color.Load(cfg.Paths.Colors())
	require.NoError(t, err)
	stngs, err := settings.Load(cfg.Paths.Settings())
	require.NoError(t, err)

	store := schedule.NewStore(cfg.Paths.Profiles(), cfg.Paths.LegacySchedule())
	engine, err := schedule.NewEngine(store, palette, alwaysDaySun{}, time.UTC)
	require.NoError(t, err)

	bus := eventbus.New()
	sup := supervisor.New(nopTransport{}, supervisorConfig(cfg), bus)
	ch := channel.New(sup, sup.Activity(), cfg.BLE.MinSendInterval.Duration())

	return &Services{
		cfg:        cfg,
		Bus:        bus,
		Palette:    palette,
		Settings:   stngs,
		Store:      store,
		Engine:     engine,
		Transport:  nopTransport{},
		Supervisor: sup,
		Channel:    ch,
		Scheduler:  NewSchedulerService(cfg, engine, ch, bus),
	}
}

// Start launches the watcher, supervisor and scheduler as background
// loops; it must hand control back to the caller right away.
func TestServicesStartReturnsPromptly(t *testing.T) {
	services := newTestServices(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- services.Start(ctx, func(error) {})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Services.Start did not return, a startup loop is blocking it")
	}
}
