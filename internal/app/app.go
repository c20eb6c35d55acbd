// Package app wires the daemon together: configuration in, one
// Services container out, and a lifecycle of start, wait, stop.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/config"
)

// App owns the Services container and the run context. Construction
// builds everything; nothing connects or ticks until Start.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds the service graph for cfg without starting any loops.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Services exposes the service container for CLI subcommands that need
// direct access (scan, one-shot commands).
func (a *App) Services() *Services {
	return a.services
}

// Start launches the background loops. A fatal service error (for
// example the supervisor refusing to run) cancels the run context, so
// Wait unblocks and the process shuts down instead of limping on.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	fatal := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, fatal); err != nil {
		return err
	}

	log.Info().Msg("lampd started")
	return nil
}

// Stop cancels the run context and drains the services. Safe to call
// after Wait returns; the cancellation is then a no-op.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// Wait blocks until the run context ends, whether by signal, external
// cancellation or a fatal service error.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext returns a context that ends on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
