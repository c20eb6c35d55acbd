// Package channel is the single write path to the lamp. Every
// user-visible command (color, power, brightness) funnels through one
// rate-limited sender so schedule transitions and manual commands never
// interleave mid-frame or flood the BLE link.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/protocol"
)

// ConnProvider surfaces the supervisor's shared handle and its failure
// path. Kept as an interface so tests do not need a real supervisor.
type ConnProvider interface {
	Conn() ble.Conn
	Drop(reason error)
}

// ActivityMarker receives the shared activity clock updates.
type ActivityMarker interface {
	MarkCommand()
}

// Channel serializes and rate-limits command frames.
type Channel struct {
	provider ConnProvider
	activity ActivityMarker
	limiter  *rate.Limiter
}

// New creates a channel allowing at most one frame per minInterval,
// with a burst of one.
func New(provider ConnProvider, activity ActivityMarker, minInterval time.Duration) *Channel {
	if minInterval <= 0 {
		minInterval = 50 * time.Millisecond
	}
	return &Channel{
		provider: provider,
		activity: activity,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// SendColor sets the lamp to the given RGB color.
func (c *Channel) SendColor(ctx context.Context, r, g, b uint8) error {
	err := c.send(ctx, protocol.ColorFrame(r, g, b))
	if err == nil {
		log.Debug().Uint8("r", r).Uint8("g", g).Uint8("b", b).Msg("Color sent")
	}
	return err
}

// SendPower turns the lamp on (white) or off. The controller has no
// discrete power opcode: off is black, on is full white.
func (c *Channel) SendPower(ctx context.Context, on bool) error {
	frame := protocol.PowerOffFrame()
	if on {
		frame = protocol.ColorFrame(0xff, 0xff, 0xff)
	}
	err := c.send(ctx, frame)
	if err == nil {
		log.Debug().Bool("on", on).Msg("Power command sent")
	}
	return err
}

// SendBrightness sets brightness as a 0-100 percentage.
func (c *Channel) SendBrightness(ctx context.Context, percent int) error {
	frame, err := protocol.BrightnessFrame(percent)
	if err != nil {
		return err
	}
	if err := c.send(ctx, frame); err != nil {
		return err
	}
	log.Debug().Int("percent", percent).Msg("Brightness sent")
	return nil
}

// SendFrame transmits a raw 9-byte frame. Exposed for the scheduler,
// which carries pre-built frames in its decisions.
func (c *Channel) SendFrame(ctx context.Context, frame []byte) error {
	return c.send(ctx, frame)
}

// Ping sends the keep-alive no-op. It deliberately leaves the
// last-command clock alone (only real user traffic counts as
// activity); the supervisor resets its ping clock when this succeeds.
func (c *Channel) Ping(ctx context.Context) error {
	conn := c.provider.Conn()
	if conn == nil {
		return ble.ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := conn.Write(protocol.KeepAliveFrame()); err != nil {
		c.provider.Drop(err)
		return fmt.Errorf("keep-alive: %w", err)
	}
	return nil
}

func (c *Channel) send(ctx context.Context, frame []byte) error {
	conn := c.provider.Conn()
	if conn == nil {
		return ble.ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := conn.Write(frame); err != nil {
		// A failed send means the connection is gone: hand the handle
		// back to the supervisor and surface the error to the caller.
		c.provider.Drop(err)
		return fmt.Errorf("send %s: %w", protocol.FrameHex(frame), err)
	}
	if c.activity != nil {
		c.activity.MarkCommand()
	}
	return nil
}
