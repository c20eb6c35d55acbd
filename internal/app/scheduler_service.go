package app

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/channel"
	"github.com/kallaics/lampd/internal/config"
	"github.com/kallaics/lampd/internal/eventbus"
	"github.com/kallaics/lampd/internal/schedule"
)

// SchedulerService evaluates the active profiles on a fixed cadence and
// applies the resulting decision to the lamp. It only transmits when
// the desired state actually changed, so a stable schedule produces no
// BLE traffic between transitions.
type SchedulerService struct {
	cfg     *config.Config
	engine  *schedule.Engine
	channel *channel.Channel
	bus     *eventbus.Bus

	kick chan struct{}

	// Last applied state. Guarded by the single evaluation goroutine.
	// applied flips on the first successful transmission: until then
	// the lamp's physical state is unknown and dedup must not skip.
	applied   bool
	lastFrame []byte
	isOn      bool
}

// NewSchedulerService creates a new SchedulerService.
func NewSchedulerService(cfg *config.Config, engine *schedule.Engine, ch *channel.Channel, bus *eventbus.Bus) *SchedulerService {
	return &SchedulerService{
		cfg:     cfg,
		engine:  engine,
		channel: ch,
		bus:     bus,
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band evaluation (profile edit, reconnect).
// Non-blocking; a pending kick is enough.
func (s *SchedulerService) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start begins the evaluation loop. The first evaluation runs after a
// short startup delay so the initial connection attempt gets a head
// start.
func (s *SchedulerService) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *SchedulerService) run(ctx context.Context) {
	startup := time.NewTimer(s.cfg.Scheduler.StartupDelay.Duration())
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-startup.C:
	}
	s.evaluate(ctx, time.Now())

	ticker := time.NewTicker(s.cfg.Scheduler.Interval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx, time.Now())
		case <-s.kick:
			s.evaluate(ctx, time.Now())
		}
	}
}

func (s *SchedulerService) evaluate(ctx context.Context, now time.Time) {
	decision := s.engine.Evaluate(now)

	switch decision.Kind {
	case schedule.DecisionNone:
		// Nothing resolvable: never override manual control.

	case schedule.DecisionOff:
		if s.applied && !s.isOn {
			return
		}
		if err := s.channel.SendPower(ctx, false); err != nil {
			s.reportSendError(err)
			return
		}
		s.applied = true
		s.isOn = false
		s.lastFrame = nil
		log.Info().Msg("Schedule turned the lamp off")
		s.publish(decision)

	case schedule.DecisionColor:
		if s.applied && s.isOn && bytes.Equal(s.lastFrame, decision.Frame) {
			return
		}
		if err := s.channel.SendFrame(ctx, decision.Frame); err != nil {
			s.reportSendError(err)
			return
		}
		s.applied = true
		s.isOn = true
		s.lastFrame = decision.Frame
		log.Info().Str("color", decision.ColorName).Str("hex", decision.Hex).Msg("Schedule applied a color")
		s.publish(decision)
	}
}

// reportSendError keeps the last-applied state untouched so the next
// tick (or the reconnect kick) retries the transmission.
func (s *SchedulerService) reportSendError(err error) {
	if errors.Is(err, ble.ErrNotConnected) {
		log.Debug().Msg("Schedule decision deferred, lamp not connected")
		return
	}
	log.Warn().Err(err).Msg("Failed to apply schedule decision")
}

func (s *SchedulerService) publish(d schedule.Decision) {
	if s.bus == nil {
		return
	}
	data := map[string]any{"kind": kindLabel(d.Kind)}
	if d.Kind == schedule.DecisionColor {
		data["color"] = d.ColorName
		data["hex"] = d.Hex
	}
	s.bus.Publish(eventbus.EventScheduleDecision, data)
}

func kindLabel(k schedule.DecisionKind) string {
	switch k {
	case schedule.DecisionOff:
		return "off"
	case schedule.DecisionColor:
		return "color"
	default:
		return "none"
	}
}
