package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDelivers(t *testing.T) {
	b := New()
	defer b.Close(context.Background())

	got := make(chan Event, 1)
	b.Subscribe(EventConnectionState, func(ev Event) {
		got <- ev
	})

	b.Publish(EventConnectionState, map[string]any{"state": "connected"})

	select {
	case ev := <-got:
		assert.Equal(t, EventConnectionState, ev.Type)
		assert.Equal(t, "connected", ev.Data["state"])
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

// A publisher may still be running when the bus shuts down (the
// supervisor publishes its terminal state during teardown). Late
// publishes must be dropped, never panic.
func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := New()
	b.Subscribe(EventConnectionState, func(Event) {})

	b.Close(context.Background())

	require.NotPanics(t, func() {
		b.Publish(EventConnectionState, map[string]any{"state": "terminated"})
	})
}

func TestPublishCloseRace(t *testing.T) {
	b := New()
	b.Subscribe(EventScheduleDecision, func(Event) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(EventScheduleDecision, map[string]any{"n": j})
			}
		}()
	}
	b.Close(context.Background())
	wg.Wait()
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	b.Close(context.Background())
	require.NotPanics(t, func() {
		b.Close(context.Background())
	})
}
