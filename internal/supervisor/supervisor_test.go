package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kallaics/lampd/internal/ble"
	"github.com/kallaics/lampd/internal/channel"
	"github.com/kallaics/lampd/internal/protocol"
)

type fakeConn struct {
	mu           sync.Mutex
	writes       [][]byte
	writeErr     error
	disconnected bool
}

func (c *fakeConn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeTransport struct {
	mu           sync.Mutex
	connectCalls []string
	scanCalls    int
	connectFn    func(address string) (ble.Conn, error)
	scanFn       func() ([]ble.Device, error)
}

func (t *fakeTransport) Scan(_ context.Context, _ time.Duration) ([]ble.Device, error) {
	t.mu.Lock()
	t.scanCalls++
	fn := t.scanFn
	t.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn()
}

func (t *fakeTransport) Connect(_ context.Context, address string, _ time.Duration) (ble.Conn, error) {
	t.mu.Lock()
	t.connectCalls = append(t.connectCalls, address)
	fn := t.connectFn
	t.mu.Unlock()
	return fn(address)
}

func (t *fakeTransport) connects() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.connectCalls...)
}

func (t *fakeTransport) scans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanCalls
}

func testConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Millisecond,
		RetryDelay:          2 * time.Millisecond,
		MaxConnectAttempts:  3,
		ScanTimeout:         10 * time.Millisecond,
		RescanTimeout:       10 * time.Millisecond,
		RescanDelay:         2 * time.Millisecond,
		LoopTick:            1 * time.Millisecond,
		PingInterval:        time.Hour,
		InactivityThreshold: time.Hour,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunRequiresDevice(t *testing.T) {
	s := New(&fakeTransport{}, testConfig(), nil)
	assert.Error(t, s.Run(context.Background()))
}

func TestRescanAfterMaxAttempts(t *testing.T) {
	tr := &fakeTransport{
		connectFn: func(string) (ble.Conn, error) {
			return nil, errors.New("connect refused")
		},
		scanFn: func() ([]ble.Device, error) {
			return []ble.Device{{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:02"}}, nil
		},
	}
	var rotated ble.Device
	var rotatedMu sync.Mutex

	s := New(tr, testConfig(), nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})
	s.OnDeviceChange(func(d ble.Device) {
		rotatedMu.Lock()
		rotated = d
		rotatedMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	waitFor(t, func() bool { return tr.scans() >= 1 }, "rescan never happened")
	cancel()
	<-done

	// The rescan happens only after connect attempts are exhausted.
	calls := tr.connects()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", calls[0])

	rotatedMu.Lock()
	defer rotatedMu.Unlock()
	assert.Equal(t, "AA:BB:CC:DD:EE:02", rotated.Address, "rotated address should be reported")
	assert.Equal(t, "AA:BB:CC:DD:EE:02", s.Device().Address)
}

func TestRescanRotatedAddressIsUsedForNextConnect(t *testing.T) {
	var connected *fakeConn
	tr := &fakeTransport{}
	tr.connectFn = func(address string) (ble.Conn, error) {
		if address != "AA:BB:CC:DD:EE:02" {
			return nil, errors.New("gone")
		}
		c := &fakeConn{}
		tr.mu.Lock()
		connected = c
		tr.mu.Unlock()
		return c, nil
	}
	tr.scanFn = func() ([]ble.Device, error) {
		return []ble.Device{{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:02"}}, nil
	}

	s := New(tr, testConfig(), nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	waitFor(t, func() bool { return s.State() == StateConnected }, "never connected after rescan")
	cancel()
	<-done

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.NotNil(t, connected)
	assert.True(t, connected.disconnected, "handle must be torn down on exit")
	assert.Equal(t, StateTerminated, s.State())
}

func TestCancelDuringBackoffLeavesNoHandle(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = 500 * time.Millisecond

	attempted := make(chan struct{}, 16)
	tr := &fakeTransport{
		connectFn: func(string) (ble.Conn, error) {
			select {
			case attempted <- struct{}{}:
			default:
			}
			return nil, errors.New("no route")
		},
	}

	s := New(tr, cfg, nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	<-attempted // now inside or about to enter backoff
	start := time.Now()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * cfg.RetryDelay):
		t.Fatal("supervisor did not stop within one backoff delay")
	}
	assert.Less(t, time.Since(start), 2*cfg.RetryDelay)
	assert.Nil(t, s.Conn(), "no live handle may survive shutdown")
	assert.Equal(t, StateTerminated, s.State())
}

func TestPingFailureTriggersReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 5 * time.Millisecond
	cfg.InactivityThreshold = 5 * time.Millisecond

	var conns []*fakeConn
	tr := &fakeTransport{}
	tr.connectFn = func(string) (ble.Conn, error) {
		c := &fakeConn{}
		tr.mu.Lock()
		conns = append(conns, c)
		tr.mu.Unlock()
		return c, nil
	}

	s := New(tr, cfg, nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	firstConn := func() *fakeConn {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		if len(conns) == 0 {
			return nil
		}
		return conns[0]
	}
	waitFor(t, func() bool {
		c := firstConn()
		return c != nil && c.writeCount() >= 1
	}, "first keep-alive never sent")

	first := firstConn()
	assert.Equal(t, protocol.KeepAliveFrame(), first.writes[0])

	first.failWrites(errors.New("att timeout"))
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(conns) >= 2
	}, "supervisor never reconnected after ping failure")

	assert.True(t, first.disconnected, "failed handle must be torn down")
	cancel()
	<-done
}

func TestKeepAliveGoesThroughPinger(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 5 * time.Millisecond
	cfg.InactivityThreshold = 5 * time.Millisecond

	conn := &fakeConn{}
	tr := &fakeTransport{
		connectFn: func(string) (ble.Conn, error) { return conn, nil },
	}

	s := New(tr, cfg, nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})
	// The shared command path: rate-limited writes against the
	// supervisor's own handle.
	s.SetPinger(channel.New(s, s.Activity(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	waitFor(t, func() bool { return conn.writeCount() >= 1 }, "keep-alive never reached the handle")
	cancel()
	<-done

	assert.Equal(t, protocol.KeepAliveFrame(), conn.writes[0])
}

func TestRecentCommandSuppressesPing(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = time.Hour
	cfg.InactivityThreshold = time.Hour

	conn := &fakeConn{}
	tr := &fakeTransport{
		connectFn: func(string) (ble.Conn, error) { return conn, nil },
	}

	s := New(tr, cfg, nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})
	s.Activity().MarkCommand()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	waitFor(t, func() bool { return s.State() == StateConnected }, "never connected")
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, conn.writeCount(), "no ping expected while activity is fresh")
}

func TestDropIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	tr := &fakeTransport{
		connectFn: func(string) (ble.Conn, error) { return conn, nil },
	}
	s := New(tr, testConfig(), nil)
	s.SetDevice(ble.Device{Name: "ELK-BLEDOM", Address: "AA:BB:CC:DD:EE:01"})
	require.NoError(t, s.connect(context.Background()))

	s.Drop(errors.New("write failed"))
	s.Drop(errors.New("write failed again"))

	assert.Nil(t, s.Conn())
	assert.True(t, conn.disconnected)
	assert.Equal(t, StateBackoffWait, s.State())
}
