// Package instance enforces a single running daemon per user via a
// unix domain socket. A second invocation does not fail silently: it
// asks the running instance to surface itself and exits.
package instance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kallaics/lampd/internal/eventbus"
)

// ErrAlreadyRunning means another instance owns the socket and was
// asked to activate.
var ErrAlreadyRunning = errors.New("another instance is already running")

const activateCommand = "activate"

// Guard holds the instance socket for the lifetime of the daemon.
type Guard struct {
	path     string
	listener net.Listener
	bus      *eventbus.Bus
}

// SocketPath returns the per-user socket location, preferring
// XDG_RUNTIME_DIR over the shared temp directory.
func SocketPath(name string) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, name+".sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.sock", name, os.Getuid()))
}

// Acquire claims the socket. If a live instance already holds it, the
// activate request is forwarded and ErrAlreadyRunning returned. A stale
// socket left by a crashed process is removed and reclaimed.
func Acquire(path string, bus *eventbus.Bus) (*Guard, error) {
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = fmt.Fprintln(conn, activateCommand)
		_ = conn.Close()
		return nil, ErrAlreadyRunning
	}

	// Nobody answered: any leftover socket file is stale.
	if _, err := os.Stat(path); err == nil {
		log.Debug().Str("path", path).Msg("Removing stale instance socket")
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on instance socket: %w", err)
	}
	return &Guard{path: path, listener: listener, bus: bus}, nil
}

// Serve accepts activate requests until ctx is cancelled, then releases
// the socket.
func (g *Guard) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = g.listener.Close()
	}()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("Instance socket accept failed")
			continue
		}
		go g.handle(conn)
	}

	_ = os.Remove(g.path)
	return nil
}

func (g *Guard) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	if strings.TrimSpace(line) != activateCommand {
		return
	}
	log.Info().Msg("Activation requested by another invocation")
	if g.bus != nil {
		g.bus.Publish(eventbus.EventActivate, nil)
	}
}
