// Package tunnel exposes raw terminal access over TCP, bypassing the
// session manager and HTTP stack entirely. Each accepted connection gets
// its own private PTY and shell; connections are never multiplexed onto
// a shared terminal.
package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/user/termhub/internal/term"
)

const (
	bridgeRows uint16 = 24
	bridgeCols uint16 = 80
)

// ErrNotFound is returned for unknown forward ids.
var ErrNotFound = errors.New("forward not found")

// Forward is a read-only snapshot of one listener and its counters.
type Forward struct {
	ID          string `json:"id"`
	Port        int    `json:"port"`
	Connected   bool   `json:"connected"`
	ClientCount int    `json:"client_count"`
}

type forward struct {
	id    string
	ln    net.Listener
	port  int
	shell []string

	mu        sync.Mutex
	connected bool
	clients   int
}

func (f *forward) snapshot() Forward {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Forward{ID: f.id, Port: f.port, Connected: f.connected, ClientCount: f.clients}
}

func (f *forward) addClient() {
	f.mu.Lock()
	f.clients++
	f.connected = true
	f.mu.Unlock()
}

func (f *forward) dropClient() {
	f.mu.Lock()
	if f.clients > 0 {
		f.clients--
	}
	if f.clients == 0 {
		f.connected = false
	}
	f.mu.Unlock()
}

// Tunnel manages the set of active forwards.
type Tunnel struct {
	shell string // default shell command line

	mu       sync.RWMutex
	forwards map[string]*forward
}

func New(defaultShell string) *Tunnel {
	return &Tunnel{
		shell:    defaultShell,
		forwards: make(map[string]*forward),
	}
}

// StartForward binds a loopback TCP listener (port 0 picks an ephemeral
// port) and starts accepting in the background. The listener hands each
// connection an unauthenticated shell, so it is never bound to a
// non-loopback address.
func (t *Tunnel) StartForward(port int, shell string) (Forward, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return Forward{}, fmt.Errorf("tunnel: bind port %d: %w", port, err)
	}

	f := &forward{
		id:    uuid.NewString(),
		ln:    ln,
		port:  ln.Addr().(*net.TCPAddr).Port,
		shell: term.ResolveShell(shell, t.shell),
	}

	t.mu.Lock()
	t.forwards[f.id] = f
	t.mu.Unlock()

	go t.acceptLoop(f)

	slog.Info("forward started", "forward_id", f.id, "port", f.port, "shell", f.shell[0])
	return f.snapshot(), nil
}

// StopForward closes the listener and removes the forward. In-flight
// bridges are not cancelled; they drain naturally when either side ends.
func (t *Tunnel) StopForward(id string) error {
	t.mu.Lock()
	f, ok := t.forwards[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("tunnel: stop %q: %w", id, ErrNotFound)
	}
	delete(t.forwards, id)
	t.mu.Unlock()

	err := f.ln.Close()
	slog.Info("forward stopped", "forward_id", id, "port", f.port)
	return err
}

// ListForwards returns a snapshot of every forward.
func (t *Tunnel) ListForwards() []Forward {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Forward, 0, len(t.forwards))
	for _, f := range t.forwards {
		out = append(out, f.snapshot())
	}
	return out
}

// GetForward returns a snapshot of one forward.
func (t *Tunnel) GetForward(id string) (Forward, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, ok := t.forwards[id]
	if !ok {
		return Forward{}, fmt.Errorf("tunnel: get %q: %w", id, ErrNotFound)
	}
	return f.snapshot(), nil
}

// Close stops all listeners; used on shutdown.
func (t *Tunnel) Close() {
	t.mu.Lock()
	forwards := make([]*forward, 0, len(t.forwards))
	for id, f := range t.forwards {
		forwards = append(forwards, f)
		delete(t.forwards, id)
	}
	t.mu.Unlock()

	for _, f := range forwards {
		_ = f.ln.Close()
	}
}

func (t *Tunnel) acceptLoop(f *forward) {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			// Listener closed by StopForward or Close.
			return
		}
		go t.serveConn(f, conn)
	}
}

// serveConn provisions a private PTY and shell for one accepted
// connection and bridges it until either side finishes.
func (t *Tunnel) serveConn(f *forward, conn net.Conn) {
	defer conn.Close()

	f.addClient()
	defer f.dropClient()

	cmd := exec.Command(f.shell[0], f.shell[1:]...)
	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Rows: bridgeRows, Cols: bridgeCols})
	if err != nil {
		slog.Error("tunnel: pty start failed", "forward_id", f.id, "error", err)
		return
	}

	slog.Info("tunnel client connected", "forward_id", f.id, "remote", conn.RemoteAddr().String(), "pid", cmd.Process.Pid)

	bridge(conn, ptmx)

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	_ = cmd.Wait()

	slog.Info("tunnel client disconnected", "forward_id", f.id, "remote", conn.RemoteAddr().String())
}
