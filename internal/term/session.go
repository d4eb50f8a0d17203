package term

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/user/termhub/internal/cast"
)

const readBufferSize = 32 * 1024

// outputDepth bounds the per-session output channel. The read loop
// blocks once the channel is full, so a stalled consumer applies
// backpressure to the shell instead of growing memory without bound.
const outputDepth = 4096

// Session wraps one shell process attached to a PTY. Exactly one reader
// loop drains the PTY master for the session's entire lifetime; it exits
// once, on the first zero-length read or I/O error.
type Session struct {
	id        string
	name      string
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	out  chan []byte
	done chan struct{}

	rec     *cast.Recorder
	recDone func(duration float64)
	recOnce sync.Once

	mu     sync.Mutex
	rows   uint16
	cols   uint16
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func newSession(id, name string, argv []string, rows, cols uint16, workDir string, env []string, rec *cast.Recorder, recDone func(float64)) (*Session, error) {
	if len(argv) == 0 {
		return nil, errors.New("term: argv must not be empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("term: spawn %q: %w", argv[0], err)
	}

	s := &Session{
		id:        id,
		name:      name,
		createdAt: time.Now().UTC(),
		cmd:       cmd,
		ptmx:      ptmx,
		out:       make(chan []byte, outputDepth),
		done:      make(chan struct{}),
		rec:       rec,
		recDone:   recDone,
		rows:      rows,
		cols:      cols,
	}

	go s.readLoop()
	go s.waitExit()

	return s, nil
}

// readLoop copies bytes from the PTY master into the output channel.
// The select against done keeps Close from deadlocking behind a full
// channel when no consumer is draining.
func (s *Session) readLoop() {
	defer close(s.out)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if s.rec != nil {
				_ = s.rec.Output(data)
			}
			select {
			case s.out <- data:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitExit() {
	_ = s.cmd.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.finishRecording()
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusRunning
	if s.closed {
		status = StatusExited
	}
	pid := 0
	if s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	return Info{
		ID:        s.id,
		Name:      s.name,
		PID:       pid,
		Rows:      s.rows,
		Cols:      s.cols,
		Status:    status,
		CreatedAt: s.createdAt,
	}
}

// write sends bytes to the PTY (and therefore to the shell's stdin).
func (s *Session) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.ptmx.Write(p); err != nil {
		return fmt.Errorf("term: write to session %q: %w", s.id, err)
	}
	if s.rec != nil {
		_ = s.rec.Input(p)
	}
	return nil
}

// resize changes the PTY window size and records the new dimensions.
func (s *Session) resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("term: resize session %q: %w", s.id, err)
	}
	s.rows = rows
	s.cols = cols
	return nil
}

// drainOutput returns whatever is currently queued without blocking.
// An empty result with a nil error means nothing is pending; once the
// reader loop has exited and the channel is drained it returns
// ErrDisconnected.
func (s *Session) drainOutput() ([]byte, error) {
	var out []byte
	for {
		select {
		case chunk, ok := <-s.out:
			if !ok {
				if len(out) > 0 {
					return out, nil
				}
				return nil, ErrDisconnected
			}
			out = append(out, chunk...)
		default:
			return out, nil
		}
	}
}

// close terminates the child process (SIGTERM) and closes the PTY fd,
// which unblocks the reader loop. Safe to call more than once.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		s.closeErr = s.ptmx.Close()
	})
	return s.closeErr
}

func (s *Session) finishRecording() {
	if s.rec == nil {
		return
	}
	s.recOnce.Do(func() {
		duration := s.rec.Close()
		if s.recDone != nil {
			s.recDone(duration)
		}
	})
}
