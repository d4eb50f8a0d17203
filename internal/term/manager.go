package term

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/termhub/internal/cast"
)

const (
	defaultRows uint16 = 24
	defaultCols uint16 = 80
)

// Session status values reported by Info.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
)

// Info is a read-only snapshot of session metadata. Callers never hold a
// reference to the live session; all access goes through Manager methods.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Rows      uint16    `json:"rows"`
	Cols      uint16    `json:"cols"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest carries the parameters for a new session. Zero values
// fall back to the manager defaults.
type CreateRequest struct {
	Name  string
	Rows  uint16
	Cols  uint16
	Cwd   string
	Env   []string
	Shell string
}

// RecordingMeta describes a cast file the manager has started writing.
type RecordingMeta struct {
	ID          string
	SessionID   string
	SessionName string
	Path        string
	Width       int
	Height      int
	StartedAt   time.Time
}

// RecordingIndex persists metadata for cast recordings. Implemented by
// the sqlite-backed repository; wired in at the composition root.
type RecordingIndex interface {
	Started(meta RecordingMeta) error
	Finished(id string, duration float64) error
}

// Options configures a Manager.
type Options struct {
	Shell      string // default shell command line, shellquote syntax
	Rows       uint16
	Cols       uint16
	RecordDir  string // when set, every session writes a cast file here
	Recordings RecordingIndex
}

// Manager owns the table of live sessions. It is the only writer of the
// table; reads take a shared lock, per-session mutation locks only the
// session involved.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.Rows == 0 {
		opts.Rows = defaultRows
	}
	if opts.Cols == 0 {
		opts.Cols = defaultCols
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// CreateSession allocates a PTY of the requested size, spawns the
// resolved shell, and starts the session's reader loop.
func (m *Manager) CreateSession(req CreateRequest) (Info, error) {
	id := uuid.NewString()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "session-" + id[:8]
	}
	rows := req.Rows
	if rows == 0 {
		rows = m.opts.Rows
	}
	cols := req.Cols
	if cols == 0 {
		cols = m.opts.Cols
	}

	argv := ResolveShell(req.Shell, m.opts.Shell)

	rec, recDone := m.startRecording(id, name, argv, rows, cols)

	sess, err := newSession(id, name, argv, rows, cols, req.Cwd, req.Env, rec, recDone)
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		return Info{}, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	slog.Info("session created", "session_id", id, "name", name, "pid", sess.cmd.Process.Pid, "shell", argv[0])
	return sess.info(), nil
}

// ListSessions returns a snapshot of every live session.
func (m *Manager) ListSessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.info())
	}
	return infos
}

// GetSession returns metadata for one session.
func (m *Manager) GetSession(id string) (Info, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return sess.info(), nil
}

// ResizeSession changes the PTY size. Exclusion is per session, so
// resizing never contends with I/O on other sessions.
func (m *Manager) ResizeSession(id string, rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return fmt.Errorf("term: invalid size %dx%d", rows, cols)
	}
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	return sess.resize(rows, cols)
}

// WriteSession writes bytes to the session's PTY.
func (m *Manager) WriteSession(id string, p []byte) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	return sess.write(p)
}

// ReadOutput drains whatever output is currently queued for the session.
// This is a poll, not a blocking read: an empty result means nothing is
// pending. ErrDisconnected means the reader loop has terminated.
func (m *Manager) ReadOutput(id string) ([]byte, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.drainOutput()
}

// CloseSession removes the session from the table and releases the PTY
// and child process. A second close fails with ErrNotFound.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("term: close %q: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	err := sess.close()
	slog.Info("session closed", "session_id", id)
	return err
}

// CloseAll terminates every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.close()
	}
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("term: session %q: %w", id, ErrNotFound)
	}
	return sess, nil
}

// startRecording opens a cast file for the session when recording is
// configured. Recording failures degrade to an unrecorded session.
func (m *Manager) startRecording(id, name string, argv []string, rows, cols uint16) (*cast.Recorder, func(float64)) {
	if m.opts.RecordDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(m.opts.RecordDir, 0o755); err != nil {
		slog.Warn("recording disabled for session", "session_id", id, "error", err)
		return nil, nil
	}
	path := filepath.Join(m.opts.RecordDir, id+".cast")
	f, err := os.Create(path)
	if err != nil {
		slog.Warn("recording disabled for session", "session_id", id, "error", err)
		return nil, nil
	}

	startedAt := time.Now().UTC()
	header := cast.NewHeader(int(cols), int(rows))
	header.Timestamp = startedAt.Unix()
	header.Title = name
	header.Command = strings.Join(argv, " ")

	rec, err := cast.NewRecorder(f, header)
	if err != nil {
		_ = f.Close()
		slog.Warn("recording disabled for session", "session_id", id, "error", err)
		return nil, nil
	}

	index := m.opts.Recordings
	if index != nil {
		meta := RecordingMeta{
			ID:          id,
			SessionID:   id,
			SessionName: name,
			Path:        path,
			Width:       int(cols),
			Height:      int(rows),
			StartedAt:   startedAt,
		}
		if err := index.Started(meta); err != nil {
			slog.Warn("failed to index recording", "session_id", id, "error", err)
		}
	}

	recDone := func(duration float64) {
		if index == nil {
			return
		}
		if err := index.Finished(id, duration); err != nil {
			slog.Warn("failed to finalize recording", "session_id", id, "error", err)
		}
	}
	return rec, recDone
}
