// Package monitor infers session lifecycle changes by polling the
// session manager and diffing snapshots, then fans the resulting events
// out to subscribers. It never mutates the manager.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/termhub/internal/term"
)

const defaultPollInterval = 5 * time.Second

// subscriberDepth bounds each subscriber channel; events for a consumer
// that stops draining are dropped, not queued forever.
const subscriberDepth = 64

// Snapshot is a manager-independent copy of one session's state.
// Rebuilt every poll cycle; never shares storage with the live session.
type Snapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PID          int       `json:"pid"`
	Rows         uint16    `json:"rows"`
	Cols         uint16    `json:"cols"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
	ClientCount  int       `json:"client_count"`
}

type EventType string

const (
	EventCreated  EventType = "created"
	EventUpdated  EventType = "updated"
	EventClosed   EventType = "closed"
	EventActivity EventType = "activity"
)

// Event is one lifecycle notification. Immutable once constructed; every
// subscriber receives its own copy.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Session   *Snapshot `json:"session,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionLister is the read-only slice of the session manager the
// monitor depends on.
type SessionLister interface {
	ListSessions() []term.Info
}

type Monitor struct {
	lister   SessionLister
	interval time.Duration

	mu        sync.RWMutex
	snapshots map[string]Snapshot
	activity  map[string]time.Time
	clients   map[string]int

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(lister SessionLister, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Monitor{
		lister:    lister,
		interval:  interval,
		snapshots: make(map[string]Snapshot),
		activity:  make(map[string]time.Time),
		clients:   make(map[string]int),
		subs:      make(map[int]chan Event),
	}
}

// Run polls until the context is cancelled. Each tick snapshots the
// manager, diffs against the previous snapshot map, swaps the stored
// map, and only then broadcasts the resulting events.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	infos := m.lister.ListSessions()
	now := time.Now().UTC()

	m.mu.Lock()
	next := make(map[string]Snapshot, len(infos))
	var events []Event

	for _, info := range infos {
		snap := m.snapshotFromLocked(info)
		next[info.ID] = snap

		old, seen := m.snapshots[info.ID]
		switch {
		case !seen:
			events = append(events, Event{Type: EventCreated, SessionID: info.ID, Session: cloneSnapshot(snap), Timestamp: now})
		case old.Rows != snap.Rows || old.Cols != snap.Cols:
			events = append(events, Event{Type: EventUpdated, SessionID: info.ID, Session: cloneSnapshot(snap), Timestamp: now})
		}
	}

	for id := range m.snapshots {
		if _, ok := next[id]; !ok {
			events = append(events, Event{Type: EventClosed, SessionID: id, Timestamp: now})
			delete(m.activity, id)
			delete(m.clients, id)
		}
	}

	m.snapshots = next
	m.mu.Unlock()

	for _, ev := range events {
		m.broadcast(ev)
	}
}

// snapshotFromLocked builds a snapshot for one session; m.mu must be held.
func (m *Monitor) snapshotFromLocked(info term.Info) Snapshot {
	last, ok := m.activity[info.ID]
	if !ok {
		last = info.CreatedAt
	}
	return Snapshot{
		ID:           info.ID,
		Name:         info.Name,
		PID:          info.PID,
		Rows:         info.Rows,
		Cols:         info.Cols,
		CreatedAt:    info.CreatedAt,
		LastActivity: last,
		IsActive:     info.Status == term.StatusRunning,
		ClientCount:  m.clients[info.ID],
	}
}

// SnapshotAll returns the current snapshot set, oldest session first.
func (m *Monitor) SnapshotAll() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// NotifyActivity records activity for a session and broadcasts an
// activity event immediately, outside the poll cadence. It does not
// affect created/updated/closed inference.
func (m *Monitor) NotifyActivity(id string) {
	now := time.Now().UTC()

	m.mu.Lock()
	m.activity[id] = now
	if snap, ok := m.snapshots[id]; ok {
		snap.LastActivity = now
		m.snapshots[id] = snap
	}
	m.mu.Unlock()

	m.broadcast(Event{Type: EventActivity, SessionID: id, Timestamp: now})
}

// AddClient records one more attached stream/socket consumer for the
// session, so client counts show up in snapshots.
func (m *Monitor) AddClient(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id]++
	if snap, ok := m.snapshots[id]; ok {
		snap.ClientCount = m.clients[id]
		m.snapshots[id] = snap
	}
}

func (m *Monitor) RemoveClient(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients[id] > 0 {
		m.clients[id]--
	}
	if snap, ok := m.snapshots[id]; ok {
		snap.ClientCount = m.clients[id]
		m.snapshots[id] = snap
	}
}

// Subscribe registers a new event receiver. The returned cancel func
// unregisters it and closes the channel.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, subscriberDepth)
	m.subs[id] = ch
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *Monitor) broadcast(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("monitor subscriber full, dropping event", "subscriber", id, "event", ev.Type)
		}
	}
}

func cloneSnapshot(s Snapshot) *Snapshot {
	c := s
	return &c
}
