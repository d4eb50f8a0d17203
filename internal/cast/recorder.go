package cast

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Recorder serializes cast event lines to a writer. It owns the writer
// and closes it on Close. Safe for concurrent use: the session read loop
// records output while the manager records input.
type Recorder struct {
	mu     sync.Mutex
	w      io.WriteCloser
	start  time.Time
	last   float64
	closed bool
}

// NewRecorder writes the header line and returns a Recorder whose event
// timestamps are measured from now.
func NewRecorder(w io.WriteCloser, h Header) (*Recorder, error) {
	if h.Version == 0 {
		h.Version = 2
	}
	line, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("cast: encode header: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("cast: write header: %w", err)
	}
	return &Recorder{w: w, start: time.Now()}, nil
}

// Output records a chunk of terminal output.
func (r *Recorder) Output(p []byte) error { return r.event(Output, p) }

// Input records a chunk of user input.
func (r *Recorder) Input(p []byte) error { return r.event(Input, p) }

func (r *Recorder) event(kind string, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("cast: recorder closed")
	}
	elapsed := time.Since(r.start).Seconds()
	// The monotonic clock makes this a no-op in practice, but the format
	// requires non-decreasing timestamps.
	if elapsed < r.last {
		elapsed = r.last
	}
	r.last = elapsed
	line, err := EncodeEvent(elapsed, kind, string(p))
	if err != nil {
		return err
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("cast: write event: %w", err)
	}
	return nil
}

// Close closes the underlying writer and returns the recording duration
// in seconds. Safe to call more than once.
func (r *Recorder) Close() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.last
	}
	r.closed = true
	if elapsed := time.Since(r.start).Seconds(); elapsed > r.last {
		r.last = elapsed
	}
	_ = r.w.Close()
	return r.last
}
