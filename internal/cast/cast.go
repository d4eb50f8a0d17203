// Package cast implements the asciinema v2 recording format: one JSON
// header line followed by one JSON event-array line per captured chunk.
package cast

import (
	"encoding/json"
	"fmt"
)

// Event kinds as they appear in the second element of an event line.
const (
	Output = "o"
	Input  = "i"
)

// Header is the first line of a cast recording.
type Header struct {
	Version   int     `json:"version"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Title     string  `json:"title,omitempty"`
	Command   string  `json:"command,omitempty"`
}

// NewHeader returns a version-2 header for the given terminal size.
func NewHeader(width, height int) Header {
	return Header{Version: 2, Width: width, Height: height}
}

// EncodeEvent renders one event line: [elapsed, kind, data].
// Elapsed seconds are measured from recording start and must be
// non-decreasing across a recording; callers enforce the ordering.
func EncodeEvent(elapsed float64, kind string, data string) ([]byte, error) {
	if kind != Output && kind != Input {
		return nil, fmt.Errorf("cast: invalid event kind %q", kind)
	}
	if elapsed < 0 {
		return nil, fmt.Errorf("cast: negative elapsed time %f", elapsed)
	}
	return json.Marshal([]any{elapsed, kind, data})
}

// EncodeExit renders the synthetic ["exit", 0, sessionID] triple emitted
// when a live stream ends because the session disappeared.
func EncodeExit(sessionID string) []byte {
	line, _ := json.Marshal([]any{"exit", 0, sessionID})
	return line
}
