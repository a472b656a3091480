// Package journal writes and reads the per-session event log, an NDJSON
// file with one Event per line.
package journal

import "time"

// FileName is the journal file name inside a session directory.
const FileName = "events.ndjson"

// Event names.
const (
	SessionStart = "session_start"
	SessionEnd   = "session_end"
	PhaseStart   = "phase_start"
	PhaseDone    = "phase_done"
	PhaseError   = "phase_error"
	Stimulus     = "stimulus"
	Segment      = "segment"
	Skip         = "skip"
)

// Event is one journal line.
type Event struct {
	Event        string    `json:"event"`
	Time         time.Time `json:"time"`
	SessionID    string    `json:"sessionId,omitempty"`
	Session      string    `json:"session,omitempty"`
	Phase        int       `json:"phase,omitempty"`
	Index        *int      `json:"index,omitempty"`
	Total        *int      `json:"total,omitempty"`
	Stimulus     string    `json:"stimulus,omitempty"`
	Path         string    `json:"path,omitempty"`
	IntendedMs   *int64    `json:"intendedMs,omitempty"`
	ActualMs     *int64    `json:"actualMs,omitempty"`
	Frames       *int      `json:"frames,omitempty"`
	TargetFrames *int      `json:"targetFrames,omitempty"`
	Partial      *bool     `json:"partial,omitempty"`
	Canceled     *bool     `json:"canceled,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building events.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(n int) *int { return &n }

// MsPtr returns d in whole milliseconds as a pointer.
func MsPtr(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
