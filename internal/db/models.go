// Package db keeps the SQLite catalog of recording sessions and the video
// segments recorded in them.
package db

import "time"

// Session status values.
const (
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted" // process exited without ending it
)

// Session represents one run of the program, backed by one
// Grabacion_YYYYMMDD_HHMMSS directory.
type Session struct {
	ID        string
	Name      string
	Root      string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string
	CreatedAt time.Time
}

// Segment represents one recorded video file.
type Segment struct {
	ID             string
	SessionID      string
	Phase          int
	SequenceNumber int
	Stimulus       string
	Path           string
	TargetFrames   int
	Frames         int
	Duration       time.Duration
	Elapsed        time.Duration
	Partial        bool
	Canceled       bool
	CreatedAt      time.Time
}
