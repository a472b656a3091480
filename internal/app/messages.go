package app

import (
	"time"

	"github.com/expressionlab/expression/internal/session"
	"github.com/expressionlab/expression/internal/stimulus"
)

// NoticeKind distinguishes informational and error notifications.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeError
)

// NotifyMsg asks the TUI to show a modal notification.
type NotifyMsg struct {
	Kind    NoticeKind
	Title   string
	Message string
}

// ProgressMsg carries stimulus progress from the running phase.
type ProgressMsg struct {
	Progress session.Progress
}

// PhaseDoneMsg is sent when a phase returns.
type PhaseDoneMsg struct {
	Phase  int
	Result stimulus.Result
	Err    error
}

// ShutdownDoneMsg is sent after the controller released its resources.
type ShutdownDoneMsg struct {
	Err error
}

// TickMsg refreshes the elapsed time while a phase runs.
type TickMsg time.Time
