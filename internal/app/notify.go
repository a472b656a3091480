package app

import (
	"github.com/expressionlab/expression/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

// Sender is the part of *tea.Program the notifier needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramNotifier delivers controller notifications and progress to a
// running program as messages.
type ProgramNotifier struct {
	P Sender
}

// Info implements session.Notifier.
func (n ProgramNotifier) Info(title, message string) {
	n.P.Send(NotifyMsg{Kind: NoticeInfo, Title: title, Message: message})
}

// Error implements session.Notifier.
func (n ProgramNotifier) Error(title, message string) {
	n.P.Send(NotifyMsg{Kind: NoticeError, Title: title, Message: message})
}

// Progress forwards p as a ProgressMsg.
func (n ProgramNotifier) Progress(p session.Progress) {
	n.P.Send(ProgressMsg{Progress: p})
}

var _ session.Notifier = ProgramNotifier{}
