// Command expression runs the facial expression recording experiment: a
// terminal menu for the operator and a full-screen window for the
// participant.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/expressionlab/expression/internal/app"
	"github.com/expressionlab/expression/internal/capture"
	"github.com/expressionlab/expression/internal/capture/cvcam"
	"github.com/expressionlab/expression/internal/config"
	"github.com/expressionlab/expression/internal/present"
	"github.com/expressionlab/expression/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

// LogFileName is the log written under the output root.
const LogFileName = "expression.log"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.Discover(cwd))
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.OutputRootDirectory)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := &programSender{}
	notifier := app.ProgramNotifier{P: sender}

	ctrl := session.New(session.Options{
		Config: cfg,
		OpenCamera: func() (capture.Device, error) {
			cam, err := cvcam.Open(cfg.Camera.Device)
			if err != nil {
				return nil, err
			}
			return cam, nil
		},
		OpenSurface: func() (present.Surface, error) {
			return cvcam.NewWindow(cfg.Display.Width, cfg.Display.Height), nil
		},
		NewWriter: cvcam.NewWriterFactory(cfg.Camera.Codec),
		Notifier:  notifier,
		Progress:  notifier.Progress,
	})
	defer func() {
		if err := ctrl.Shutdown(); err != nil {
			slog.Error("main: shutdown", "error", err)
		}
	}()

	paths, err := ctrl.Initialize(time.Now())
	if err != nil {
		var dirErr *session.DirectoryCreationError
		if errors.As(err, &dirErr) {
			return fmt.Errorf("cannot create session folder %s: %w", dirErr.Path, dirErr.Err)
		}
		return err
	}
	slog.Info("main: session ready", "session", paths.Name, "root", paths.Root)

	p := tea.NewProgram(app.New(ctx, ctrl, paths.Name, cfg.Duration.Std()), tea.WithAltScreen(), tea.WithContext(ctx))
	sender.p.Store(p)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// setupLogging points the default slog logger at a file under root, since
// the terminal belongs to the TUI.
func setupLogging(root string) (func(), error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(root, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})))
	return func() { f.Close() }, nil
}

// programSender forwards to the program once it exists. Messages sent
// before that are dropped.
type programSender struct {
	p atomic.Pointer[tea.Program]
}

func (s *programSender) Send(msg tea.Msg) {
	if p := s.p.Load(); p != nil {
		p.Send(msg)
	}
}
