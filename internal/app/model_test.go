package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/expressionlab/expression/internal/session"
	"github.com/expressionlab/expression/internal/stimulus"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeRunner struct {
	mu       sync.Mutex
	phases   []int
	shutdown int
	err      error
}

func (r *fakeRunner) RunPhase(ctx context.Context, n int) (stimulus.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, n)
	return stimulus.Result{Phase: n}, r.err
}

func (r *fakeRunner) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown++
	return nil
}

func newTestModel(r Runner) Model {
	m := New(context.Background(), r, "Grabacion_20250601_100000", 2*time.Second)
	m.width = 100
	m.height = 30
	return m
}

func applyUpdate(m Model, msg tea.Msg) (Model, tea.Cmd) {
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

// phaseDone runs the phase half of the command returned when a phase
// starts; the elapsed-time tick is not run.
func phaseDone(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		if len(batch) == 0 {
			t.Fatal("empty batch")
		}
		return batch[0]()
	}
	return msg
}

func key(s string) tea.KeyMsg {
	switch s {
	case KeyEnter:
		return tea.KeyMsg{Type: tea.KeyEnter}
	case KeyEsc:
		return tea.KeyMsg{Type: tea.KeyEsc}
	case KeyUp:
		return tea.KeyMsg{Type: tea.KeyUp}
	case KeyDown:
		return tea.KeyMsg{Type: tea.KeyDown}
	case KeySpace:
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case KeyCtrlC:
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModel(t *testing.T) {
	m := New(context.Background(), &fakeRunner{}, "", time.Second)
	if m.screen != ScreenInstructions {
		t.Errorf("screen = %d, want instructions", m.screen)
	}
	if m.quitting {
		t.Error("new model should not be quitting")
	}
	if m.Init() != nil {
		t.Error("Init should return nil")
	}
}

func TestInstructionsAdvanceToMenu(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	m, cmd := applyUpdate(m, key(KeyEnter))
	if m.screen != ScreenMenu {
		t.Errorf("screen = %d, want menu", m.screen)
	}
	if cmd != nil {
		t.Error("advancing should not issue a command")
	}
}

func TestInstructionsTextUsesDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "durante 10 segundos"},
		{time.Second, "durante 1 segundo."},
		{1500 * time.Millisecond, "durante 1.5 segundos"},
	}
	for _, tt := range tests {
		got := InstructionsText(tt.d)
		if !strings.Contains(got, tt.want) {
			t.Errorf("InstructionsText(%v) missing %q", tt.d, tt.want)
		}
		if strings.Count(got, "Sección") != 3 {
			t.Errorf("InstructionsText(%v) should describe three sections", tt.d)
		}
	}
}

func TestMenuNavigation(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	m.screen = ScreenMenu

	m, _ = applyUpdate(m, key(KeyUp))
	if m.selected != 0 {
		t.Errorf("selected = %d, want 0 at top", m.selected)
	}
	m, _ = applyUpdate(m, key(KeyDown))
	m, _ = applyUpdate(m, key(KeyJ))
	if m.selected != 2 {
		t.Errorf("selected = %d, want 2", m.selected)
	}
	for i := 0; i < 5; i++ {
		m, _ = applyUpdate(m, key(KeyDown))
	}
	if m.selected != len(menuItems)-1 {
		t.Errorf("selected = %d, want clamped to %d", m.selected, len(menuItems)-1)
	}
	m, _ = applyUpdate(m, key(KeyK))
	if m.selected != len(menuItems)-2 {
		t.Errorf("selected = %d after k", m.selected)
	}
}

func TestDigitStartsPhase(t *testing.T) {
	r := &fakeRunner{}
	m := newTestModel(r)
	m.screen = ScreenMenu

	m, cmd := applyUpdate(m, key(KeyPhase2))
	if m.screen != ScreenRunning {
		t.Fatalf("screen = %d, want running", m.screen)
	}
	if m.phase != 2 {
		t.Errorf("phase = %d, want 2", m.phase)
	}
	if cmd == nil {
		t.Fatal("expected a run command")
	}

	msg := phaseDone(t, cmd)
	done, ok := msg.(PhaseDoneMsg)
	if !ok {
		t.Fatalf("cmd returned %T, want PhaseDoneMsg", msg)
	}
	if done.Phase != 2 || len(r.phases) != 1 || r.phases[0] != 2 {
		t.Errorf("ran %v, done for phase %d", r.phases, done.Phase)
	}

	m, _ = applyUpdate(m, done)
	if m.screen != ScreenMenu {
		t.Errorf("screen = %d, want menu after phase", m.screen)
	}
}

func TestEnterOnSelectedItem(t *testing.T) {
	r := &fakeRunner{}
	m := newTestModel(r)
	m.screen = ScreenMenu
	m.selected = 2

	m, cmd := applyUpdate(m, key(KeyEnter))
	if m.phase != 3 || cmd == nil {
		t.Fatalf("phase = %d, cmd nil = %v", m.phase, cmd == nil)
	}
}

func TestKeysIgnoredWhileRunning(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	m.screen = ScreenMenu
	m, _ = applyUpdate(m, key(KeyPhase1))

	for _, k := range []string{KeyPhase2, KeyEnter, KeyQuit, KeyExit} {
		var cmd tea.Cmd
		m, cmd = applyUpdate(m, key(k))
		if cmd != nil {
			t.Errorf("key %q should be ignored while running", k)
		}
	}
	if m.phase != 1 || m.quitting {
		t.Errorf("phase = %d quitting = %v", m.phase, m.quitting)
	}
}

func TestExitItemShutsDown(t *testing.T) {
	r := &fakeRunner{}
	m := newTestModel(r)
	m.screen = ScreenMenu
	m.selected = len(menuItems) - 1

	m, cmd := applyUpdate(m, key(KeyEnter))
	if !m.quitting {
		t.Fatal("should be quitting")
	}
	if cmd == nil {
		t.Fatal("expected shutdown command")
	}
	msg := cmd()
	if _, ok := msg.(ShutdownDoneMsg); !ok {
		t.Fatalf("cmd returned %T, want ShutdownDoneMsg", msg)
	}
	if r.shutdown != 1 {
		t.Errorf("shutdown = %d, want 1", r.shutdown)
	}

	_, cmd = applyUpdate(m, msg)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ShutdownDoneMsg should quit the program")
	}
}

func TestCtrlCWhileRunningShutsDownOnce(t *testing.T) {
	r := &fakeRunner{}
	m := newTestModel(r)
	m.screen = ScreenMenu
	m, _ = applyUpdate(m, key(KeyPhase3))

	m, cmd := applyUpdate(m, key(KeyCtrlC))
	if !m.quitting || cmd == nil {
		t.Fatal("ctrl+c should start shutdown while a phase runs")
	}
	_, again := applyUpdate(m, key(KeyCtrlC))
	if again != nil {
		t.Error("second ctrl+c should not shut down again")
	}

	// The phase returning after shutdown must not reopen the menu.
	m, _ = applyUpdate(m, PhaseDoneMsg{Phase: 3, Err: context.Canceled})
	if m.screen == ScreenMenu {
		t.Error("screen should stay put while quitting")
	}
	if got := m.View(); !strings.Contains(got, "Cerrando") {
		t.Errorf("quitting view = %q", got)
	}
}

func TestProgressUpdatesRunningPhase(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	m.screen = ScreenMenu
	m, _ = applyUpdate(m, key(KeyPhase1))

	m, _ = applyUpdate(m, ProgressMsg{Progress: session.Progress{Phase: 1, Index: 0, Total: 7, Stimulus: "Neutral"}})
	m, _ = applyUpdate(m, ProgressMsg{Progress: session.Progress{Phase: 1, Index: 0, Total: 7, Stimulus: "Neutral", Done: true}})
	m, _ = applyUpdate(m, ProgressMsg{Progress: session.Progress{Phase: 1, Index: 1, Total: 7, Stimulus: "Alegría"}})
	m, _ = applyUpdate(m, ProgressMsg{Progress: session.Progress{Phase: 1, Index: 1, Total: 7, Stimulus: "Alegría", Done: true, Partial: true}})

	if m.done != 2 || m.partial != 1 {
		t.Errorf("done = %d partial = %d, want 2 and 1", m.done, m.partial)
	}
	if m.stimulus != "Alegría" || m.total != 7 {
		t.Errorf("stimulus = %q total = %d", m.stimulus, m.total)
	}

	view := m.View()
	if !strings.Contains(view, "Sección 1") {
		t.Error("running view should show the phase title")
	}
	if !strings.Contains(view, "Estímulo 2 de 7") {
		t.Error("running view should show the stimulus position")
	}

	// Progress from another phase is ignored.
	m, _ = applyUpdate(m, ProgressMsg{Progress: session.Progress{Phase: 2, Index: 5, Total: 9, Done: true}})
	if m.done != 2 || m.total != 7 {
		t.Errorf("foreign progress applied: done = %d total = %d", m.done, m.total)
	}
}

func TestNoticeIsModal(t *testing.T) {
	r := &fakeRunner{}
	m := newTestModel(r)
	m.screen = ScreenMenu

	m, _ = applyUpdate(m, NotifyMsg{Kind: NoticeInfo, Title: "Sección 1", Message: session.CompletionMessage(1)})
	m, _ = applyUpdate(m, NotifyMsg{Kind: NoticeError, Title: "Error", Message: "No se encontró la carpeta de imágenes."})

	if !strings.Contains(m.View(), "Seccion1") {
		t.Error("view should show the first notice")
	}

	// Menu keys are swallowed while a notice is shown.
	m, cmd := applyUpdate(m, key(KeyPhase1))
	if cmd != nil || m.screen != ScreenMenu {
		t.Error("notice should block menu keys")
	}

	m, _ = applyUpdate(m, key(KeyEnter))
	if len(m.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(m.notices))
	}
	if !strings.Contains(m.View(), "carpeta de imágenes") {
		t.Error("view should show the second notice")
	}
	m, _ = applyUpdate(m, key(KeyEsc))
	if len(m.notices) != 0 {
		t.Errorf("notices = %d, want 0", len(m.notices))
	}
	if len(r.phases) != 0 {
		t.Errorf("no phase should have run, got %v", r.phases)
	}
}

func TestRejectedPhaseShowsError(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	m.screen = ScreenRunning
	m.phase = 1

	m, _ = applyUpdate(m, PhaseDoneMsg{Phase: 1, Err: session.ErrBusy})
	if len(m.notices) != 1 || m.notices[0].Kind != NoticeError {
		t.Fatalf("notices = %+v, want one error", m.notices)
	}
	if m.screen != ScreenMenu {
		t.Errorf("screen = %d, want menu", m.screen)
	}
}

func TestTickRefreshesElapsedWhileRunning(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	m.screen = ScreenMenu
	m, _ = applyUpdate(m, key(KeyPhase1))

	m, cmd := applyUpdate(m, TickMsg(m.started.Add(3*time.Second)))
	if cmd == nil {
		t.Error("tick should reschedule while a phase runs")
	}
	if m.elapsed != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", m.elapsed)
	}
	if !strings.Contains(m.View(), "Tiempo: 3s") {
		t.Error("running view should show the elapsed time")
	}

	m, _ = applyUpdate(m, PhaseDoneMsg{Phase: 1})
	if _, cmd = applyUpdate(m, TickMsg(m.started.Add(4*time.Second))); cmd != nil {
		t.Error("tick should stop once the phase is done")
	}
}

func TestRenderProgressBar(t *testing.T) {
	bar := renderProgressBar(3, 1, 6, 12)
	if got := strings.Count(bar, "█"); got != 6 {
		t.Errorf("filled cells = %d, want 6", got)
	}
	if got := strings.Count(bar, "░"); got != 6 {
		t.Errorf("empty cells = %d, want 6", got)
	}
	if renderProgressBar(0, 0, 0, 10) != "" {
		t.Error("zero total should render nothing")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("uno dos tres cuatro\n\ncinco", 9)
	want := []string{"uno dos", "tres", "cuatro", "", "cinco"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestViewRendersWithSize(t *testing.T) {
	m := newTestModel(&fakeRunner{})
	view := m.View()
	if !strings.Contains(view, "EXPRESSION") {
		t.Error("view should contain the title")
	}
	if !strings.Contains(view, "Instrucciones") {
		t.Error("view should start on the instructions")
	}

	m.screen = ScreenMenu
	view = m.View()
	for _, item := range menuItems {
		if !strings.Contains(view, item) {
			t.Errorf("menu view missing %q", item)
		}
	}
}

func TestViewWithoutSize(t *testing.T) {
	m := New(context.Background(), &fakeRunner{}, "", time.Second)
	if got := m.View(); got != "Initializing..." {
		t.Errorf("view = %q, want Initializing...", got)
	}
}

type sendRecorder struct{ msgs []tea.Msg }

func (s *sendRecorder) Send(msg tea.Msg) { s.msgs = append(s.msgs, msg) }

func TestProgramNotifier(t *testing.T) {
	s := &sendRecorder{}
	n := ProgramNotifier{P: s}
	n.Info("Sección 2", "ok")
	n.Error("Error", "bad")
	n.Progress(session.Progress{Phase: 2, Index: 3})

	if len(s.msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(s.msgs))
	}
	if got := s.msgs[0].(NotifyMsg); got.Kind != NoticeInfo || got.Title != "Sección 2" {
		t.Errorf("info = %+v", got)
	}
	if got := s.msgs[1].(NotifyMsg); got.Kind != NoticeError || got.Message != "bad" {
		t.Errorf("error = %+v", got)
	}
	if got := s.msgs[2].(ProgressMsg); got.Progress.Index != 3 {
		t.Errorf("progress = %+v", got)
	}
}
