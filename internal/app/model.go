package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/expressionlab/expression/internal/session"
	"github.com/expressionlab/expression/internal/stimulus"
	"github.com/expressionlab/expression/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// Screen is the view currently shown.
type Screen int

const (
	ScreenInstructions Screen = iota
	ScreenMenu
	ScreenRunning
)

// Runner runs experiment phases. *session.Controller implements it.
type Runner interface {
	RunPhase(ctx context.Context, n int) (stimulus.Result, error)
	Shutdown() error
}

// Notice is a modal notification.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
}

// menuItems are the main menu entries; the last one exits.
var menuItems = []string{
	"Sección 1: Sin estímulo",
	"Sección 2: Con estímulo visual",
	"Sección 3: Cámara + Texto",
	"Salir",
}

// Model is the root bubbletea model for the experiment TUI.
type Model struct {
	runner  Runner
	ctx     context.Context
	session string

	duration time.Duration

	// UI state
	screen   Screen
	selected int
	width    int
	height   int

	// Running phase
	phase    int
	index    int
	total    int
	stimulus string
	done     int
	partial  int
	skipped  int
	started  time.Time
	elapsed  time.Duration

	// Notifications, oldest first
	notices []Notice

	quitting bool
}

// New creates a Model that runs phases on r. sessionName is shown in the
// header and duration in the instructions.
func New(ctx context.Context, r Runner, sessionName string, duration time.Duration) Model {
	return Model{
		runner:   r,
		ctx:      ctx,
		session:  sessionName,
		duration: duration,
		screen:   ScreenInstructions,
	}
}

// Init returns no initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// runPhaseCmd runs phase n on a background goroutine.
func runPhaseCmd(ctx context.Context, r Runner, n int) tea.Cmd {
	return func() tea.Msg {
		res, err := r.RunPhase(ctx, n)
		return PhaseDoneMsg{Phase: n, Result: res, Err: err}
	}
}

// tickCmd schedules the next elapsed-time refresh.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// shutdownCmd releases the controller.
func shutdownCmd(r Runner) tea.Cmd {
	return func() tea.Msg {
		return ShutdownDoneMsg{Err: r.Shutdown()}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ProgressMsg:
		p := msg.Progress
		if p.Phase != m.phase {
			return m, nil
		}
		m.index = p.Index
		m.total = p.Total
		m.stimulus = p.Stimulus
		if p.Done {
			m.done++
			if p.Partial {
				m.partial++
			}
			if p.Skipped {
				m.skipped++
			}
		}
		return m, nil

	case PhaseDoneMsg:
		if msg.Phase == m.phase {
			m.phase = 0
		}
		if !m.quitting {
			m.screen = ScreenMenu
		}
		// Controller-side failures are notified through NotifyMsg; only
		// surface the ones it rejects before running.
		if errors.Is(msg.Err, session.ErrBusy) || errors.Is(msg.Err, session.ErrNotInitialized) {
			m.notices = append(m.notices, Notice{Kind: NoticeError, Title: "Error", Message: msg.Err.Error()})
		}
		return m, nil

	case TickMsg:
		if m.screen != ScreenRunning || m.quitting {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tickCmd()

	case NotifyMsg:
		m.notices = append(m.notices, Notice{Kind: msg.Kind, Title: msg.Title, Message: msg.Message})
		return m, nil

	case ShutdownDoneMsg:
		return m, tea.Quit
	}

	return m, nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == KeyCtrlC {
		return m.quit()
	}

	// A modal notification takes every key until dismissed.
	if len(m.notices) > 0 {
		switch key {
		case KeyEnter, KeyEsc, KeySpace:
			m.notices = m.notices[1:]
		}
		return m, nil
	}

	switch m.screen {
	case ScreenInstructions:
		switch key {
		case KeyEnter, KeySpace:
			m.screen = ScreenMenu
		case KeyQuit, KeyQuitUpper:
			return m.quit()
		}
		return m, nil

	case ScreenRunning:
		// Keys go to the stimulus window while a phase runs.
		return m, nil
	}

	switch key {
	case KeyUp, KeyK:
		if m.selected > 0 {
			m.selected--
		}
	case KeyDown, KeyJ:
		if m.selected < len(menuItems)-1 {
			m.selected++
		}
	case KeyPhase1, KeyPhase2, KeyPhase3:
		return m.start(int(key[0] - '0'))
	case KeyEnter, KeySpace:
		if m.selected == len(menuItems)-1 {
			return m.quit()
		}
		return m.start(m.selected + 1)
	case KeyExit, KeyQuit, KeyQuitUpper:
		return m.quit()
	}
	return m, nil
}

func (m Model) start(n int) (tea.Model, tea.Cmd) {
	m.screen = ScreenRunning
	m.selected = n - 1
	m.phase = n
	m.index, m.total, m.done, m.partial, m.skipped = 0, 0, 0, 0, 0
	m.stimulus = ""
	m.started = time.Now()
	m.elapsed = 0
	return m, tea.Batch(runPhaseCmd(m.ctx, m.runner, n), tickCmd())
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}
	m.quitting = true
	return m, shutdownCmd(m.runner)
}

// InstructionsText is the participant briefing with the segment duration.
func InstructionsText(d time.Duration) string {
	secs := formatSeconds(d)
	return "Instrucciones:\n\n" +
		"Sección 1:\nHaz la expresión que se muestra en el texto de cada diapositiva durante " + secs + ".\n\n" +
		"Sección 2:\nHaz la expresión que se muestra en la imagen durante " + secs + ".\n\n" +
		"Sección 3:\nMírate en la cámara y realiza la expresión que corresponda al texto durante " + secs + "."
}

func formatSeconds(d time.Duration) string {
	s := d.Seconds()
	if s == 1 {
		return "1 segundo"
	}
	if s == float64(int(s)) {
		return fmt.Sprintf("%d segundos", int(s))
	}
	return fmt.Sprintf("%.1f segundos", s)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.quitting {
		return ui.DimStyle.Render("Cerrando...") + "\n"
	}
	if m.width == 0 {
		return "Initializing..."
	}

	var body string
	switch {
	case len(m.notices) > 0:
		body = m.renderNotice(m.notices[0])
	case m.screen == ScreenInstructions:
		body = m.renderInstructions()
	case m.screen == ScreenRunning:
		body = m.renderRunning()
	default:
		body = m.renderMenu()
	}

	sections := []string{
		m.renderHeader(),
		ui.DividerStyle.Render(strings.Repeat("─", m.width)),
		lipgloss.Place(m.width, m.contentHeight(), lipgloss.Center, lipgloss.Center, body),
		ui.DividerStyle.Render(strings.Repeat("─", m.width)),
		m.renderFooter(),
	}
	return strings.Join(sections, "\n")
}

func (m Model) contentHeight() int {
	// header + two dividers + footer
	return max(5, m.height-4)
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("EXPRESSION")
	var sess string
	if m.session != "" {
		sess = ui.DimStyle.Render("  " + m.session)
	}

	var dot string
	if m.screen == ScreenRunning {
		dot = ui.RecordingDotStyle.Render("● REC")
	} else {
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}
	return title + sess + "  " + dot
}

func (m Model) renderInstructions() string {
	width := min(70, max(30, m.width-10))
	text := strings.Join(wrapText(InstructionsText(m.duration), width), "\n")
	return ui.TextStyle.Render(text) + "\n\n" +
		ui.FooterKeyStyle.Render("Enter") + ui.FooterDescStyle.Render(" Comenzar")
}

func (m Model) renderMenu() string {
	lines := []string{ui.PanelTitleStyle.Render("Seleccione:"), ""}
	for i, item := range menuItems {
		key := fmt.Sprintf("%d", i+1)
		if i == m.selected {
			lines = append(lines, ui.SelectedStyle.Render("> "+key+"  "+item))
		} else {
			lines = append(lines, "  "+ui.FooterKeyStyle.Render(key)+"  "+item)
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRunning() string {
	lines := []string{
		ui.PanelTitleStyle.Render(session.PhaseTitle(m.phase)),
		"",
	}
	if m.total == 0 {
		lines = append(lines, ui.DimStyle.Render("Preparando..."))
	} else {
		lines = append(lines,
			fmt.Sprintf("Estímulo %d de %d: %s", m.index+1, m.total, ui.StimulusStyle.Render(m.stimulus)),
			"",
			renderProgressBar(m.done, m.partial, m.total, 30)+fmt.Sprintf("  %d/%d", m.done, m.total),
		)
	}
	if m.partial > 0 || m.skipped > 0 {
		lines = append(lines, ui.DimStyle.Render(fmt.Sprintf("parciales %d  omitidos %d", m.partial, m.skipped)))
	}
	lines = append(lines, "", ui.StatusStyle.Render("Tiempo: "+m.elapsed.Round(time.Second).String()))
	return strings.Join(lines, "\n")
}

func renderProgressBar(done, partial, total, width int) string {
	if total <= 0 {
		return ""
	}
	filled := done * width / total
	warn := partial * width / total
	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i < filled-warn:
			b.WriteString(ui.ProgressDoneStyle.Render("█"))
		case i < filled:
			b.WriteString(ui.ProgressPartialStyle.Render("█"))
		default:
			b.WriteString(ui.ProgressTodoStyle.Render("░"))
		}
	}
	return b.String()
}

func (m Model) renderNotice(n Notice) string {
	width := min(60, max(20, m.width-10))
	msg := strings.Join(wrapText(n.Message, width), "\n")
	if n.Kind == NoticeError {
		return ui.ErrorBoxStyle.Render(ui.ErrorStyle.Render(n.Title) + "\n\n" + ui.ErrorTextStyle.Render(msg) + "\n\n" +
			ui.FooterKeyStyle.Render("Enter") + ui.FooterDescStyle.Render(" Aceptar"))
	}
	return ui.InfoBoxStyle.Render(ui.PanelTitleStyle.Render(n.Title) + "\n\n" + msg + "\n\n" +
		ui.FooterKeyStyle.Render("Enter") + ui.FooterDescStyle.Render(" Aceptar"))
}

func (m Model) renderFooter() string {
	var parts []string

	switch {
	case len(m.notices) > 0:
		parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Aceptar"))
	case m.screen == ScreenInstructions:
		parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Comenzar"))
	case m.screen == ScreenMenu:
		parts = append(parts, ui.FooterKeyStyle.Render("1-3")+ui.FooterDescStyle.Render(" Sección"))
		parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Mover"))
		parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Elegir"))
	case m.screen == ScreenRunning:
		parts = append(parts, ui.FooterKeyStyle.Render("Esc")+ui.FooterDescStyle.Render(" (ventana) Saltar estímulo, Sección 3"))
	}

	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Salir"))
	return strings.Join(parts, "  ")
}

// Helpers

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if lipgloss.Width(current)+1+lipgloss.Width(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
