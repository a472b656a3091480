package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/expressionlab/expression/internal/capture"
	"github.com/expressionlab/expression/internal/config"
	"github.com/expressionlab/expression/internal/db"
	"github.com/expressionlab/expression/internal/journal"
	"github.com/expressionlab/expression/internal/present"
	"github.com/expressionlab/expression/internal/stimulus"
)

// Controller errors.
var (
	ErrBusy           = errors.New("session: a phase is already running")
	ErrTerminated     = errors.New("session: controller is shut down")
	ErrNotInitialized = errors.New("session: not initialized")
)

// State is the controller lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Notifier shows modal messages to the operator.
type Notifier interface {
	Info(title, message string)
	Error(title, message string)
}

// Progress reports a stimulus starting (Done false) or its segment being
// finalized (Done true).
type Progress struct {
	Phase    int
	Index    int
	Total    int
	Stimulus string
	Done     bool
	Partial  bool
	Skipped  bool
}

// Options configures a Controller.
type Options struct {
	Config *config.Config
	// OpenCamera opens the capture device. It is called at Initialize and
	// again before a phase if the camera is not open yet.
	OpenCamera func() (capture.Device, error)
	// OpenSurface opens the presentation surface for one phase. The surface
	// is used and closed on the phase goroutine, locked to one OS thread.
	OpenSurface func() (present.Surface, error)
	NewWriter   capture.WriterFactory
	Clock       capture.Clock
	Notifier    Notifier
	// Progress, if set, receives stimulus progress from the phase goroutine.
	Progress func(Progress)
	// ShutdownGrace bounds how long Shutdown waits for a running phase
	// before closing the camera under it. Zero means DefaultShutdownGrace.
	ShutdownGrace time.Duration
}

// DefaultShutdownGrace is the wait for a running phase to notice
// cancellation.
const DefaultShutdownGrace = 2 * time.Second

// Controller owns the session directory, the camera, the journal and the
// catalog, and runs one phase at a time.
type Controller struct {
	opts     Options
	recorder *capture.Recorder

	mu          sync.Mutex
	state       State
	initialized bool
	paths       Paths
	camera      capture.Device
	cancel      context.CancelFunc
	done        chan struct{}

	// Set once by Initialize.
	journal   *journal.Writer
	catalog   *db.Store
	sessionID string
}

// New returns an idle, uninitialized Controller.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = capture.SystemClock{}
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Controller{
		opts:     opts,
		recorder: &capture.Recorder{NewWriter: opts.NewWriter, Clock: opts.Clock},
	}
}

// Initialize creates the session directories under the configured output
// root, opens the journal and catalog, and tries to open the camera. A
// directory failure is returned as *DirectoryCreationError. Journal,
// catalog and camera failures are logged; a missing camera is reported
// when a phase needs it.
func (c *Controller) Initialize(now time.Time) (Paths, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Terminated {
		return Paths{}, ErrTerminated
	}
	if c.initialized {
		return c.paths, nil
	}

	cfg := c.opts.Config
	paths, err := CreatePaths(cfg.OutputRootDirectory, now)
	if err != nil {
		return Paths{}, err
	}
	c.paths = paths
	c.initialized = true
	slog.Info("session: directories ready", "root", paths.Root)

	if jw, err := journal.Create(paths.Root); err != nil {
		slog.Warn("session: journal disabled", "error", err)
	} else {
		c.journal = jw
	}

	if cfg.CatalogEnabled() {
		c.openCatalog(paths, now)
	}

	c.record(journal.Event{Event: journal.SessionStart, Time: now, SessionID: c.sessionID, Session: paths.Name, Path: paths.Root})

	if err := c.openCameraLocked(); err != nil {
		slog.Warn("session: camera not available at startup", "error", err)
	}
	return paths, nil
}

func (c *Controller) openCatalog(paths Paths, now time.Time) {
	store, err := db.Open(db.DefaultDBPath(c.opts.Config.OutputRootDirectory))
	if err != nil {
		slog.Warn("session: catalog disabled", "error", err)
		return
	}
	interruptStale(store)

	sess, err := store.CreateSession(paths.Name, paths.Root, now)
	if err != nil {
		slog.Warn("session: catalog disabled", "error", err)
		store.Close()
		return
	}
	c.catalog = store
	c.sessionID = sess.ID
}

// interruptStale marks sessions still active in the catalog as interrupted.
// Only one process records at a time, so any active session is left over
// from a crash.
func interruptStale(store *db.Store) {
	for {
		stale, err := store.ActiveSession()
		if err != nil {
			slog.Warn("session: query active sessions", "error", err)
			return
		}
		if stale == nil {
			return
		}
		if err := store.InterruptSession(stale.ID); err != nil {
			slog.Warn("session: mark interrupted", "session", stale.Name, "error", err)
			return
		}
		slog.Info("session: marked interrupted", "session", stale.Name)
	}
}

func (c *Controller) openCameraLocked() error {
	if c.camera != nil {
		return nil
	}
	if c.opts.OpenCamera == nil {
		return capture.ErrDeviceUnavailable
	}
	dev, err := c.opts.OpenCamera()
	if err != nil {
		return err
	}
	c.camera = dev
	w, h := dev.Size()
	slog.Info("session: camera open", "width", w, "height", h)
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Paths returns the session directories. It is zero before Initialize.
func (c *Controller) Paths() Paths {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paths
}

// RunPhase1 records one segment per emotion label shown as text.
func (c *Controller) RunPhase1(ctx context.Context) (stimulus.Result, error) {
	return c.RunPhase(ctx, 1)
}

// RunPhase2 records one segment per image in the stimulus directory.
func (c *Controller) RunPhase2(ctx context.Context) (stimulus.Result, error) {
	return c.RunPhase(ctx, 2)
}

// RunPhase3 records one segment per label over the live mirrored preview.
func (c *Controller) RunPhase3(ctx context.Context) (stimulus.Result, error) {
	return c.RunPhase(ctx, 3)
}

// RunPhase runs phase n (1 to 3) to completion and notifies the operator of
// the outcome. It returns ErrBusy if another phase is running and
// ErrTerminated after Shutdown.
func (c *Controller) RunPhase(ctx context.Context, n int) (stimulus.Result, error) {
	if n < 1 || n > len(PhaseDirs) {
		return stimulus.Result{}, fmt.Errorf("session: unknown phase %d", n)
	}

	ctx, dev, err := c.begin(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			c.fail(n, err)
		}
		return stimulus.Result{Phase: n}, err
	}
	defer c.end()

	dir := c.paths.Phase(n)
	c.record(journal.Event{Event: journal.PhaseStart, SessionID: c.sessionID, Phase: n, Path: dir})

	res, err := c.runPhase(ctx, dev, n, dir)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("session: phase interrupted", "phase", n)
			c.record(journal.Event{Event: journal.PhaseError, SessionID: c.sessionID, Phase: n, Message: err.Error()})
			return res, err
		}
		c.fail(n, err)
		return res, err
	}

	c.record(journal.Event{
		Event:     journal.PhaseDone,
		SessionID: c.sessionID,
		Phase:     n,
		Path:      dir,
		Total:     journal.IntPtr(len(res.Segments)),
	})
	if c.opts.Notifier != nil {
		c.opts.Notifier.Info(PhaseTitle(n), CompletionMessage(n))
	}
	return res, nil
}

// begin moves Idle to Running and lends out the camera.
func (c *Controller) begin(parent context.Context) (context.Context, capture.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == Terminated:
		return nil, nil, ErrTerminated
	case c.state == Running:
		return nil, nil, ErrBusy
	case !c.initialized:
		return nil, nil, ErrNotInitialized
	}

	if err := c.openCameraLocked(); err != nil {
		if !errors.Is(err, capture.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	c.state = Running
	c.cancel = cancel
	c.done = make(chan struct{})
	return ctx, c.camera, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	close(c.done)
	c.cancel, c.done = nil, nil
	if c.state == Running {
		c.state = Idle
	}
}

// runPhase opens the surface and runs the sequencer on one OS thread, since
// HighGUI windows must be created, drawn, pumped and destroyed by the same
// thread.
func (c *Controller) runPhase(ctx context.Context, dev capture.Device, n int, dir string) (stimulus.Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	surface, err := c.opts.OpenSurface()
	if err != nil {
		return stimulus.Result{Phase: n, Dir: dir}, fmt.Errorf("open display: %w", err)
	}
	defer surface.Close()

	cfg := c.opts.Config
	seq := stimulus.NewSequencer(cfg, c.recorder, surface)
	seq.Observer = observer{c}

	switch n {
	case 1:
		return seq.RunLabels(ctx, dev, cfg.EmotionLabels, dir)
	case 2:
		return seq.RunImages(ctx, dev, cfg.ImageStimulusDirectory, dir)
	default:
		return seq.RunLive(ctx, dev, cfg.EmotionLabels, dir)
	}
}

func (c *Controller) fail(n int, err error) {
	slog.Error("session: phase failed", "phase", n, "error", err)
	c.record(journal.Event{Event: journal.PhaseError, SessionID: c.sessionID, Phase: n, Message: err.Error()})
	if c.opts.Notifier != nil {
		c.opts.Notifier.Error("Error", FailureMessage(err))
	}
}

// Shutdown stops a running phase, waits for it to finish, and releases the
// camera, the journal and the catalog. A phase blocked in a camera read past
// ShutdownGrace has the camera closed under it. Calls after the first do
// nothing.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return nil
	}
	c.state = Terminated
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		if !c.wait(done) {
			// The recorder only sees cancellation between reads. Closing
			// the device makes a blocked Read return.
			slog.Warn("session: phase still running after grace, closing camera", "grace", c.opts.ShutdownGrace)
			if err := c.closeCamera(); err != nil {
				errs = append(errs, err)
			}
			if !c.wait(done) {
				slog.Error("session: phase did not stop, releasing resources under it")
			}
		}
	}

	if err := c.closeCamera(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		c.record(journal.Event{Event: journal.SessionEnd, SessionID: c.sessionID, Session: c.paths.Name})
	}
	if c.catalog != nil {
		if err := c.catalog.EndSession(c.sessionID, c.opts.Clock.Now()); err != nil {
			errs = append(errs, err)
		}
		if err := c.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}

	slog.Info("session: shut down", "session", c.paths.Name)
	return errors.Join(errs...)
}

// wait reports whether done closed within the shutdown grace.
func (c *Controller) wait(done <-chan struct{}) bool {
	t := time.NewTimer(c.opts.ShutdownGrace)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// closeCamera closes the camera once.
func (c *Controller) closeCamera() error {
	c.mu.Lock()
	cam := c.camera
	c.camera = nil
	c.mu.Unlock()
	if cam == nil {
		return nil
	}
	if err := cam.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	return nil
}

// record writes ev to the journal, if open.
func (c *Controller) record(ev journal.Event) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Write(ev); err != nil {
		slog.Warn("session: journal write failed", "event", ev.Event, "error", err)
	}
}

// PhaseTitle is the notification title for phase n.
func PhaseTitle(n int) string {
	return fmt.Sprintf("Sección %d", n)
}

// CompletionMessage is shown when phase n finishes.
func CompletionMessage(n int) string {
	return fmt.Sprintf("Sección %d completada. Videos guardados en carpeta %s.", n, PhaseDirs[n-1])
}

// FailureMessage turns a phase error into an operator message.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, stimulus.ErrMissingAsset):
		return "No se encontró la carpeta de imágenes."
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "La cámara no responde. Revise que no esté siendo usada por otra aplicación."
	}
	return err.Error()
}

// observer forwards sequencer events to the journal, the catalog and the
// progress callback.
type observer struct{ c *Controller }

func (o observer) OnStimulus(on stimulus.Onset) {
	o.c.record(journal.Event{
		Event:      journal.Stimulus,
		SessionID:  o.c.sessionID,
		Phase:      on.Phase,
		Index:      journal.IntPtr(on.Index),
		Total:      journal.IntPtr(on.Total),
		Stimulus:   on.Stimulus.Name(),
		IntendedMs: journal.MsPtr(on.Intended),
		ActualMs:   journal.MsPtr(on.Actual),
	})
	o.progress(on, Progress{})
}

func (o observer) OnSegment(on stimulus.Onset, seg capture.Segment) {
	if seg.Partial {
		slog.Warn("session: partial segment", "path", seg.Path, "frames", seg.Frames, "error", seg.Err)
	}
	ev := journal.Event{
		Event:        journal.Segment,
		SessionID:    o.c.sessionID,
		Phase:        on.Phase,
		Index:        journal.IntPtr(on.Index),
		Stimulus:     on.Stimulus.Name(),
		Path:         seg.Path,
		Frames:       journal.IntPtr(seg.Frames),
		TargetFrames: journal.IntPtr(seg.ExpectedFrames()),
		Partial:      journal.BoolPtr(seg.Partial),
		Canceled:     journal.BoolPtr(seg.Canceled),
	}
	if seg.Err != nil {
		ev.Message = seg.Err.Error()
	}
	o.c.record(ev)

	if o.c.catalog != nil {
		_, err := o.c.catalog.AddSegment(db.Segment{
			SessionID:      o.c.sessionID,
			Phase:          on.Phase,
			SequenceNumber: on.Index,
			Stimulus:       on.Stimulus.Name(),
			Path:           seg.Path,
			TargetFrames:   seg.ExpectedFrames(),
			Frames:         seg.Frames,
			Duration:       seg.Duration,
			Elapsed:        seg.Elapsed,
			Partial:        seg.Partial,
			Canceled:       seg.Canceled,
		})
		if err != nil {
			slog.Warn("session: catalog write failed", "path", seg.Path, "error", err)
		}
	}
	o.progress(on, Progress{Done: true, Partial: seg.Partial})
}

func (o observer) OnSkip(on stimulus.Onset, err error) {
	o.c.record(journal.Event{
		Event:     journal.Skip,
		SessionID: o.c.sessionID,
		Phase:     on.Phase,
		Index:     journal.IntPtr(on.Index),
		Path:      on.Stimulus.Path,
		Message:   err.Error(),
	})
	o.progress(on, Progress{Done: true, Skipped: true})
}

func (o observer) progress(on stimulus.Onset, p Progress) {
	if o.c.opts.Progress == nil {
		return
	}
	p.Phase = on.Phase
	p.Index = on.Index
	p.Total = on.Total
	p.Stimulus = on.Stimulus.Name()
	o.c.opts.Progress(p)
}
