package stimulus

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/expressionlab/expression/internal/capture"
	"github.com/expressionlab/expression/internal/config"
	"github.com/expressionlab/expression/internal/present"
)

// Onset describes a stimulus as it is presented.
type Onset struct {
	Phase    int
	Index    int // 0-based position in the phase
	Total    int
	Stimulus Stimulus
	// Intended is the offset from phase start had every previous segment
	// lasted exactly the configured duration; Actual is the measured one.
	Intended time.Duration
	Actual   time.Duration
}

// Observer receives progress events while a phase runs. Events arrive from
// the goroutine running the phase.
type Observer interface {
	OnStimulus(o Onset)
	OnSegment(o Onset, seg capture.Segment)
	OnSkip(o Onset, err error)
}

// Result summarizes one completed phase.
type Result struct {
	Phase    int
	Dir      string
	Segments []capture.Segment
	Skipped  []string
	Canceled int // segments stopped with the cancel key
}

// Sequencer presents stimuli one at a time and records a segment for each.
type Sequencer struct {
	Recorder  *capture.Recorder
	Surface   present.Surface
	Duration  time.Duration
	FrameRate float64
	Extension string
	// Duplicates is the output name policy for repeated stimuli.
	Duplicates string
	// CancelKey stops the current live segment.
	CancelKey int
	// LiveSize is the live preview resolution. Zero uses the surface size.
	LiveSize image.Point
	Observer Observer
}

// NewSequencer returns a Sequencer configured from cfg.
func NewSequencer(cfg *config.Config, rec *capture.Recorder, surface present.Surface) *Sequencer {
	return &Sequencer{
		Recorder:   rec,
		Surface:    surface,
		Duration:   cfg.Duration.Std(),
		FrameRate:  cfg.FrameRate,
		Extension:  cfg.Camera.Extension,
		Duplicates: cfg.DuplicateNames,
		CancelKey:  cfg.Display.CancelKey,
		LiveSize:   image.Pt(cfg.Display.Width, cfg.Display.Height),
	}
}

// RunLabels is phase 1: each label is shown as large white text on black
// while emocion_<label> is recorded into dir.
func (s *Sequencer) RunLabels(ctx context.Context, dev capture.Device, labels []string, dir string) (Result, error) {
	namer := NewNamer(s.Duplicates, s.Extension)
	w, h := s.Surface.Size()

	return s.run(ctx, dev, 1, dir, Labels(Label, labels), func(st Stimulus) (string, capture.FrameHook, error) {
		img, err := present.RenderLabel(st.Text, w, h)
		if err != nil {
			return "", nil, err
		}
		if err := s.show(img); err != nil {
			return "", nil, err
		}
		return namer.Name("emocion_" + st.Text), s.pump, nil
	})
}

// RunImages is phase 2: every regular file in imageDir, in name order, is
// stretched to the surface and shown while <stem> is recorded into dir.
// Files that do not decode as images are skipped.
func (s *Sequencer) RunImages(ctx context.Context, dev capture.Device, imageDir, dir string) (Result, error) {
	list, err := ImagesFromDir(imageDir)
	if err != nil {
		return Result{Phase: 2, Dir: dir}, err
	}

	namer := NewNamer(s.Duplicates, s.Extension)
	w, h := s.Surface.Size()

	return s.run(ctx, dev, 2, dir, list, func(st Stimulus) (string, capture.FrameHook, error) {
		src, err := Decode(st.Path)
		if err != nil {
			return "", nil, &skipError{err}
		}
		if err := s.show(present.Stretch(src, w, h)); err != nil {
			return "", nil, err
		}
		return namer.Name(Stem(st.Path)), s.pump, nil
	})
}

// RunLive is phase 3: the participant sees their mirrored camera image with
// the label in red at the upper-left. The recorded file holds the mirrored
// frame without the label. The cancel key ends the current segment early
// and the phase continues with the next label.
func (s *Sequencer) RunLive(ctx context.Context, dev capture.Device, labels []string, dir string) (Result, error) {
	namer := NewNamer(s.Duplicates, s.Extension)
	size := s.LiveSize
	if size.X <= 0 || size.Y <= 0 {
		size.X, size.Y = s.Surface.Size()
	}

	return s.run(ctx, dev, 3, dir, Labels(Live, labels), func(st Stimulus) (string, capture.FrameHook, error) {
		return namer.Name(st.Text), s.liveHook(st.Text, size), nil
	})
}

// prepareFunc readies the surface for st and returns the output file name
// and the hook to record with.
type prepareFunc func(st Stimulus) (name string, hook capture.FrameHook, err error)

type skipError struct{ err error }

func (e *skipError) Error() string { return e.err.Error() }
func (e *skipError) Unwrap() error { return e.err }

func (s *Sequencer) run(ctx context.Context, dev capture.Device, phase int, dir string, list []Stimulus, prepare prepareFunc) (Result, error) {
	res := Result{Phase: phase, Dir: dir}
	clock := s.Recorder.Clock
	if clock == nil {
		clock = capture.SystemClock{}
	}
	start := clock.Now()

	slog.Info("stimulus: phase started", "phase", phase, "stimuli", len(list), "dir", dir)

	for i, st := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		onset := Onset{
			Phase:    phase,
			Index:    i,
			Total:    len(list),
			Stimulus: st,
			Intended: time.Duration(i) * s.Duration,
		}

		name, hook, err := prepare(st)
		onset.Actual = clock.Now().Sub(start)
		if err != nil {
			var se *skipError
			if errors.As(err, &se) {
				slog.Warn("stimulus: skipping unreadable file", "path", st.Path, "error", se.err)
				res.Skipped = append(res.Skipped, st.Path)
				if s.Observer != nil {
					s.Observer.OnSkip(onset, se.err)
				}
				continue
			}
			return res, fmt.Errorf("phase %d: present %q: %w", phase, st.Name(), err)
		}

		if s.Observer != nil {
			s.Observer.OnStimulus(onset)
		}

		seg, err := s.Recorder.Record(ctx, dev, filepath.Join(dir, name), s.Duration, s.FrameRate, hook)
		if err != nil {
			return res, fmt.Errorf("phase %d: record %q: %w", phase, st.Name(), err)
		}
		if capture.IsDeviceFailure(seg) {
			return res, fmt.Errorf("phase %d: record %q: %w", phase, st.Name(), capture.DeviceError(seg))
		}

		res.Segments = append(res.Segments, seg)
		if seg.Canceled && ctx.Err() == nil {
			res.Canceled++
		}
		if s.Observer != nil {
			s.Observer.OnSegment(onset, seg)
		}
	}

	slog.Info("stimulus: phase finished",
		"phase", phase,
		"segments", len(res.Segments),
		"skipped", len(res.Skipped),
		"elapsed", clock.Now().Sub(start),
	)
	return res, ctx.Err()
}

func (s *Sequencer) show(img image.Image) error {
	if err := s.Surface.Show(img); err != nil {
		return err
	}
	s.Surface.WaitKey(time.Millisecond)
	return nil
}

// pump keeps the display responsive while a static stimulus is recorded.
// Keys are ignored.
func (s *Sequencer) pump(f capture.Frame) (capture.Frame, bool) {
	s.Surface.WaitKey(time.Millisecond)
	return f, false
}

func (s *Sequencer) liveHook(label string, size image.Point) capture.FrameHook {
	warned := false
	return func(f capture.Frame) (capture.Frame, bool) {
		mirrored := present.Mirror(f.Image)

		display := present.Letterbox(mirrored, size.X, size.Y)
		err := present.Overlay(display, label, present.OverlayOrigin, present.OverlaySize, present.Red)
		if err == nil {
			err = s.Surface.Show(display)
		}
		if err != nil && !warned {
			slog.Warn("stimulus: live preview failed", "label", label, "error", err)
			warned = true
		}

		key := s.Surface.WaitKey(time.Millisecond)
		stop := key != present.NoKey && key&0xFF == s.CancelKey
		return capture.Frame{Seq: f.Seq, Timestamp: f.Timestamp, Image: mirrored}, stop
	}
}
