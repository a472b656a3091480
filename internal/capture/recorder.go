package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Segment describes one recorded video file.
type Segment struct {
	Path      string
	Duration  time.Duration // target duration
	FrameRate float64
	Width     int
	Height    int

	Frames  int           // frames actually written
	Elapsed time.Duration // wall time spent recording

	// Partial is set when a frame read failed before Duration elapsed.
	// The file is kept.
	Partial bool
	// Canceled is set when the frame hook asked to stop early.
	Canceled bool
	// Err is the read error that made the segment partial, if any.
	Err error
}

// ExpectedFrames is the nominal frame count, Duration * FrameRate.
func (s Segment) ExpectedFrames() int {
	return int(s.Duration.Seconds()*s.FrameRate + 0.5)
}

// FrameHook inspects each frame before it is written. It returns the frame
// to persist and whether the segment should stop after this frame.
type FrameHook func(f Frame) (persist Frame, stop bool)

// Recorder records segments from a Device.
type Recorder struct {
	NewWriter WriterFactory
	Clock     Clock
}

// NewRecorder returns a Recorder that opens writers with open and uses the
// wall clock.
func NewRecorder(open WriterFactory) *Recorder {
	return &Recorder{NewWriter: open, Clock: SystemClock{}}
}

// Record writes frames from dev to path until duration has elapsed.
//
// A failed frame read ends the segment early; the partial segment is still
// finalized and returned with a nil error, unless no frame was written, in
// which case the empty file is removed. The writer is closed on every
// return path. An existing file at path is overwritten.
func (r *Recorder) Record(ctx context.Context, dev Device, path string, duration time.Duration, fps float64, hook FrameHook) (Segment, error) {
	if dev == nil {
		return Segment{}, fmt.Errorf("record %s: %w", path, ErrDeviceUnavailable)
	}
	if duration <= 0 {
		return Segment{}, fmt.Errorf("record %s: duration must be > 0", path)
	}
	if fps <= 0 {
		return Segment{}, fmt.Errorf("record %s: frame rate must be > 0", path)
	}
	if fi, err := os.Stat(filepath.Dir(path)); err != nil || !fi.IsDir() {
		return Segment{}, fmt.Errorf("record %s: output directory missing", path)
	}

	clock := r.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	w, h := dev.Size()
	seg := Segment{
		Path:      path,
		Duration:  duration,
		FrameRate: fps,
		Width:     w,
		Height:    h,
	}

	out, err := r.NewWriter(path, fps, w, h)
	if err != nil {
		return seg, fmt.Errorf("open writer %s: %w", path, err)
	}

	start := clock.Now()
	err = r.loop(ctx, dev, out, &seg, clock, start, hook)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close writer %s: %w", path, cerr)
	}
	seg.Elapsed = clock.Now().Sub(start)

	if IsDeviceFailure(seg) {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			slog.Warn("capture: remove empty segment", "path", path, "error", rerr)
		}
	}

	slog.Info("capture: segment finalized",
		"path", path,
		"frames", seg.Frames,
		"expected", seg.ExpectedFrames(),
		"partial", seg.Partial,
		"canceled", seg.Canceled,
	)
	return seg, err
}

// loop paces writes to the nominal rate: slot k starts at start + k/fps and
// a frame read at elapsed e fills every slot up to floor(e*fps). Frames
// that arrive before the next slot are dropped and slots the camera missed
// repeat the latest frame, so a complete segment holds Duration*FrameRate
// frames whatever the camera's own rate.
func (r *Recorder) loop(ctx context.Context, dev Device, out Writer, seg *Segment, clock Clock, start time.Time, hook FrameHook) error {
	target := seg.ExpectedFrames()
	for clock.Now().Sub(start) < seg.Duration {
		if err := ctx.Err(); err != nil {
			seg.Canceled = true
			return nil
		}

		frame, err := dev.Read()
		if err != nil {
			seg.Partial = true
			seg.Err = err
			slog.Warn("capture: frame read failed, ending segment early", "path", seg.Path, "error", err)
			return nil
		}

		stop := false
		if hook != nil {
			frame, stop = hook(frame)
		}

		due := min(slotsDue(clock.Now().Sub(start), seg.FrameRate), target)
		for seg.Frames < due {
			if err := out.Write(frame); err != nil {
				return fmt.Errorf("write frame %d: %w", seg.Frames, err)
			}
			seg.Frames++
		}

		if stop {
			seg.Canceled = true
			return nil
		}
	}
	return nil
}

// slotsDue is the number of frame slots that have started by elapsed.
func slotsDue(elapsed time.Duration, fps float64) int {
	// The tolerance absorbs rounding in intervals like 1s/30.
	return int(math.Floor(float64(elapsed.Nanoseconds())*fps/float64(time.Second) + 1e-6))
}

// IsDeviceFailure reports whether seg ended on a read error before any
// frame was captured.
func IsDeviceFailure(seg Segment) bool {
	return seg.Partial && seg.Frames == 0 && seg.Err != nil
}

// DeviceError wraps a segment read failure as ErrDeviceUnavailable.
func DeviceError(seg Segment) error {
	return errors.Join(ErrDeviceUnavailable, seg.Err)
}
