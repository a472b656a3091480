package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeClock advances only when told to.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeDevice produces solid frames and advances the clock by one frame
// interval per read, as a real camera paced at fps would.
type fakeDevice struct {
	clock    *fakeClock
	interval time.Duration
	w, h     int
	failAt   int // read index that fails; -1 never
	reads    int
	closed   int
}

func (d *fakeDevice) Read() (Frame, error) {
	if d.failAt >= 0 && d.reads >= d.failAt {
		return Frame{}, errors.New("device stopped")
	}
	d.reads++
	d.clock.now = d.clock.now.Add(d.interval)
	img := image.NewRGBA(image.Rect(0, 0, d.w, d.h))
	img.Set(0, 0, color.RGBA{R: uint8(d.reads), A: 255})
	return Frame{Seq: uint64(d.reads), Timestamp: d.clock.now, Image: img}, nil
}

func (d *fakeDevice) Size() (int, int) { return d.w, d.h }
func (d *fakeDevice) Close() error     { d.closed++; return nil }

type memWriter struct {
	path   string
	frames []Frame
	closed bool
	failAt int
}

func (w *memWriter) Write(f Frame) error {
	if w.failAt > 0 && len(w.frames) == w.failAt {
		return errors.New("disk full")
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return os.WriteFile(w.path, []byte("avi"), 0o644)
}

type writerSpy struct {
	writers []*memWriter
	fps     float64
	w, h    int
	failAt  int
}

func (s *writerSpy) open(path string, fps float64, w, h int) (Writer, error) {
	s.fps, s.w, s.h = fps, w, h
	mw := &memWriter{path: path, failAt: s.failAt}
	s.writers = append(s.writers, mw)
	return mw, nil
}

func newFixture(fps float64) (*Recorder, *fakeDevice, *writerSpy) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	dev := &fakeDevice{
		clock:    clock,
		interval: time.Duration(float64(time.Second) / fps),
		w:        64,
		h:        48,
		failAt:   -1,
	}
	spy := &writerSpy{}
	rec := &Recorder{NewWriter: spy.open, Clock: clock}
	return rec, dev, spy
}

func TestRecordFrameCountMatchesDurationTimesRate(t *testing.T) {
	tests := []struct {
		duration time.Duration
		fps      float64
	}{
		{time.Second, 10},
		{2 * time.Second, 20},
		{1500 * time.Millisecond, 30},
	}

	for _, tt := range tests {
		rec, dev, spy := newFixture(tt.fps)
		path := filepath.Join(t.TempDir(), "seg.avi")

		seg, err := rec.Record(context.Background(), dev, path, tt.duration, tt.fps, nil)
		if err != nil {
			t.Fatalf("Record: %v", err)
		}

		want := seg.ExpectedFrames()
		if seg.Frames < want-1 || seg.Frames > want+1 {
			t.Errorf("%v@%v: frames = %d, want ~%d", tt.duration, tt.fps, seg.Frames, want)
		}
		if seg.Partial || seg.Canceled {
			t.Errorf("segment should be complete: %+v", seg)
		}
		if !spy.writers[0].closed {
			t.Error("writer not closed")
		}
		if spy.w != 64 || spy.h != 48 || spy.fps != tt.fps {
			t.Errorf("writer opened with %dx%d@%v", spy.w, spy.h, spy.fps)
		}
		if seg.Elapsed < tt.duration {
			t.Errorf("elapsed = %v, want >= %v", seg.Elapsed, tt.duration)
		}
	}
}

func TestRecordPacesToNominalRate(t *testing.T) {
	tests := []struct {
		name      string
		cameraFPS float64
		fps       float64
		duration  time.Duration
	}{
		{"fast camera", 30, 10, time.Second},
		{"webcam at default rate", 30, 20, 2 * time.Second},
		{"slow camera", 5, 10, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, dev, spy := newFixture(tt.cameraFPS)
			path := filepath.Join(t.TempDir(), "seg.avi")

			seg, err := rec.Record(context.Background(), dev, path, tt.duration, tt.fps, nil)
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			want := int(tt.duration.Seconds() * tt.fps)
			if seg.Frames != want {
				t.Errorf("frames = %d, want %d (camera read %d)", seg.Frames, want, dev.reads)
			}
			if got := len(spy.writers[0].frames); got != seg.Frames {
				t.Errorf("written = %d, counted = %d", got, seg.Frames)
			}
		})
	}
}

func TestRecordRepeatsFramesForMissedSlots(t *testing.T) {
	rec, dev, spy := newFixture(5)

	if _, err := rec.Record(context.Background(), dev, filepath.Join(t.TempDir(), "s.avi"), time.Second, 10, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	frames := spy.writers[0].frames
	if len(frames) != 10 {
		t.Fatalf("frames = %d, want 10", len(frames))
	}
	for i := 0; i < len(frames); i += 2 {
		if frames[i].Seq != frames[i+1].Seq {
			t.Errorf("slots %d and %d hold seq %d and %d, want the same frame", i, i+1, frames[i].Seq, frames[i+1].Seq)
		}
	}
}

func TestRecordReadFailureKeepsPartialSegment(t *testing.T) {
	rec, dev, spy := newFixture(10)
	dev.failAt = 4
	path := filepath.Join(t.TempDir(), "partial.avi")

	seg, err := rec.Record(context.Background(), dev, path, time.Second, 10, nil)
	if err != nil {
		t.Fatalf("partial segment should not be an error: %v", err)
	}
	if !seg.Partial {
		t.Error("expected Partial")
	}
	if seg.Frames != 4 {
		t.Errorf("frames = %d, want 4", seg.Frames)
	}
	if !spy.writers[0].closed {
		t.Error("writer must be finalized on early termination")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("partial file should exist: %v", err)
	}
	if IsDeviceFailure(seg) {
		t.Error("segment with frames is not a device failure")
	}
}

func TestRecordFirstReadFailureIsDeviceFailure(t *testing.T) {
	rec, dev, _ := newFixture(10)
	dev.failAt = 0
	path := filepath.Join(t.TempDir(), "x.avi")

	seg, err := rec.Record(context.Background(), dev, path, time.Second, 10, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !IsDeviceFailure(seg) {
		t.Fatalf("expected device failure, got %+v", seg)
	}
	if !errors.Is(DeviceError(seg), ErrDeviceUnavailable) {
		t.Error("DeviceError should wrap ErrDeviceUnavailable")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("empty segment file should be removed, stat err = %v", err)
	}
}

func TestRecordHookPersistsReturnedFrameAndStops(t *testing.T) {
	rec, dev, spy := newFixture(10)
	marker := image.NewRGBA(image.Rect(0, 0, 64, 48))

	calls := 0
	hook := func(f Frame) (Frame, bool) {
		calls++
		return Frame{Seq: f.Seq, Image: marker}, calls == 3
	}

	seg, err := rec.Record(context.Background(), dev, filepath.Join(t.TempDir(), "h.avi"), time.Second, 10, hook)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !seg.Canceled {
		t.Error("expected Canceled")
	}
	if seg.Frames != 3 {
		t.Errorf("frames = %d, want 3", seg.Frames)
	}
	for i, f := range spy.writers[0].frames {
		if f.Image != marker {
			t.Errorf("frame %d: hook output not persisted", i)
		}
	}
	if !spy.writers[0].closed {
		t.Error("writer not closed after hook stop")
	}
}

func TestRecordContextCancel(t *testing.T) {
	rec, dev, spy := newFixture(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seg, err := rec.Record(ctx, dev, filepath.Join(t.TempDir(), "c.avi"), time.Second, 10, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !seg.Canceled || seg.Frames != 0 {
		t.Errorf("seg = %+v", seg)
	}
	if !spy.writers[0].closed {
		t.Error("writer not closed")
	}
}

func TestRecordWriteErrorStillCloses(t *testing.T) {
	rec, dev, spy := newFixture(10)
	spy.failAt = 2

	_, err := rec.Record(context.Background(), dev, filepath.Join(t.TempDir(), "w.avi"), time.Second, 10, nil)
	if err == nil {
		t.Fatal("expected write error")
	}
	if !spy.writers[0].closed {
		t.Error("writer not closed after write error")
	}
}

func TestRecordPreconditions(t *testing.T) {
	rec, dev, _ := newFixture(10)
	dir := t.TempDir()

	if _, err := rec.Record(context.Background(), nil, filepath.Join(dir, "a.avi"), time.Second, 10, nil); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("nil device: err = %v", err)
	}
	if _, err := rec.Record(context.Background(), dev, filepath.Join(dir, "a.avi"), 0, 10, nil); err == nil {
		t.Error("zero duration should fail")
	}
	if _, err := rec.Record(context.Background(), dev, filepath.Join(dir, "a.avi"), time.Second, 0, nil); err == nil {
		t.Error("zero fps should fail")
	}
	if _, err := rec.Record(context.Background(), dev, filepath.Join(dir, "missing", "a.avi"), time.Second, 10, nil); err == nil {
		t.Error("missing parent dir should fail")
	}
}
