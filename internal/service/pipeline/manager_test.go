package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"booth/internal/logger"
	"booth/internal/model"
	"booth/internal/repository/sqlite"
	"booth/internal/service/camera"
	"booth/internal/service/params"
	"booth/internal/service/postprocess"
	"booth/internal/service/recorder"
	"booth/internal/service/render"
	"booth/internal/service/vision"

	"gocv.io/x/gocv"
)

const (
	outW = 64
	outH = 36
	fps  = 20
)

// ========================================
// Fakes
// ========================================

// fakeSource produces a new frame on every read with a square moving
// across a dark background.
type fakeSource struct {
	mu  sync.Mutex
	seq uint64
}

func (s *fakeSource) ID() string { return "fake0" }

func (s *fakeSource) Read() (camera.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++

	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), 72, 128, gocv.MatTypeCV8UC3)
	x := int(s.seq % 80)
	gocv.Rectangle(&m, image.Rect(x, 10, x+40, 60), color.RGBA{R: 230, G: 230, B: 230}, -1)
	return camera.Frame{Mat: m, Timestamp: time.Now(), Seq: s.seq}, true
}

type fakeScenes struct {
	mu     sync.Mutex
	scenes []string
}

func (f *fakeScenes) SetScene(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes = append(f.scenes, name)
}

func (f *fakeScenes) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scenes...)
}

type byteWriter struct {
	f *os.File
}

func (w *byteWriter) Write(frame gocv.Mat) error {
	_, err := w.f.Write(frame.ToBytes())
	return err
}

func (w *byteWriter) Close() error {
	return w.f.Close()
}

func byteFactory(path string, width, height, fps int) (recorder.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &byteWriter{f: f}, nil
}

// brokenWriter writes a few frames and then errors or panics, like an
// encoder dying mid-session.
type brokenWriter struct {
	byteWriter
	left  int
	panic bool
}

func (w *brokenWriter) Write(frame gocv.Mat) error {
	if w.left == 0 {
		if w.panic {
			panic("encoder crashed")
		}
		return errors.New("broken pipe")
	}
	w.left--
	return w.byteWriter.Write(frame)
}

func brokenFactory(panics bool) recorder.WriterFactory {
	return func(path string, width, height, fps int) (recorder.Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		return &brokenWriter{byteWriter: byteWriter{f: f}, left: 3, panic: panics}, nil
	}
}

// ========================================
// Setup
// ========================================

type harness struct {
	manager *Manager
	repo    *sqlite.JobRepository
	scenes  *fakeScenes
	outDir  string
}

func setupManager(t *testing.T, factory recorder.WriterFactory) *harness {
	t.Helper()
	return setupManagerWith(t, factory, nil)
}

// setupManagerWith lets a test adjust options and dependencies before the
// loop starts.
func setupManagerWith(t *testing.T, factory recorder.WriterFactory, adjust func(*Options, *Deps)) *harness {
	t.Helper()

	log, err := logger.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(log.Close)

	db, err := sqlite.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewJobRepository(db)

	outDir := t.TempDir()
	renderer := render.NewRenderer(outW, outH)
	t.Cleanup(renderer.Close)

	rec := recorder.New(recorder.Options{Dir: outDir, Width: outW, Height: outH, FPS: fps, Factory: factory}, log)
	scenes := &fakeScenes{}
	store := params.NewStore(map[string]any{params.RecordingCountdown: 1})

	opts := Options{
		FPS:             fps,
		Countdown:       1,
		DefaultDuration: 1,
		DefaultEffect:   render.EffectGlow,
		Sensitivity:     0.5,
		Fusion:          vision.DefaultFuserOptions(),
	}
	deps := Deps{
		Source:   &fakeSource{},
		Renderer: renderer,
		Recorder: rec,
		Repo:     repo,
		Params:   store,
		Scenes:   scenes,
		Post:     postprocess.New(postprocess.Options{Dir: filepath.Join(outDir, "delivery")}, log),
		Logger:   log,
	}
	if adjust != nil {
		adjust(&opts, &deps)
	}
	m := NewManager(opts, deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		m.Close()
	})

	return &harness{manager: m, repo: repo, scenes: scenes, outDir: outDir}
}

func waitForJob(t *testing.T, m *Manager, id string, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := m.JobStatus(id)
		if err != nil {
			t.Fatalf("JobStatus failed: %v", err)
		}
		if job != nil && job.Status.Terminal() && m.State() == StateIdle {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish in %v", id, timeout)
	return nil
}

func waitForState(t *testing.T, m *Manager, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Manager never reached state %s", want)
}

// ========================================
// Tests
// ========================================

func TestManager_CaptureEndToEnd(t *testing.T) {
	h := setupManager(t, byteFactory)

	job, err := h.manager.RequestCapture(1, "")
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}
	if job.Status != model.JobPending {
		t.Errorf("Expected pending job, got %s", job.Status)
	}

	done := waitForJob(t, h.manager, job.ID, 10*time.Second)
	if done.Status != model.JobDone {
		t.Fatalf("Expected done job, got %s (%s)", done.Status, done.Error)
	}

	info, err := os.Stat(done.VideoPath)
	if err != nil {
		t.Fatalf("Video missing: %v", err)
	}
	if want := int64(1 * fps * outW * outH * 3); info.Size() != want {
		t.Errorf("Expected %d bytes (duration*fps frames), got %d", want, info.Size())
	}
	if _, err := os.Stat(done.ThumbPath); err != nil {
		t.Errorf("Thumbnail missing: %v", err)
	}

	data, err := os.ReadFile(done.MetaPath)
	if err != nil {
		t.Fatalf("Metadata missing: %v", err)
	}
	var meta model.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("Invalid metadata: %v", err)
	}
	if meta.DurationS != 1 || meta.FPS != fps || meta.FilterUsed != render.EffectGlow {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
	if len(meta.CameraIDs) != 1 || meta.CameraIDs[0] != "fake0" {
		t.Errorf("Unexpected camera ids: %v", meta.CameraIDs)
	}
	if meta.Filename != filepath.Base(done.VideoPath) {
		t.Errorf("Metadata filename %s does not match %s", meta.Filename, done.VideoPath)
	}

	stored, _ := h.repo.GetByID(job.ID)
	if stored == nil || stored.Status != model.JobDone {
		t.Errorf("Expected persisted done job, got %+v", stored)
	}

	want := []string{"countdown", "recording", "finalizing", "idle"}
	got := h.scenes.list()
	if len(got) != len(want) {
		t.Fatalf("Expected scenes %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Scene %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	assertNoPartials(t, h.outDir)

	session := strings.TrimSuffix(filepath.Base(done.VideoPath), "_record.mp4")
	delivered := filepath.Join(h.outDir, "delivery", session)
	if info, err := os.Stat(filepath.Join(delivered, session+".mp4")); err != nil || info.Size() == 0 {
		t.Errorf("Expected delivered video in %s: %v", delivered, err)
	}
	var d model.Delivery
	data, err = os.ReadFile(filepath.Join(delivered, postprocess.MetadataFile))
	if err != nil {
		t.Fatalf("Delivery metadata missing: %v", err)
	}
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("Invalid delivery metadata: %v", err)
	}
	if d.SessionID != session || d.VideoPath != filepath.Join(delivered, session+".mp4") {
		t.Errorf("Unexpected delivery metadata: %+v", d)
	}
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || regexp.MustCompile(`\.part\.`).MatchString(e.Name()) {
			t.Errorf("Leftover temporary file %s", e.Name())
		}
	}
}

func TestManager_BusyWhileRecording(t *testing.T) {
	h := setupManager(t, byteFactory)

	first, err := h.manager.RequestCapture(2, "density")
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}
	waitForState(t, h.manager, StateRecording, 5*time.Second)

	if _, err := h.manager.RequestCapture(1, ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}

	jobs, _ := h.repo.List(0)
	if len(jobs) != 1 {
		t.Errorf("Busy request must not create a job, found %d", len(jobs))
	}

	done := waitForJob(t, h.manager, first.ID, 10*time.Second)
	if done.Status != model.JobDone {
		t.Errorf("Original session should complete, got %s (%s)", done.Status, done.Error)
	}
	if done.FilterUsed != render.EffectDensity {
		t.Errorf("Expected density filter, got %s", done.FilterUsed)
	}
}

func TestManager_FailedSessionReturnsToIdle(t *testing.T) {
	failing := func(path string, width, height, fps int) (recorder.Writer, error) {
		return nil, errors.New("encoder unavailable")
	}
	h := setupManager(t, failing)

	job, err := h.manager.RequestCapture(1, "")
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}

	done := waitForJob(t, h.manager, job.ID, 10*time.Second)
	if done.Status != model.JobFailed || done.Error == "" {
		t.Errorf("Expected failed job with error, got %+v", done)
	}

	scenes := h.scenes.list()
	if len(scenes) == 0 || scenes[len(scenes)-1] != "idle" {
		t.Errorf("Expected scene reset to idle, got %v", scenes)
	}

	// The slot is free again.
	if _, err := h.manager.RequestCapture(1, ""); err != nil {
		t.Errorf("Expected new capture to be accepted after failure, got %v", err)
	}
}

func TestManager_FailureMidRecordingCleansUp(t *testing.T) {
	tests := []struct {
		name   string
		panics bool
	}{
		{"write error", false},
		{"writer panic", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupManager(t, brokenFactory(tt.panics))

			job, err := h.manager.RequestCapture(1, "")
			if err != nil {
				t.Fatalf("RequestCapture failed: %v", err)
			}

			done := waitForJob(t, h.manager, job.ID, 10*time.Second)
			if done.Status != model.JobFailed || done.Error == "" {
				t.Fatalf("Expected failed job with error, got %+v", done)
			}
			if tt.panics && !strings.Contains(done.Error, "encoder crashed") {
				t.Errorf("Expected panic value in job error, got %q", done.Error)
			}

			stored, _ := h.repo.GetByID(job.ID)
			if stored == nil || stored.Status != model.JobFailed {
				t.Errorf("Expected persisted failed job, got %+v", stored)
			}

			assertNoPartials(t, h.outDir)
			entries, _ := os.ReadDir(h.outDir)
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".mp4") {
					t.Errorf("Failed session left a video behind: %s", e.Name())
				}
			}

			scenes := h.scenes.list()
			if len(scenes) == 0 || scenes[len(scenes)-1] != "idle" {
				t.Errorf("Expected scene reset to idle, got %v", scenes)
			}
			if _, err := h.manager.RequestCapture(1, ""); err != nil {
				t.Errorf("Expected the slot to be free again, got %v", err)
			}
		})
	}
}

func TestManager_ClampsDuration(t *testing.T) {
	h := setupManagerWith(t, byteFactory, func(o *Options, d *Deps) {
		o.MaxDuration = 1
	})

	job, err := h.manager.RequestCapture(3600, "")
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}
	if job.DurationS != 1 {
		t.Errorf("Expected duration clamped to 1, got %d", job.DurationS)
	}
	done := waitForJob(t, h.manager, job.ID, 10*time.Second)
	if done.Status != model.JobDone {
		t.Errorf("Expected clamped session to complete, got %s (%s)", done.Status, done.Error)
	}
}

func TestManager_UnknownJob(t *testing.T) {
	h := setupManager(t, byteFactory)

	job, err := h.manager.JobStatus("missing")
	if err != nil || job != nil {
		t.Errorf("Expected nil, nil for unknown job, got %+v, %v", job, err)
	}
}

func TestNewJobID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newJobID()
		if !re.MatchString(id) {
			t.Fatalf("Unexpected job id %q", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate job id %q", id)
		}
		seen[id] = true
	}
}
