package recorder

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"booth/internal/logger"
	"booth/internal/model"

	"gocv.io/x/gocv"
)

// fileWriter appends raw frame bytes to path so tests can watch the file grow.
type fileWriter struct {
	f        *os.File
	closeErr error
}

func (w *fileWriter) Write(frame gocv.Mat) error {
	_, err := w.f.Write(frame.ToBytes())
	return err
}

func (w *fileWriter) Close() error {
	w.f.Close()
	return w.closeErr
}

func newTestRecorder(t *testing.T, factory WriterFactory) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := logger.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(l.Close)

	return New(Options{Dir: dir, Width: 32, Height: 18, FPS: 10, Factory: factory}, l), dir
}

func fileFactory(opened *[]string) WriterFactory {
	return func(path string, width, height, fps int) (Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		if opened != nil {
			*opened = append(*opened, path)
		}
		return &fileWriter{f: f}, nil
	}
}

func solidFrame(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestPathsFor(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	p := PathsFor("/out", "abc123", at)

	if p.Video != filepath.Join("/out", "20240309_140507_abc123_record.mp4") {
		t.Errorf("Unexpected video path: %s", p.Video)
	}
	if p.Thumb != filepath.Join("/out", "20240309_140507_abc123_thumb.jpg") {
		t.Errorf("Unexpected thumb path: %s", p.Thumb)
	}
	if p.Meta != filepath.Join("/out", "20240309_140507_abc123.json") {
		t.Errorf("Unexpected meta path: %s", p.Meta)
	}
}

func TestRecorder_FinalPathAppearsOnlyAfterStop(t *testing.T) {
	var opened []string
	rec, _ := newTestRecorder(t, fileFactory(&opened))

	paths, err := rec.Start("job1", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(opened) != 1 || opened[0] == paths.Video {
		t.Fatalf("Expected writer on a temporary path, got %v", opened)
	}

	frame := solidFrame(32, 18)
	defer frame.Close()
	for i := 0; i < 5; i++ {
		if err := rec.Write(frame); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if _, err := os.Stat(paths.Video); !os.IsNotExist(err) {
			t.Fatalf("Final path visible mid-write after frame %d", i)
		}
	}

	final, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if final != paths.Video {
		t.Errorf("Expected %s, got %s", paths.Video, final)
	}

	info, err := os.Stat(final)
	if err != nil {
		t.Fatalf("Final file missing: %v", err)
	}
	if want := int64(5 * 32 * 18 * 3); info.Size() != want {
		t.Errorf("Expected %d bytes, got %d", want, info.Size())
	}
	if _, err := os.Stat(opened[0]); !os.IsNotExist(err) {
		t.Error("Expected temporary file to be gone after Stop")
	}
	if rec.Frames() != 5 {
		t.Errorf("Expected 5 frames, got %d", rec.Frames())
	}
}

func TestRecorder_ResizesFrames(t *testing.T) {
	rec, _ := newTestRecorder(t, fileFactory(nil))
	if _, err := rec.Start("job2", time.Now()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	big := solidFrame(64, 36)
	defer big.Close()
	if err := rec.Write(big); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	final, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	info, _ := os.Stat(final)
	if info.Size() != 32*18*3 {
		t.Errorf("Expected one resized frame, got %d bytes", info.Size())
	}
}

func TestRecorder_FailedCloseLeavesNoFile(t *testing.T) {
	var opened []string
	factory := func(path string, width, height, fps int) (Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		opened = append(opened, path)
		return &fileWriter{f: f, closeErr: errors.New("encoder crashed")}, nil
	}
	rec, _ := newTestRecorder(t, factory)

	paths, err := rec.Start("job3", time.Now())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := rec.Stop(); err == nil {
		t.Fatal("Expected Stop to report encoder failure")
	}
	if _, err := os.Stat(paths.Video); !os.IsNotExist(err) {
		t.Error("Final path must not exist after a failed finalize")
	}
	if _, err := os.Stat(opened[0]); !os.IsNotExist(err) {
		t.Error("Temporary file must be cleaned up")
	}
}

func TestRecorder_AbortRemovesTemp(t *testing.T) {
	var opened []string
	rec, dir := newTestRecorder(t, fileFactory(&opened))

	if _, err := rec.Start("job4", time.Now()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frame := solidFrame(32, 18)
	defer frame.Close()
	rec.Write(frame)
	rec.Abort()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected empty output dir after abort, got %d entries", len(entries))
	}
	if rec.Recording() {
		t.Error("Expected recorder to be idle after abort")
	}
	rec.Abort()
}

func TestRecorder_StateErrors(t *testing.T) {
	rec, _ := newTestRecorder(t, fileFactory(nil))

	frame := solidFrame(32, 18)
	defer frame.Close()
	if err := rec.Write(frame); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}

	if _, err := rec.Start("job5", time.Now()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer rec.Abort()
	if _, err := rec.Start("job6", time.Now()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
}

func TestExportSidecars_ThumbnailSizeAndMetadata(t *testing.T) {
	dir := t.TempDir()
	paths := PathsFor(dir, "abc123", time.Now())

	for _, size := range [][2]int{{1920, 1080}, {640, 480}, {100, 400}} {
		frame := solidFrame(size[0], size[1])
		meta := model.Metadata{
			Filename:     filepath.Base(paths.Video),
			TimestampUTC: "2024-03-09T14:05:07Z",
			DurationS:    5,
			FPS:          30,
			CameraIDs:    []string{"0"},
			PersonCount:  1,
			FilterUsed:   "glow",
		}
		if err := ExportSidecars(paths, meta, frame); err != nil {
			t.Fatalf("ExportSidecars failed: %v", err)
		}
		frame.Close()

		thumb := gocv.IMRead(paths.Thumb, gocv.IMReadColor)
		if thumb.Cols() != ThumbWidth || thumb.Rows() != ThumbHeight {
			t.Errorf("%dx%d input: expected %dx%d thumbnail, got %dx%d",
				size[0], size[1], ThumbWidth, ThumbHeight, thumb.Cols(), thumb.Rows())
		}
		thumb.Close()
	}

	data, err := os.ReadFile(paths.Meta)
	if err != nil {
		t.Fatalf("Failed to read metadata: %v", err)
	}
	var got model.Metadata
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Invalid metadata JSON: %v", err)
	}
	if got.DurationS != 5 || got.FilterUsed != "glow" || got.PersonCount != 1 {
		t.Errorf("Unexpected metadata: %+v", got)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("Leftover temporary file %s", e.Name())
		}
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(FFmpegArgs("/tmp/out.part.mp4", 1280, 720, 30), " ")
	for _, want := range []string{
		"-f rawvideo", "-pix_fmt bgr24", "-s 1280x720", "-r 30", "-i -",
		"-vcodec libx264", "-pix_fmt yuv420p", "-preset veryfast", "-crf 20",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected %q in %q", want, args)
		}
	}
	if !strings.HasSuffix(args, "-f mp4 /tmp/out.part.mp4") {
		t.Errorf("Expected explicit mp4 muxer before output path: %q", args)
	}
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("0123456789"))
	b.Write([]byte("ab"))
	if got := b.String(); got != "456789ab" {
		t.Errorf("Expected tail %q, got %q", "456789ab", got)
	}
}
