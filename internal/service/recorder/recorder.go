package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"booth/internal/logger"
	"booth/internal/model"

	"gocv.io/x/gocv"
)

const (
	// ThumbWidth and ThumbHeight are the fixed thumbnail dimensions.
	ThumbWidth  = 300
	ThumbHeight = 169

	// TimestampLayout prefixes every output file name.
	TimestampLayout = "20060102_150405"
)

var (
	ErrNotRecording     = errors.New("recorder is not recording")
	ErrAlreadyRecording = errors.New("recorder is already recording")
)

// Options configures a Recorder.
type Options struct {
	Dir         string
	EncoderPath string
	Width       int
	Height      int
	FPS         int
	// Factory overrides encoder probing when set.
	Factory WriterFactory
	// Fallback is used when the encoder is unavailable; nil means VideoWriterFactory.
	Fallback WriterFactory
}

// Paths are the final locations of one session's outputs.
type Paths struct {
	Base  string
	Video string
	Thumb string
	Meta  string
}

// PathsFor derives the output layout for a job started at t.
func PathsFor(dir, jobID string, t time.Time) Paths {
	base := filepath.Join(dir, fmt.Sprintf("%s_%s", t.UTC().Format(TimestampLayout), jobID))
	return Paths{
		Base:  base,
		Video: base + "_record.mp4",
		Thumb: base + "_thumb.jpg",
		Meta:  base + ".json",
	}
}

// Recorder streams frames for one session at a time and publishes the
// result under its final name only once it is complete.
type Recorder struct {
	opts   Options
	logger *logger.Logger

	mu     sync.Mutex
	writer Writer
	paths  Paths
	tmp    string
	frames int
}

// New creates a recorder writing into opts.Dir.
func New(opts Options, logger *logger.Logger) *Recorder {
	return &Recorder{opts: opts, logger: logger}
}

// Start opens a writer on a temporary path and returns the final paths.
func (r *Recorder) Start(jobID string, startedAt time.Time) (Paths, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer != nil {
		return Paths{}, ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.opts.Dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := PathsFor(r.opts.Dir, jobID, startedAt)
	tmp := paths.Base + "_record.part.mp4"

	w, err := r.openWriter(tmp)
	if err != nil {
		os.Remove(tmp)
		return Paths{}, err
	}

	r.writer = w
	r.paths = paths
	r.tmp = tmp
	r.frames = 0
	return paths, nil
}

// openWriter prefers the external encoder and falls back to OpenCV.
func (r *Recorder) openWriter(path string) (Writer, error) {
	w, h, fps := r.opts.Width, r.opts.Height, r.opts.FPS

	if r.opts.Factory != nil {
		return r.opts.Factory(path, w, h, fps)
	}

	if bin, ok := ProbeEncoder(r.opts.EncoderPath); ok {
		enc, err := FFmpegFactory(bin)(path, w, h, fps)
		if err == nil {
			return enc, nil
		}
		r.logger.Warning("Encoder %s failed to start, using fallback writer: %v", bin, err)
	} else {
		r.logger.Warning("Encoder %q not found, using fallback writer", r.opts.EncoderPath)
	}

	fallback := r.opts.Fallback
	if fallback == nil {
		fallback = VideoWriterFactory
	}
	return fallback(path, w, h, fps)
}

// ProbeEncoder resolves the encoder binary. It reports false when bin is
// empty or not an executable on PATH.
func ProbeEncoder(bin string) (string, bool) {
	if bin == "" {
		return "", false
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", false
	}
	return path, true
}

// Write appends one frame, resizing it to the output size when needed.
func (r *Recorder) Write(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return ErrNotRecording
	}

	if frame.Cols() != r.opts.Width || frame.Rows() != r.opts.Height {
		sized := gocv.NewMat()
		defer sized.Close()
		if err := gocv.Resize(frame, &sized, image.Pt(r.opts.Width, r.opts.Height), 0, 0, gocv.InterpolationLinear); err != nil {
			return fmt.Errorf("failed to resize frame: %w", err)
		}
		frame = sized
	}

	if err := r.writer.Write(frame); err != nil {
		return err
	}
	r.frames++
	return nil
}

// Frames returns the number of frames written in the current session.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Recording reports whether a session is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer != nil
}

// Stop finalizes the encoder and renames the temporary file into place.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return "", ErrNotRecording
	}

	w, tmp, final := r.writer, r.tmp, r.paths.Video
	r.writer = nil
	r.tmp = ""

	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize recording: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish recording: %w", err)
	}

	r.logger.Info("Recording saved: %s (%d frames)", final, r.frames)
	return final, nil
}

// Abort closes the writer and deletes the temporary file. It is a no-op
// when nothing is recording.
func (r *Recorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return
	}
	if err := r.writer.Close(); err != nil {
		r.logger.Warning("Closing aborted recording: %v", err)
	}
	if err := os.Remove(r.tmp); err != nil && !os.IsNotExist(err) {
		r.logger.Warning("Failed to remove %s: %v", r.tmp, err)
	}
	r.writer = nil
	r.tmp = ""
}

// ExportSidecars writes the thumbnail from frame and the metadata JSON.
// Each file is written to a temporary name and renamed into place.
func ExportSidecars(paths Paths, meta model.Metadata, frame gocv.Mat) error {
	if err := writeThumbnail(paths.Thumb, frame); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := WriteFileAtomic(paths.Meta, data); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func writeThumbnail(path string, frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("no frame for thumbnail")
	}

	thumb := gocv.NewMat()
	defer thumb.Close()
	if err := gocv.Resize(frame, &thumb, image.Pt(ThumbWidth, ThumbHeight), 0, 0, gocv.InterpolationArea); err != nil {
		return fmt.Errorf("failed to resize thumbnail: %w", err)
	}

	buf, err := gocv.IMEncode(".jpg", thumb)
	if err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to path.tmp and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
