package recorder

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Writer consumes BGR frames of a fixed size and produces a video file.
type Writer interface {
	Write(frame gocv.Mat) error
	Close() error
}

// WriterFactory opens a Writer that encodes to path.
type WriterFactory func(path string, width, height, fps int) (Writer, error)

// FFmpegArgs builds the encoder command line for a raw BGR stdin stream.
func FFmpegArgs(path string, width, height, fps int) []string {
	return []string{
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-an",
		"-vcodec", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-crf", "20",
		"-f", "mp4",
		path,
	}
}

// FFmpegFactory returns a factory that pipes frames into the binary at bin.
func FFmpegFactory(bin string) WriterFactory {
	return func(path string, width, height, fps int) (Writer, error) {
		return newFFmpegWriter(bin, path, width, height, fps)
	}
}

type ffmpegWriter struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *tailBuffer
	frameSize int
}

func newFFmpegWriter(bin, path string, width, height, fps int) (*ffmpegWriter, error) {
	cmd := exec.Command(bin, FFmpegArgs(path, width, height, fps)...)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	return &ffmpegWriter{
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		frameSize: width * height * 3,
	}, nil
}

func (w *ffmpegWriter) Write(frame gocv.Mat) error {
	data := frame.ToBytes()
	if len(data) != w.frameSize {
		return fmt.Errorf("frame is %d bytes, encoder expects %d", len(data), w.frameSize)
	}
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to encoder: %w: %s", err, w.stderr.String())
	}
	return nil
}

func (w *ffmpegWriter) Close() error {
	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder exited: %w: %s", err, w.stderr.String())
	}
	return nil
}

// VideoWriterFactory encodes in-process with OpenCV using the mp4v codec.
func VideoWriterFactory(path string, width, height, fps int) (Writer, error) {
	vw, err := gocv.VideoWriterFile(path, "mp4v", float64(fps), width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer: %w", err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer did not open %s", path)
	}
	return &videoWriter{vw: vw}, nil
}

type videoWriter struct {
	vw *gocv.VideoWriter
}

func (w *videoWriter) Write(frame gocv.Mat) error {
	return w.vw.Write(frame)
}

func (w *videoWriter) Close() error {
	return w.vw.Close()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
