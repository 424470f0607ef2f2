package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"booth/internal/logger"
	"booth/internal/model"
	"booth/internal/service/recorder"
)

// MetadataFile is the name of the delivery metadata inside a package.
const MetadataFile = "metadata.json"

// Options configures a Processor.
type Options struct {
	Dir         string // delivery root; one subdirectory per session
	OverlayPath string // optional image composited at the bottom center
	EncoderPath string
}

// Package describes one delivered session.
type Package struct {
	Dir      string
	Video    string
	Metadata string
	Overlaid bool
}

// Processor builds delivery packages from finished recordings.
type Processor struct {
	opts   Options
	logger *logger.Logger
}

func New(opts Options, logger *logger.Logger) *Processor {
	return &Processor{opts: opts, logger: logger}
}

// OverlayArgs builds the ffmpeg argument list that composites overlay onto
// video and writes MP4 to out.
func OverlayArgs(video, overlay, out string) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-i", video,
		"-i", overlay,
		"-filter_complex", "[0:v][1:v]overlay=(main_w-overlay_w)/2:(main_h-overlay_h)",
		"-c:a", "copy",
		"-f", "mp4",
		out,
	}
}

// Process writes <Dir>/<sessionID>/<sessionID>.mp4 and metadata.json. The
// video is the overlay composite when the overlay and encoder are both
// available, otherwise a copy of video. d.VideoPath and d.SessionID are
// filled in.
func (p *Processor) Process(ctx context.Context, video, sessionID string, d model.Delivery) (Package, error) {
	if sessionID == "" {
		return Package{}, fmt.Errorf("empty session id")
	}

	dir, err := filepath.Abs(filepath.Join(p.opts.Dir, sessionID))
	if err != nil {
		return Package{}, fmt.Errorf("failed to resolve delivery dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Package{}, fmt.Errorf("failed to create delivery dir: %w", err)
	}

	pkg := Package{
		Dir:      dir,
		Video:    filepath.Join(dir, sessionID+".mp4"),
		Metadata: filepath.Join(dir, MetadataFile),
	}

	if bin, ok := p.overlayEncoder(); ok {
		if err := overlay(ctx, bin, video, p.opts.OverlayPath, pkg.Video); err != nil {
			p.logger.Warning("Overlay for %s failed, delivering plain copy: %v", sessionID, err)
		} else {
			pkg.Overlaid = true
		}
	}
	if !pkg.Overlaid {
		if err := copyFile(video, pkg.Video); err != nil {
			return Package{}, fmt.Errorf("failed to copy video: %w", err)
		}
	}

	d.VideoPath = pkg.Video
	d.SessionID = sessionID
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return Package{}, fmt.Errorf("failed to encode delivery metadata: %w", err)
	}
	if err := recorder.WriteFileAtomic(pkg.Metadata, data); err != nil {
		return Package{}, fmt.Errorf("failed to write delivery metadata: %w", err)
	}

	p.logger.Info("Delivery package ready: %s", dir)
	return pkg, nil
}

// overlayEncoder returns the encoder binary when an overlay can be applied.
func (p *Processor) overlayEncoder() (string, bool) {
	if p.opts.OverlayPath == "" {
		return "", false
	}
	if _, err := os.Stat(p.opts.OverlayPath); err != nil {
		p.logger.Warning("Overlay %s unavailable: %v", p.opts.OverlayPath, err)
		return "", false
	}
	bin, ok := recorder.ProbeEncoder(p.opts.EncoderPath)
	if !ok {
		p.logger.Warning("Encoder %q not found, skipping overlay", p.opts.EncoderPath)
	}
	return bin, ok
}

func overlay(ctx context.Context, bin, video, img, out string) error {
	tmp := out + ".part"
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, OverlayArgs(video, img, tmp)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyFile copies src to dst through a temporary file in dst's directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
