package camera

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"booth/internal/logger"

	"gocv.io/x/gocv"
)

const (
	// InitialBackoff is the first reconnect delay after a failed open.
	InitialBackoff = 500 * time.Millisecond
	// MaxBackoff caps the reconnect delay.
	MaxBackoff = 2 * time.Second
	// readFailureDelay is the pause after a failed read before reopening.
	readFailureDelay = 100 * time.Millisecond
)

// Frame is a timestamped BGR image. Mats handed out by Source.Read are
// private copies owned by the caller.
type Frame struct {
	Mat       gocv.Mat
	Timestamp time.Time
	Seq       uint64
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() {
	f.Mat.Close()
}

// Device is an open capture handle. *gocv.VideoCapture satisfies it.
type Device interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Opener opens a device for a source using one capture API.
type Opener func(source string, api gocv.VideoCaptureAPI, width, height, fps int) (Device, error)

// Options configures a Source.
type Options struct {
	ID       string
	Source   string
	Backends []gocv.VideoCaptureAPI // tried in order; nil = platform defaults
	Width    int
	Height   int
	FPS      int
}

// Source runs an acquisition loop and keeps only the most recent frame.
type Source struct {
	opts   Options
	open   Opener
	logger *logger.Logger

	mu     sync.Mutex
	latest gocv.Mat
	stamp  time.Time
	seq    uint64
	drops  uint64
	hasNew bool

	sleep  func(ctx context.Context, d time.Duration) bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSource creates a camera source. A nil opener uses gocv.
func NewSource(opts Options, open Opener, logger *logger.Logger) *Source {
	if open == nil {
		open = OpenVideoCapture
	}
	if len(opts.Backends) == 0 {
		opts.Backends = PreferredBackends()
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.ID == "" {
		opts.ID = opts.Source
	}
	return &Source{
		opts:   opts,
		open:   open,
		logger: logger,
		latest: gocv.NewMat(),
		sleep:  sleepCtx,
	}
}

// ID identifies the camera in recording metadata.
func (s *Source) ID() string {
	return s.opts.ID
}

// Start begins acquisition in its own goroutine.
func (s *Source) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop ends acquisition and releases the device.
func (s *Source) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil

	s.clear()
}

// Read returns a copy of the latest frame, or false when none has arrived yet.
func (s *Source) Read() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest.Empty() {
		return Frame{}, false
	}
	s.hasNew = false
	return Frame{Mat: s.latest.Clone(), Timestamp: s.stamp, Seq: s.seq}, true
}

// Dropped reports how many frames were overwritten before anyone read them.
func (s *Source) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

func (s *Source) loop(ctx context.Context) {
	defer close(s.done)

	var dev Device
	defer func() {
		if dev != nil {
			dev.Close()
		}
	}()

	backoff := InitialBackoff
	interval := time.Second / time.Duration(s.opts.FPS)
	buf := gocv.NewMat()
	defer buf.Close()

	for ctx.Err() == nil {
		if dev == nil {
			d, err := s.openDevice()
			if err != nil {
				s.logger.Warning("Camera %s unavailable, retrying in %v: %v", s.opts.ID, backoff, err)
				if !s.sleep(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff)
				continue
			}
			dev = d
			backoff = InitialBackoff
			s.logger.Info("Camera %s opened", s.opts.ID)
		}

		if !dev.Read(&buf) || buf.Empty() {
			s.logger.Warning("Camera %s read failed, reconnecting", s.opts.ID)
			dev.Close()
			dev = nil
			s.clear()
			if !s.sleep(ctx, readFailureDelay) {
				return
			}
			continue
		}

		if err := s.publish(buf); err != nil {
			s.logger.Warning("Camera %s frame dropped: %v", s.opts.ID, err)
		}

		if wait := interval - time.Millisecond; wait > 0 {
			if !s.sleep(ctx, wait) {
				return
			}
		}
	}
}

// publish overwrites the single latest-frame slot.
func (s *Source) publish(m gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasNew {
		s.drops++
	}
	if err := m.CopyTo(&s.latest); err != nil {
		return fmt.Errorf("failed to store frame: %w", err)
	}
	s.stamp = time.Now()
	s.seq++
	s.hasNew = true
	return nil
}

// clear empties the slot so readers see "no frame" while the device is gone.
func (s *Source) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest.Close()
	s.latest = gocv.NewMat()
	s.hasNew = false
}

// openDevice tries each configured backend in order.
func (s *Source) openDevice() (Device, error) {
	var lastErr error
	for _, api := range s.opts.Backends {
		dev, err := s.open(s.opts.Source, api, s.opts.Width, s.opts.Height, s.opts.FPS)
		if err == nil {
			return dev, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no backend could open %q: %w", s.opts.Source, lastErr)
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 3 / 2
	if next > MaxBackoff {
		return MaxBackoff
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// OpenVideoCapture opens a gocv capture device. Numeric sources are device indexes.
func OpenVideoCapture(source string, api gocv.VideoCaptureAPI, width, height, fps int) (Device, error) {
	var device interface{} = source
	if idx, err := strconv.Atoi(source); err == nil {
		device = idx
	}

	vc, err := gocv.OpenVideoCaptureWithAPI(device, api)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("device %q did not open with api %d", source, api)
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(fps))
	}
	return vc, nil
}
