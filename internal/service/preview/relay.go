package preview

import (
	"context"
	"sync"

	"booth/internal/logger"

	"gocv.io/x/gocv"
)

// jpegQuality trades preview bandwidth against sharpness.
const jpegQuality = 80

// Sink receives encoded preview frames.
type Sink func(jpeg []byte)

// Relay decouples the processing loop from preview consumers with a single
// most-recent-wins slot. Publish never blocks; frames not yet consumed are
// overwritten and counted as dropped.
type Relay struct {
	sink   Sink
	logger *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending gocv.Mat
	hasNew  bool
	closed  bool
	drops   uint64
	latest  []byte
}

// NewRelay creates a relay delivering JPEG frames to sink.
func NewRelay(sink Sink, logger *logger.Logger) *Relay {
	r := &Relay{sink: sink, logger: logger, pending: gocv.NewMat()}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Publish copies frame into the slot.
func (r *Relay) Publish(frame gocv.Mat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.hasNew {
		r.drops++
	}
	if err := frame.CopyTo(&r.pending); err != nil {
		r.logger.Warning("Preview frame dropped: %v", err)
		return
	}
	r.hasNew = true
	r.cond.Signal()
}

// Dropped reports how many frames were overwritten before encoding.
func (r *Relay) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// Latest returns the most recently encoded JPEG, or nil.
func (r *Relay) Latest() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Run encodes and delivers frames until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.closed = true
		r.cond.Broadcast()
		r.mu.Unlock()
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		r.mu.Lock()
		for !r.hasNew && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			r.pending.Close()
			r.mu.Unlock()
			return
		}
		err := r.pending.CopyTo(&frame)
		r.hasNew = false
		r.mu.Unlock()
		if err != nil {
			r.logger.Warning("Preview frame dropped: %v", err)
			continue
		}

		data, err := encodeJPEG(frame)
		if err != nil {
			r.logger.Warning("Preview encode failed: %v", err)
			continue
		}

		r.mu.Lock()
		r.latest = data
		r.mu.Unlock()

		if r.sink != nil {
			r.sink(data)
		}
	}
}

func encodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
