package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"booth/internal/model"
	"booth/internal/service/params"
	"booth/internal/service/recorder"

	"gocv.io/x/gocv"
)

// noFrameGrace is how long a recording may go past its duration without a
// single camera frame before it is failed.
const noFrameGrace = 5 * time.Second

// runSession executes countdown, recording and finalization for one job.
// Whatever happens, the manager leaves it idle with the slot released.
func (m *Manager) runSession(ctx context.Context, req sessionRequest, ticker *time.Ticker) {
	job := req.job

	defer func() {
		if r := recover(); r != nil {
			m.failSession(job, fmt.Errorf("session panic: %v", r))
		}
		m.setState(StateIdle)
		m.release()
	}()

	if err := m.session(ctx, job, req.countdown, ticker); err != nil {
		m.failSession(job, err)
		return
	}
	m.deps.Logger.Info("Capture %s done: %s", job.ID, job.VideoPath)
}

func (m *Manager) failSession(job *model.Job, err error) {
	m.deps.Recorder.Abort()
	m.deps.Logger.Error("Capture %s failed: %v", job.ID, err)
	m.transition(job, model.JobFailed, func(j *model.Job) {
		j.Error = err.Error()
	})
}

func (m *Manager) session(ctx context.Context, job *model.Job, countdown int, ticker *time.Ticker) error {
	intensity := m.deps.Params.Float(params.EffectIntensity, m.opts.Intensity)

	m.setState(StateCountdown)
	if err := m.countdown(ctx, countdown, job.FilterUsed, intensity, ticker); err != nil {
		return err
	}

	paths, err := m.deps.Recorder.Start(job.ID, job.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	m.transition(job, model.JobRecording, nil)
	m.setState(StateRecording)

	result, err := m.record(ctx, job, intensity, ticker)
	if err != nil {
		return err
	}
	defer result.thumb.Close()

	m.setState(StateFinalizing)
	video, err := m.deps.Recorder.Stop()
	if err != nil {
		return err
	}

	personCount := 0
	if result.personSeen {
		personCount = 1
	}
	meta := model.Metadata{
		Filename:     filepath.Base(video),
		TimestampUTC: job.StartedAt.UTC().Format(time.RFC3339),
		DurationS:    job.DurationS,
		FPS:          m.opts.FPS,
		CameraIDs:    []string{m.deps.Source.ID()},
		PersonCount:  personCount,
		FilterUsed:   job.FilterUsed,
	}
	if err := recorder.ExportSidecars(paths, meta, result.thumb); err != nil {
		return fmt.Errorf("failed to export sidecars: %w", err)
	}
	m.deliver(ctx, video, filepath.Base(paths.Base), meta)

	m.transition(job, model.JobDone, func(j *model.Job) {
		j.VideoPath = video
		j.ThumbPath = paths.Thumb
		j.MetaPath = paths.Meta
		j.PersonCount = personCount
	})
	return nil
}

// deliver builds the hand-off package for the external sender. A failure
// leaves the recording itself intact and does not fail the job.
func (m *Manager) deliver(ctx context.Context, video, sessionID string, meta model.Metadata) {
	if m.deps.Post == nil {
		return
	}
	d := model.Delivery{
		TemplateID:  m.deps.Params.String(params.TemplateID, ""),
		EventName:   m.deps.Params.String(params.EventName, ""),
		Description: m.deps.Params.String(params.Description, ""),
	}
	if _, err := m.deps.Post.Process(ctx, video, sessionID, d); err != nil {
		m.deps.Logger.Warning("Delivery for %s failed: %v", meta.Filename, err)
	}
}

// countdown shows the live preview with a seconds overlay.
func (m *Manager) countdown(ctx context.Context, seconds int, effect string, intensity float64, ticker *time.Ticker) error {
	for remaining := seconds; remaining > 0; remaining-- {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if err := waitTick(ctx, ticker); err != nil {
				return err
			}
			composed, _, ok := m.processFrame(effect, intensity)
			if !ok {
				continue
			}
			if err := m.deps.Renderer.Countdown(&composed, remaining); err != nil {
				m.deps.Logger.Warning("Countdown overlay failed: %v", err)
			}
			m.publish(composed)
			composed.Close()
		}
	}
	return nil
}

type recording struct {
	thumb      gocv.Mat
	personSeen bool
}

// record writes exactly duration*fps frames at a constant cadence. When the
// camera is slower than the output rate the last composited frame repeats.
func (m *Manager) record(ctx context.Context, job *model.Job, intensity float64, ticker *time.Ticker) (recording, error) {
	fps := m.opts.FPS
	total := job.DurationS * fps
	midpoint := total / 2
	duration := time.Duration(job.DurationS) * time.Second

	last := gocv.NewMat()
	defer last.Close()
	thumb := gocv.NewMat()
	personSeen := false

	start := time.Now()
	written := 0
	for written < total {
		if err := waitTick(ctx, ticker); err != nil {
			thumb.Close()
			return recording{}, err
		}

		if composed, person, ok := m.processFrame(job.FilterUsed, intensity); ok {
			if err := composed.CopyTo(&last); err != nil {
				composed.Close()
				thumb.Close()
				return recording{}, fmt.Errorf("failed to keep composited frame: %w", err)
			}
			personSeen = personSeen || person
			if err := m.deps.Renderer.RecordingBadge(&composed); err != nil {
				m.deps.Logger.Warning("Recording badge failed: %v", err)
			}
			m.publish(composed)
			composed.Close()
		}

		elapsed := time.Since(start)
		if last.Empty() {
			if elapsed > duration+noFrameGrace {
				thumb.Close()
				return recording{}, fmt.Errorf("no camera frames for %v", elapsed.Round(time.Second))
			}
			continue
		}

		due := int(elapsed.Seconds()*float64(fps)) + 1
		if due > total {
			due = total
		}
		for ; written < due; written++ {
			if err := m.deps.Recorder.Write(last); err != nil {
				thumb.Close()
				return recording{}, fmt.Errorf("failed to write frame %d: %w", written, err)
			}
			if written == midpoint {
				if err := last.CopyTo(&thumb); err != nil {
					m.deps.Logger.Warning("Failed to keep thumbnail frame: %v", err)
				}
			}
		}
	}

	if thumb.Empty() {
		if err := last.CopyTo(&thumb); err != nil {
			thumb.Close()
			return recording{}, fmt.Errorf("failed to keep thumbnail frame: %w", err)
		}
	}
	return recording{thumb: thumb, personSeen: personSeen}, nil
}

func waitTick(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
		return nil
	}
}
