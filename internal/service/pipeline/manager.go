package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"booth/internal/logger"
	"booth/internal/model"
	"booth/internal/repository"
	"booth/internal/service/camera"
	"booth/internal/service/params"
	"booth/internal/service/postprocess"
	"booth/internal/service/recorder"
	"booth/internal/service/render"
	"booth/internal/service/vision"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// State is the session state, also used as the on-screen scene name.
type State string

const (
	StateIdle       State = "idle"
	StateCountdown  State = "countdown"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

// ErrBusy is returned when a capture is requested during an active session.
var ErrBusy = errors.New("a session is already active")

// FrameSource supplies the latest camera frame. *camera.Source satisfies it.
type FrameSource interface {
	ID() string
	Read() (camera.Frame, bool)
}

// SceneSwitcher is told about on-screen scene changes.
type SceneSwitcher interface {
	SetScene(name string)
}

// JobListener is told about job status changes.
type JobListener interface {
	JobUpdate(status any)
}

// PreviewSink receives composited frames. It must not block.
type PreviewSink interface {
	Publish(frame gocv.Mat)
}

// Options configures a Manager.
type Options struct {
	FPS             int
	Countdown       int // seconds
	DefaultDuration int // seconds
	MaxDuration     int // seconds; longer requests are clamped, 0 means no limit
	DefaultEffect   string
	Intensity       float64
	Sensitivity     float64
	Fusion          vision.FuserOptions
}

// Deps are the collaborators of a Manager. Scenes, Jobs, Preview and Post
// are optional.
type Deps struct {
	Source   FrameSource
	Renderer *render.Renderer
	Recorder *recorder.Recorder
	Repo     repository.JobRepository
	Params   *params.Store
	Scenes   SceneSwitcher
	Jobs     JobListener
	Preview  PreviewSink
	Post     *postprocess.Processor
	Logger   *logger.Logger
}

type sessionRequest struct {
	job       *model.Job
	countdown int
}

// Manager owns the processing stages, runs the continuous preview loop and
// executes countdown-plus-record sessions one at a time.
type Manager struct {
	opts Options
	deps Deps

	// Processing stages; touched only by the Run goroutine.
	segmenter   *vision.Segmenter
	fuser       *vision.Fuser
	tracker     *vision.Tracker
	sensitivity float64
	lastSeq     uint64

	mu     sync.Mutex
	active bool
	state  State

	jobsMu sync.Mutex
	jobs   map[string]*model.Job

	requests chan sessionRequest
	frames   atomic.Uint64
}

// NewManager creates a manager with fresh vision state.
func NewManager(opts Options, deps Deps) *Manager {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 10
	}
	if opts.DefaultEffect == "" {
		opts.DefaultEffect = render.EffectGlow
	}
	if opts.Intensity <= 0 {
		opts.Intensity = 1.0
	}

	return &Manager{
		opts:        opts,
		deps:        deps,
		segmenter:   vision.NewSegmenter(vision.DefaultHistory, vision.VarThresholdFor(opts.Sensitivity)),
		fuser:       vision.NewFuser(opts.Fusion),
		tracker:     vision.NewTracker(opts.Fusion.PersistenceFrames),
		sensitivity: opts.Sensitivity,
		state:       StateIdle,
		jobs:        make(map[string]*model.Job),
		requests:    make(chan sessionRequest, 1),
	}
}

// Close releases the vision stages. Call after Run has returned.
func (m *Manager) Close() {
	m.segmenter.Close()
	m.fuser.Close()
	m.tracker.Close()
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Frames returns how many frames the loop has processed.
func (m *Manager) Frames() uint64 {
	return m.frames.Load()
}

// RequestCapture reserves the single session slot and queues a session.
// durationS <= 0 and an empty filter fall back to the runtime parameters.
// It returns ErrBusy, without creating a job, when a session is active.
func (m *Manager) RequestCapture(durationS int, filter string) (model.Job, error) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return model.Job{}, ErrBusy
	}
	m.active = true
	m.mu.Unlock()

	if durationS <= 0 {
		durationS = m.deps.Params.Int(params.RecordingDuration, m.opts.DefaultDuration)
	}
	if durationS <= 0 {
		durationS = m.opts.DefaultDuration
	}
	if m.opts.MaxDuration > 0 && durationS > m.opts.MaxDuration {
		m.deps.Logger.Warning("Requested duration %ds clamped to %ds", durationS, m.opts.MaxDuration)
		durationS = m.opts.MaxDuration
	}
	if filter == "" {
		filter = m.deps.Params.String(params.EffectType, m.opts.DefaultEffect)
	}

	job := &model.Job{
		ID:         newJobID(),
		Status:     model.JobPending,
		StartedAt:  time.Now().UTC(),
		DurationS:  durationS,
		FilterUsed: render.NormalizeEffect(filter),
	}
	m.putJob(job)

	m.requests <- sessionRequest{
		job:       job,
		countdown: m.deps.Params.Int(params.RecordingCountdown, m.opts.Countdown),
	}
	m.deps.Logger.Info("Capture %s accepted: %ds, filter %s", job.ID, durationS, job.FilterUsed)
	return *job, nil
}

// JobStatus returns a job from this run or, failing that, the repository.
// It returns nil, nil for unknown IDs.
func (m *Manager) JobStatus(id string) (*model.Job, error) {
	m.jobsMu.Lock()
	if job, ok := m.jobs[id]; ok {
		cp := *job
		m.jobsMu.Unlock()
		return &cp, nil
	}
	m.jobsMu.Unlock()

	if m.deps.Repo == nil {
		return nil, nil
	}
	return m.deps.Repo.GetByID(id)
}

// Run drives preview frames and sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	m.deps.Logger.Info("Processing loop started at %d fps", m.opts.FPS)
	for {
		select {
		case <-ctx.Done():
			m.deps.Logger.Info("Processing loop stopped")
			return
		case req := <-m.requests:
			m.runSession(ctx, req, ticker)
		case <-ticker.C:
			m.previewStep()
		}
	}
}

func (m *Manager) interval() time.Duration {
	return time.Second / time.Duration(m.opts.FPS)
}

// previewStep renders one idle frame with the live effect parameters.
func (m *Manager) previewStep() {
	m.refreshSensitivity()

	composed, _, ok := m.processFrame(m.liveEffect())
	if !ok {
		return
	}
	defer composed.Close()
	m.publish(composed)
}

func (m *Manager) liveEffect() (string, float64) {
	return m.deps.Params.String(params.EffectType, m.opts.DefaultEffect),
		m.deps.Params.Float(params.EffectIntensity, m.opts.Intensity)
}

// refreshSensitivity rebuilds the background model when the detection
// sensitivity parameter changed. Only called between sessions.
func (m *Manager) refreshSensitivity() {
	s := m.deps.Params.Float(params.DetectionSensitivity, m.sensitivity)
	if s == m.sensitivity {
		return
	}
	m.segmenter.Close()
	m.segmenter = vision.NewSegmenter(vision.DefaultHistory, vision.VarThresholdFor(s))
	m.sensitivity = s
	m.deps.Logger.Info("Detection sensitivity changed to %.2f", s)
}

// processFrame runs one new camera frame through every stage. It returns
// the composited frame (owned by the caller), whether a subject is tracked,
// and false when there was no new frame to process.
func (m *Manager) processFrame(effect string, intensity float64) (gocv.Mat, bool, bool) {
	frame, ok := m.deps.Source.Read()
	if !ok {
		return gocv.Mat{}, false, false
	}
	defer frame.Close()

	if frame.Seq == m.lastSeq {
		return gocv.Mat{}, false, false
	}
	m.lastSeq = frame.Seq

	det, err := m.segmenter.Apply(frame.Mat)
	if err != nil {
		m.deps.Logger.Warning("Segmentation failed: %v", err)
		return gocv.Mat{}, false, false
	}
	defer det.Close()

	fused, err := m.fuser.Fuse(frame.Mat, det)
	if err != nil {
		m.deps.Logger.Warning("Fusion failed: %v", err)
		return gocv.Mat{}, false, false
	}
	defer fused.Close()

	tracked, err := m.tracker.Update(fused)
	if err != nil {
		m.deps.Logger.Warning("Tracking failed: %v", err)
		return gocv.Mat{}, false, false
	}
	defer tracked.Close()

	composed, err := m.deps.Renderer.Compose(frame.Mat, tracked, effect, intensity)
	if err != nil {
		m.deps.Logger.Warning("Compositing failed: %v", err)
		return gocv.Mat{}, false, false
	}
	m.frames.Add(1)
	return composed, gocv.CountNonZero(tracked) > 0, true
}

func (m *Manager) publish(frame gocv.Mat) {
	if m.deps.Preview != nil {
		m.deps.Preview.Publish(frame)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	if m.deps.Scenes != nil {
		m.deps.Scenes.SetScene(string(s))
	}
}

// release frees the session slot.
func (m *Manager) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

func (m *Manager) putJob(job *model.Job) {
	m.jobsMu.Lock()
	m.jobs[job.ID] = job
	cp := *job
	m.jobsMu.Unlock()

	m.persist(cp)
}

// updateJob applies fn under the jobs lock, persists and announces the job.
func (m *Manager) updateJob(job *model.Job, fn func(j *model.Job)) {
	m.jobsMu.Lock()
	fn(job)
	cp := *job
	m.jobsMu.Unlock()

	m.persist(cp)
}

func (m *Manager) persist(job model.Job) {
	if m.deps.Repo != nil {
		if err := m.deps.Repo.Save(&job); err != nil {
			m.deps.Logger.Error("Failed to save job %s: %v", job.ID, err)
		}
	}
	if m.deps.Jobs != nil {
		m.deps.Jobs.JobUpdate(job)
	}
}

// transition moves job to next if the lifecycle allows it.
func (m *Manager) transition(job *model.Job, next model.JobStatus, fn func(j *model.Job)) {
	m.updateJob(job, func(j *model.Job) {
		if !j.Status.CanTransition(next) {
			m.deps.Logger.Warning("Job %s: ignoring transition %s -> %s", j.ID, j.Status, next)
			return
		}
		j.Status = next
		if fn != nil {
			fn(j)
		}
	})
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
