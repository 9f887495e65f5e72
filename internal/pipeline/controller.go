// Package pipeline runs the recognition loop: a single worker goroutine that
// reads camera frames, recognises faces and records attendance, controlled by
// a small IDLE → RUNNING → STOPPING → IDLE state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/capture"
	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/recognition"
	"github.com/starford/rollcall/internal/registry"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// Stop reasons.
const (
	ReasonStopped       = "stopped"
	ReasonOperator      = "operator-cancel"
	ReasonDeviceFailure = "device-failure"
	ReasonPanic         = "panic"
)

// Notifier receives pipeline events. The SSE broker implements it.
type Notifier interface {
	PipelineState(state, sessionID, reason string)
	AttendanceRecorded(label string, ts time.Time, sessionID string)
	FacesDetected(results []models.FaceResult)
}

// Sessions records session lifecycles in the attendance index.
type Sessions interface {
	OpenSession(id string, startedAt time.Time) error
	CloseSession(id, reason string, stoppedAt time.Time) error
}

// RecorderFactory returns the attendance recorder for one session.
type RecorderFactory func(sessionID string) recognition.Recorder

// Deps are the collaborators of a Controller. Sessions and Notifier are optional.
type Deps struct {
	Registry  registry.Store
	Images    recognition.ImageSource
	Engine    engine.Engine
	Source    capture.Source
	Surfaces  capture.SurfaceFactory
	Processor *recognition.Processor
	Recorders RecorderFactory
	Sessions  Sessions
	Notifier  Notifier
	Logger    *slog.Logger
}

// Config tunes the worker loop.
type Config struct {
	// ReadTimeout bounds a single device read. Zero waits indefinitely.
	ReadTimeout time.Duration
	// MaxReadFailures stops the run after that many consecutive failed reads.
	// Zero retries forever.
	MaxReadFailures int
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
	// WindowTitle is passed to the surface factory.
	WindowTitle string
}

// Status is a point-in-time view of the controller.
type Status struct {
	State          State      `json:"state"`
	SessionID      string     `json:"session_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastStopReason string     `json:"last_stop_reason,omitempty"`
	Frames         int64      `json:"frames"`
	Faces          int64      `json:"faces"`
	Recorded       int64      `json:"recorded"`
	KnownFaces     int        `json:"known_faces"`
}

// Controller owns the pipeline state and at most one worker goroutine.
// All methods are safe for concurrent use.
type Controller struct {
	deps Deps
	cfg  Config

	// startMu serialises Start. mu guards the state and is only held briefly,
	// so status reads and Stop never wait for a cache build.
	startMu    sync.Mutex
	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	done       chan struct{}
	sessionID  string
	startedAt  time.Time
	lastReason string

	frames   atomic.Int64
	faces    atomic.Int64
	recorded atomic.Int64

	snapshot atomic.Pointer[recognition.Cache]
	reloaded atomic.Pointer[recognition.Cache]
}

// New returns an idle controller.
func New(deps Deps, cfg Config) *Controller {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Surfaces == nil {
		deps.Surfaces = capture.NullSurfaces
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	if cfg.WindowTitle == "" {
		cfg.WindowTitle = "rollcall"
	}
	return &Controller{deps: deps, cfg: cfg, state: StateIdle}
}

// runContext is everything one worker run touches. It is built by Start before
// the worker is spawned and owned by the worker afterwards.
type runContext struct {
	sessionID string
	reader    *capture.Reader
	surface   capture.Surface
	session   *recognition.Session
}

// Start loads the registry, builds a fresh embedding cache, opens the camera
// and display, and spawns the worker. It is a no-op unless the controller is
// idle. ctx only bounds the startup work; the worker runs until Stop.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	// Only Start leaves IDLE, so the state cannot change under us until the
	// worker is spawned below.
	if c.State() != StateIdle {
		return nil
	}
	logger := c.deps.Logger

	records, err := c.deps.Registry.Load()
	if err != nil {
		return fmt.Errorf("pipeline: load registry: %w", err)
	}
	cache, err := recognition.BuildCache(ctx, records, c.deps.Images, c.deps.Engine, logger)
	if err != nil {
		return fmt.Errorf("pipeline: build cache: %w", err)
	}
	c.snapshot.Store(cache)
	c.reloaded.Store(nil)

	dev, err := c.deps.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: %w: %w", apperr.ErrDeviceOpen, err)
	}
	surface, err := c.deps.Surfaces(c.cfg.WindowTitle)
	if err != nil {
		dev.Close()
		return fmt.Errorf("pipeline: open display: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	if c.deps.Sessions != nil {
		if err := c.deps.Sessions.OpenSession(id, now); err != nil {
			logger.Warn("pipeline: session not indexed", slog.String("session_id", id), slog.String("error", err.Error()))
		}
	}

	rc := &runContext{
		sessionID: id,
		reader:    capture.NewReader(dev, c.cfg.ReadTimeout),
		surface:   surface,
		session: &recognition.Session{
			Cache:    cache,
			Ledger:   recognition.NewLedger(),
			Recorder: &countingRecorder{inner: c.deps.Recorders(id), ctrl: c, sessionID: id},
		},
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateRunning
	c.cancel = cancel
	c.done = make(chan struct{})
	c.sessionID = id
	c.startedAt = now
	c.frames.Store(0)
	c.faces.Store(0)
	c.recorded.Store(0)

	go c.run(workerCtx, cancel, rc, c.done)

	logger.Info("pipeline: started",
		slog.String("session_id", id), slog.Int("known_faces", cache.Len()))
	c.deps.Notifier.PipelineState(string(StateRunning), id, "")
	return nil
}

// Stop asks a running worker to finish. It does not wait; use Wait for that.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.cancel()
	id := c.sessionID
	c.mu.Unlock()

	c.deps.Logger.Info("pipeline: stopping", slog.String("session_id", id))
	c.deps.Notifier.PipelineState(string(StateStopping), id, ReasonStopped)
}

// Wait blocks until the current worker, if any, has released its resources.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker and waits for it.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Stop()
	return c.Wait(ctx)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current state and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:          c.state,
		LastStopReason: c.lastReason,
		Frames:         c.frames.Load(),
		Faces:          c.faces.Load(),
		Recorded:       c.recorded.Load(),
		KnownFaces:     c.snapshot.Load().Len(),
	}
	if c.state != StateIdle {
		st.SessionID = c.sessionID
		started := c.startedAt
		st.StartedAt = &started
	}
	return st
}

// Reload rebuilds the embedding cache from the registry. A running worker
// switches to the new cache before its next frame and keeps its ledger.
func (c *Controller) Reload(ctx context.Context) error {
	records, err := c.deps.Registry.Load()
	if err != nil {
		return fmt.Errorf("pipeline: reload registry: %w", err)
	}
	cache, err := recognition.BuildCache(ctx, records, c.deps.Images, c.deps.Engine, c.deps.Logger)
	if err != nil {
		return fmt.Errorf("pipeline: reload cache: %w", err)
	}
	c.snapshot.Store(cache)
	c.reloaded.Store(cache)
	c.deps.Logger.Info("pipeline: cache reloaded", slog.Int("known_faces", cache.Len()))
	return nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, rc *runContext, done chan struct{}) {
	logger := c.deps.Logger.With(slog.String("session_id", rc.sessionID))
	reason := ReasonStopped

	defer func() {
		if r := recover(); r != nil {
			reason = ReasonPanic
			logger.Error("pipeline: worker panic", slog.Any("panic", r))
		}
		if err := rc.reader.Close(); err != nil {
			logger.Warn("pipeline: release device", slog.String("error", err.Error()))
		}
		if err := rc.surface.Close(); err != nil {
			logger.Warn("pipeline: close display", slog.String("error", err.Error()))
		}
		if c.deps.Sessions != nil {
			if err := c.deps.Sessions.CloseSession(rc.sessionID, reason, time.Now()); err != nil {
				logger.Warn("pipeline: session close not indexed", slog.String("error", err.Error()))
			}
		}

		c.mu.Lock()
		c.state = StateIdle
		c.cancel = nil
		c.lastReason = reason
		close(done)
		c.mu.Unlock()

		logger.Info("pipeline: stopped",
			slog.String("reason", reason),
			slog.Int64("frames", c.frames.Load()),
			slog.Int64("recorded", c.recorded.Load()))
		c.deps.Notifier.PipelineState(string(StateIdle), rc.sessionID, reason)
	}()

	defer cancel()

	reason = c.loop(ctx, rc, logger)
}

func (c *Controller) loop(ctx context.Context, rc *runContext, logger *slog.Logger) string {
	failures := 0
	for {
		if ctx.Err() != nil {
			return ReasonStopped
		}
		if rc.surface.Poll() == capture.KeyCancel {
			logger.Info("pipeline: operator cancelled")
			return ReasonOperator
		}
		if cache := c.reloaded.Swap(nil); cache != nil {
			rc.session.Cache = cache
		}

		frame, err := rc.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonStopped
			}
			failures++
			logger.Debug("pipeline: frame read failed",
				slog.Int("consecutive", failures), slog.String("error", err.Error()))
			if c.cfg.MaxReadFailures > 0 && failures >= c.cfg.MaxReadFailures {
				logger.Error("pipeline: device failing, stopping", slog.Int("consecutive", failures))
				return ReasonDeviceFailure
			}
			select {
			case <-ctx.Done():
				return ReasonStopped
			case <-time.After(c.cfg.RetryDelay):
			}
			continue
		}
		failures = 0

		if ctx.Err() != nil {
			return ReasonStopped
		}

		annotated, results, err := c.deps.Processor.ProcessFrame(ctx, rc.session, frame)
		if annotated == nil {
			logger.Warn("pipeline: frame skipped", slog.String("error", err.Error()))
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("pipeline: attendance not recorded", slog.String("error", err.Error()))
		}

		c.frames.Add(1)
		c.faces.Add(int64(len(results)))
		if len(results) > 0 {
			c.deps.Notifier.FacesDetected(results)
		}
		rc.surface.Show(annotated)
	}
}

// countingRecorder counts successful records and announces them.
type countingRecorder struct {
	inner     recognition.Recorder
	ctrl      *Controller
	sessionID string
}

func (r *countingRecorder) Record(ctx context.Context, label string, ts time.Time) error {
	if err := r.inner.Record(ctx, label, ts); err != nil {
		return err
	}
	r.ctrl.recorded.Add(1)
	r.ctrl.deps.Notifier.AttendanceRecorded(label, ts, r.sessionID)
	return nil
}

type nopNotifier struct{}

func (nopNotifier) PipelineState(string, string, string) {}

func (nopNotifier) AttendanceRecorded(string, time.Time, string) {}

func (nopNotifier) FacesDetected([]models.FaceResult) {}
