package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/rollcall/internal/attendance"
	"github.com/starford/rollcall/internal/capture"
	"github.com/starford/rollcall/internal/capture/webcam"
	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/engine/dlib"
	"github.com/starford/rollcall/internal/engine/remote"
	"github.com/starford/rollcall/internal/enroll"
	"github.com/starford/rollcall/internal/index"
	"github.com/starford/rollcall/internal/pipeline"
	"github.com/starford/rollcall/internal/recognition"
	"github.com/starford/rollcall/internal/registry"
	"github.com/starford/rollcall/internal/service"
	"github.com/starford/rollcall/internal/sse"
	"github.com/starford/rollcall/internal/storage"
)

// components is the wired object graph shared by the HTTP and MCP modes.
type components struct {
	registry *registry.CSV
	db       *index.DB
	broker   *sse.Broker
	pipeline *pipeline.Controller
	enroll   *enroll.Manager
	service  *service.Service
	closers  []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

func build(cfg *Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Dataset.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset root: %w", err)
	}
	store, err := storage.NewFS(cfg.Dataset.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	logger.Info("dataset storage ready", slog.String("root", store.Root()))

	c.registry = registry.NewCSV(cfg.ResolvePath(cfg.Dataset.Registry), cfg.Dataset.DuplicateIDs)

	c.db, err = index.Open(cfg.ResolvePath(cfg.Attendance.Index))
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	c.closers = append(c.closers, c.db.Close)

	logPath := cfg.ResolvePath(cfg.Attendance.Log)
	if err := attendance.Sync(c.db, logPath, logger); err != nil {
		logger.Warn("initial attendance sync failed", slog.String("error", err.Error()))
	}
	recorder := attendance.NewIndexedRecorder(attendance.NewFileLog(logPath), c.db, logger)

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	if closer, ok := eng.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}

	surfaces, frames := newSurfaces(cfg.Camera.Display)
	source := webcam.Source{Device: cfg.Camera.Device}

	c.broker = sse.NewBroker(cfg.Recognition.FacesThrottle)
	c.closers = append(c.closers, func() error { c.broker.Close(); return nil })

	processor := recognition.NewProcessor(eng, logger,
		recognition.WithScale(cfg.Recognition.Scale),
		recognition.WithUnknownPrefix(cfg.Recognition.UnknownPrefix),
	)

	c.pipeline = pipeline.New(pipeline.Deps{
		Registry:  c.registry,
		Images:    store,
		Engine:    eng,
		Source:    source,
		Surfaces:  surfaces,
		Processor: processor,
		Recorders: func(id string) recognition.Recorder { return recorder.ForSession(id) },
		Sessions:  c.db,
		Notifier:  c.broker,
		Logger:    logger,
	}, pipeline.Config{
		ReadTimeout:     cfg.Camera.ReadTimeout,
		MaxReadFailures: cfg.Camera.MaxReadFailures,
	})

	c.enroll = enroll.NewManager(enroll.Deps{
		Registry: c.registry,
		Images:   store,
		Source:   source,
		Surfaces: surfaces,
		Reloader: c.pipeline,
		Notifier: c.broker,
		Logger:   logger,
	}, enroll.Config{
		ImagesDir:   cfg.Dataset.ImagesDir,
		ReadTimeout: cfg.Camera.ReadTimeout,
	})

	var fs service.FrameSource
	if frames != nil {
		fs = frames
	}
	c.service = service.New(c.pipeline, c.enroll, c.registry, c.db, fs)
	return c, nil
}

func newEngine(cfg EngineConfig) (engine.Engine, error) {
	switch cfg.Kind {
	case EngineRemote:
		return remote.New(cfg.URL, cfg.Threshold, cfg.Timeout), nil
	default:
		return dlib.New(cfg.ModelsDir, cfg.Threshold)
	}
}

// newSurfaces returns the surface factory for a display mode and, for
// snapshot mode, the snapshot that serves the latest frame.
func newSurfaces(display string) (capture.SurfaceFactory, *capture.Snapshot) {
	switch display {
	case DisplaySnapshot:
		snap := capture.NewSnapshot()
		return snap.Factory(), snap
	case DisplayNone:
		return capture.NullSurfaces, nil
	default:
		return webcam.NewWindow, nil
	}
}
