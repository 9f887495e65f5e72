package enroll

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/capture"
	"github.com/starford/rollcall/internal/models"
)

const retryDelay = 20 * time.Millisecond

// Result is the outcome of a preview session.
type Result struct {
	Record    *models.PersonRecord `json:"record,omitempty"`
	Cancelled bool                 `json:"cancelled"`
}

// Session is one live enrollment preview.
type Session struct {
	ID   string
	Name string

	mgr     *Manager
	req     request
	reader  *capture.Reader
	surface capture.Surface
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	captureCh chan struct{}

	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

// Begin validates the identity, opens a dedicated camera handle and display,
// and starts the preview. Invalid input has no side effect.
func (m *Manager) Begin(ctx context.Context, id, name string) (*Session, error) {
	r := newRequest(id, name)
	if err := r.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return nil, fmt.Errorf("enroll: session for %q in progress: %w", m.current.ID, apperr.ErrBusy)
	}

	dev, err := m.deps.Source.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w: %w", apperr.ErrDeviceOpen, err)
	}
	surface, err := m.deps.Surfaces(m.cfg.WindowTitle)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("enroll: open display: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        r.ID,
		Name:      r.Name,
		mgr:       m,
		req:       r,
		reader:    capture.NewReader(dev, m.cfg.ReadTimeout),
		surface:   surface,
		logger:    m.deps.Logger.With(slog.String("id", r.ID)),
		ctx:       sctx,
		cancel:    cancel,
		captureCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	m.current = s
	go s.preview()

	s.logger.Info("enroll: preview started", slog.String("name", r.Name))
	return s, nil
}

// Capture asks the preview to keep the next available frame.
func (s *Session) Capture() {
	select {
	case s.captureCh <- struct{}{}:
	default:
	}
}

// Cancel ends the preview without writing anything.
func (s *Session) Cancel() {
	s.cancel()
}

// Done is closed when the session has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) preview() {
	var (
		latest  image.Image
		pending bool
	)
	defer s.finish()

	for {
		if s.ctx.Err() != nil {
			s.result = Result{Cancelled: true}
			return
		}
		switch s.surface.Poll() {
		case capture.KeyCancel:
			s.result = Result{Cancelled: true}
			return
		case capture.KeyCapture:
			pending = true
		}
		select {
		case <-s.captureCh:
			pending = true
		default:
		}

		if pending && latest != nil {
			rec, err := s.save(latest)
			if err != nil {
				s.err = err
				return
			}
			s.result = Result{Record: &rec}
			return
		}

		frame, err := s.reader.Read(s.ctx)
		if err != nil {
			select {
			case <-s.ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		latest = frame
		s.surface.Show(frame)
	}
}

func (s *Session) save(frame image.Image) (models.PersonRecord, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: s.mgr.cfg.JPEGQuality}); err != nil {
		return models.PersonRecord{}, fmt.Errorf("enroll: encode frame: %w", err)
	}
	return s.mgr.commit(context.Background(), s.req, s.mgr.imagePath(s.req, ".jpg"), buf.Bytes())
}

func (s *Session) finish() {
	s.once.Do(func() {
		s.cancel()
		if err := s.reader.Close(); err != nil {
			s.logger.Warn("enroll: release device", slog.String("error", err.Error()))
		}
		if err := s.surface.Close(); err != nil {
			s.logger.Warn("enroll: close display", slog.String("error", err.Error()))
		}

		s.mgr.mu.Lock()
		if s.mgr.current == s {
			s.mgr.current = nil
		}
		s.mgr.mu.Unlock()

		switch {
		case s.err != nil:
			s.logger.Error("enroll: capture failed", slog.String("error", s.err.Error()))
		case s.result.Cancelled:
			s.logger.Info("enroll: cancelled")
		}
		close(s.done)
	})
}
