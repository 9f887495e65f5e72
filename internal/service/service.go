// Package service is the single entry point used by the HTTP API and the MCP
// server: it fronts the pipeline controller, enrollment, the registry and the
// attendance index.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/enroll"
	"github.com/starford/rollcall/internal/index"
	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/pipeline"
	"github.com/starford/rollcall/internal/registry"
)

// Pipeline is the controller surface the service drives.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop()
	Status() pipeline.Status
}

// Enroller runs enrollment workflows.
type Enroller interface {
	Begin(ctx context.Context, id, name string) (*enroll.Session, error)
	Current() (*enroll.Session, error)
	EnrollImage(ctx context.Context, id, name, filename string, data []byte) (models.PersonRecord, error)
}

// Attendance is the read side of the attendance index.
type Attendance interface {
	ListAttendance(f index.Filter) ([]models.AttendanceEntry, int, error)
	ListSessions(limit int) ([]models.Session, error)
	GetSession(id string) (*models.Session, error)
}

// FrameSource exposes the latest annotated frame as JPEG.
type FrameSource interface {
	JPEG() []byte
}

// Service coordinates the recognition components for the control surfaces.
type Service struct {
	pipeline   Pipeline
	enroller   Enroller
	registry   registry.Store
	attendance Attendance
	frames     FrameSource
}

// New creates a service. frames may be nil when no snapshot surface is configured.
func New(p Pipeline, e Enroller, reg registry.Store, att Attendance, frames FrameSource) *Service {
	return &Service{pipeline: p, enroller: e, registry: reg, attendance: att, frames: frames}
}

// StartPipeline starts recognition. Starting a running pipeline is a no-op.
func (s *Service) StartPipeline(ctx context.Context) (pipeline.Status, error) {
	if err := s.pipeline.Start(ctx); err != nil {
		return s.pipeline.Status(), err
	}
	return s.pipeline.Status(), nil
}

// StopPipeline requests a stop and returns immediately.
func (s *Service) StopPipeline(_ context.Context) pipeline.Status {
	s.pipeline.Stop()
	return s.pipeline.Status()
}

// PipelineStatus returns the current controller status.
func (s *Service) PipelineStatus(_ context.Context) pipeline.Status {
	return s.pipeline.Status()
}

// Frame returns the latest annotated frame.
func (s *Service) Frame(_ context.Context) ([]byte, error) {
	if s.frames == nil {
		return nil, apperr.ErrNotFound
	}
	data := s.frames.JPEG()
	if len(data) == 0 {
		return nil, apperr.ErrNotFound
	}
	return data, nil
}

// ListPersons returns the registry in enrollment order.
func (s *Service) ListPersons(_ context.Context) ([]models.PersonRecord, error) {
	return s.registry.Load()
}

// GetPerson returns every registry row for a registration number.
func (s *Service) GetPerson(_ context.Context, id string) ([]models.PersonRecord, error) {
	recs, err := s.registry.Find(id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("service: person %q: %w", id, apperr.ErrNotFound)
	}
	return recs, nil
}

// EnrollImage enrolls a person from an uploaded image.
func (s *Service) EnrollImage(ctx context.Context, id, name, filename string, data []byte) (models.PersonRecord, error) {
	return s.enroller.EnrollImage(ctx, id, name, filename, data)
}

// EnrollmentInfo describes an active preview session.
type EnrollmentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BeginEnrollment opens a live preview for a new person.
func (s *Service) BeginEnrollment(ctx context.Context, id, name string) (EnrollmentInfo, error) {
	sess, err := s.enroller.Begin(ctx, id, name)
	if err != nil {
		return EnrollmentInfo{}, err
	}
	return EnrollmentInfo{ID: sess.ID, Name: sess.Name}, nil
}

// CaptureEnrollment keeps the next preview frame and waits for the result.
func (s *Service) CaptureEnrollment(ctx context.Context) (enroll.Result, error) {
	sess, err := s.enroller.Current()
	if err != nil {
		return enroll.Result{}, err
	}
	sess.Capture()
	return sess.Wait(ctx)
}

// CancelEnrollment aborts the active preview.
func (s *Service) CancelEnrollment(ctx context.Context) (enroll.Result, error) {
	sess, err := s.enroller.Current()
	if err != nil {
		return enroll.Result{}, err
	}
	sess.Cancel()
	return sess.Wait(ctx)
}

// AttendanceQuery filters ListAttendance.
type AttendanceQuery struct {
	Label     string
	SessionID string
	Since     time.Time
	Limit     int
	Offset    int
}

// ListAttendance returns indexed attendance entries newest first.
func (s *Service) ListAttendance(_ context.Context, q AttendanceQuery) ([]models.AttendanceEntry, int, error) {
	return s.attendance.ListAttendance(index.Filter{
		Label:     q.Label,
		SessionID: q.SessionID,
		Since:     q.Since,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
}

// ListSessions returns recent recognition sessions.
func (s *Service) ListSessions(_ context.Context, limit int) ([]models.Session, error) {
	return s.attendance.ListSessions(limit)
}

// GetSession returns one recognition session with its recorded count.
func (s *Service) GetSession(_ context.Context, id string) (*models.Session, error) {
	return s.attendance.GetSession(id)
}

// Ready reports whether the registry is readable.
func (s *Service) Ready(_ context.Context) error {
	if _, err := s.registry.Load(); err != nil {
		return fmt.Errorf("service: registry: %w", err)
	}
	return nil
}
