package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps sentinel errors to status codes; anything else is a 500.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrNoActiveSession):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrDeviceOpen):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// StartPipeline handles POST /api/pipeline/start.
//
//	@Summary		Start face recognition
//	@Tags			pipeline
//	@Produce		json
//	@Success		202	{object}	PipelineStatus
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pipeline/start [post]
func (h *Handler) StartPipeline(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.StartPipeline(r.Context())
	if err != nil {
		writeError(w, "start pipeline", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// StopPipeline handles POST /api/pipeline/stop.
//
//	@Summary		Stop face recognition
//	@Tags			pipeline
//	@Produce		json
//	@Success		202	{object}	PipelineStatus
//	@Security		BearerAuth
//	@Router			/pipeline/stop [post]
func (h *Handler) StopPipeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, h.svc.StopPipeline(r.Context()))
}

// PipelineStatus handles GET /api/pipeline.
//
//	@Summary		Get pipeline status
//	@Tags			pipeline
//	@Produce		json
//	@Success		200	{object}	PipelineStatus
//	@Security		BearerAuth
//	@Router			/pipeline [get]
func (h *Handler) PipelineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.PipelineStatus(r.Context()))
}

// Frame handles GET /api/pipeline/frame.
//
//	@Summary		Latest annotated frame
//	@Tags			pipeline
//	@Produce		image/jpeg
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pipeline/frame [get]
func (h *Handler) Frame(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Frame(r.Context())
	if err != nil {
		writeError(w, "frame", err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ListPersons handles GET /api/persons.
//
//	@Summary		List enrolled persons
//	@Tags			persons
//	@Produce		json
//	@Success		200	{object}	PersonListResponse
//	@Security		BearerAuth
//	@Router			/persons [get]
func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.svc.ListPersons(r.Context())
	if err != nil {
		writeError(w, "list persons", err)
		return
	}
	writeJSON(w, http.StatusOK, PersonListResponse{Persons: persons, Total: len(persons)})
}

// BeginEnrollment handles POST /api/enrollments.
//
//	@Summary		Open a live enrollment preview
//	@Tags			enrollments
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BeginEnrollmentRequest	true	"Person to enroll"
//	@Success		202		{object}	EnrollmentInfo
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/enrollments [post]
func (h *Handler) BeginEnrollment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req BeginEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	info, err := h.svc.BeginEnrollment(r.Context(), req.ID, req.Name)
	if err != nil {
		writeError(w, "begin enrollment", err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// CaptureEnrollment handles POST /api/enrollments/current/capture.
//
//	@Summary		Capture the current preview frame
//	@Tags			enrollments
//	@Produce		json
//	@Success		201	{object}	EnrollmentResult
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/enrollments/current/capture [post]
func (h *Handler) CaptureEnrollment(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CaptureEnrollment(r.Context())
	if err != nil {
		writeError(w, "capture enrollment", err)
		return
	}
	if res.Cancelled {
		writeJSON(w, http.StatusConflict, errorBody("enrollment was cancelled"))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// CancelEnrollment handles DELETE /api/enrollments/current.
//
//	@Summary		Cancel the current preview
//	@Tags			enrollments
//	@Success		204	"Enrollment cancelled"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/enrollments/current [delete]
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.CancelEnrollment(r.Context()); err != nil {
		writeError(w, "cancel enrollment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAttendance handles GET /api/attendance.
//
//	@Summary		List attendance entries
//	@Tags			attendance
//	@Produce		json
//	@Param			label		query		string	false	"Exact label"
//	@Param			session		query		string	false	"Session id"
//	@Param			since		query		string	false	"RFC 3339 lower bound"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	AttendanceListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/attendance [get]
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	query := service.AttendanceQuery{
		Label:     q.Get("label"),
		SessionID: q.Get("session"),
		Limit:     limit,
		Offset:    offset,
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be RFC 3339"))
			return
		}
		query.Since = since
	}

	entries, total, err := h.svc.ListAttendance(r.Context(), query)
	if err != nil {
		writeError(w, "list attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, AttendanceListResponse{Entries: entries, Total: total})
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List recent recognition sessions
//	@Tags			attendance
//	@Produce		json
//	@Param			limit	query		int	false	"Max sessions"
//	@Success		200		{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.svc.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions})
}

// GetSession handles GET /api/sessions/{id}.
//
//	@Summary		Get one recognition session
//	@Tags			attendance
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	Session
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetPerson handles GET /api/persons/{id}. Under the allow policy one
// registration number may have several rows.
//
//	@Summary		Get the registry rows for a registration number
//	@Tags			persons
//	@Produce		json
//	@Param			id	path		string	true	"Registration number"
//	@Success		200	{object}	PersonListResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id} [get]
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	persons, err := h.svc.GetPerson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get person", err)
		return
	}
	writeJSON(w, http.StatusOK, PersonListResponse{Persons: persons, Total: len(persons)})
}
