package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rollcall/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Recognition pipeline.
	r.Post("/pipeline/start", h.StartPipeline)
	r.Post("/pipeline/stop", h.StopPipeline)
	r.Get("/pipeline", h.PipelineStatus)
	r.Get("/pipeline/frame", h.Frame)

	// Registry and enrollment.
	r.Get("/persons", h.ListPersons)
	r.Get("/persons/{id}", h.GetPerson)
	r.Post("/persons", h.UploadPerson)
	r.Post("/enrollments", h.BeginEnrollment)
	r.Post("/enrollments/current/capture", h.CaptureEnrollment)
	r.Delete("/enrollments/current", h.CancelEnrollment)

	// Attendance index.
	r.Get("/attendance", h.ListAttendance)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}", h.GetSession)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
