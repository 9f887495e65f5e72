package api

import (
	"github.com/starford/rollcall/internal/enroll"
	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/pipeline"
	"github.com/starford/rollcall/internal/service"
)

// PipelineStatus is the controller status (aliased from the domain layer).
type PipelineStatus = pipeline.Status

// Person is a registry row (aliased from the domain layer).
type Person = models.PersonRecord

// AttendanceEntry is one indexed attendance line (aliased from the domain layer).
type AttendanceEntry = models.AttendanceEntry

// Session is one recognition run (aliased from the domain layer).
type Session = models.Session

// EnrollmentInfo describes an active preview session.
type EnrollmentInfo = service.EnrollmentInfo

// EnrollmentResult is the outcome of a preview session.
type EnrollmentResult = enroll.Result

// BeginEnrollmentRequest is the request body for starting a preview enrollment.
type BeginEnrollmentRequest struct {
	ID   string `json:"id" example:"007" validate:"required"`
	Name string `json:"name" example:"Bond" validate:"required"`
}

// PersonListResponse wraps the registry listing.
type PersonListResponse struct {
	Persons []Person `json:"persons" validate:"required"`
	Total   int      `json:"total" example:"42" validate:"required"`
}

// AttendanceListResponse wraps paginated attendance listings.
type AttendanceListResponse struct {
	Entries []AttendanceEntry `json:"entries" validate:"required"`
	Total   int               `json:"total" example:"42" validate:"required"`
}

// SessionListResponse wraps recent sessions.
type SessionListResponse struct {
	Sessions []Session `json:"sessions" validate:"required"`
}
