package index

import (
	"time"

	"github.com/starford/rollcall/internal/models"
)

// AttendanceIndex defines the interface for attendance indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type AttendanceIndex interface {
	InsertAttendance(e models.AttendanceEntry) error
	UpsertAttendance(entries []models.AttendanceEntry) (int, error)
	ListAttendance(f Filter) ([]models.AttendanceEntry, int, error)
	OpenSession(id string, startedAt time.Time) error
	CloseSession(id, reason string, stoppedAt time.Time) error
	GetSession(id string) (*models.Session, error)
	ListSessions(limit int) ([]models.Session, error)
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
	Close() error
}

// Verify *DB satisfies AttendanceIndex at compile time.
var _ AttendanceIndex = (*DB)(nil)
