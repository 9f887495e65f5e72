package attendance

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/rollcall/internal/models"
)

// Index is the part of the attendance index the recorder writes to.
type Index interface {
	InsertAttendance(e models.AttendanceEntry) error
}

// IndexedRecorder writes to the log file first and then mirrors the entry
// into the index under its session id. Only file errors are returned; an
// index failure is logged and repaired by the next Sync.
type IndexedRecorder struct {
	log     *FileLog
	index   Index
	session string
	logger  *slog.Logger
}

// NewIndexedRecorder returns a recorder with no session bound.
func NewIndexedRecorder(log *FileLog, idx Index, logger *slog.Logger) *IndexedRecorder {
	return &IndexedRecorder{log: log, index: idx, logger: logger}
}

// ForSession returns a copy of r tagging entries with sessionID.
func (r *IndexedRecorder) ForSession(sessionID string) *IndexedRecorder {
	cp := *r
	cp.session = sessionID
	return &cp
}

// Record appends label at ts.
func (r *IndexedRecorder) Record(ctx context.Context, label string, ts time.Time) error {
	e, err := r.log.Append(ctx, label, ts)
	if err != nil {
		return err
	}
	if r.index == nil {
		return nil
	}
	e.SessionID = r.session
	if err := r.index.InsertAttendance(e); err != nil {
		r.logger.Warn("attendance: index mirror failed",
			slog.String("label", label), slog.Int64("line", e.Line), slog.String("error", err.Error()))
	}
	return nil
}
