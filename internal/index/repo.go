package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/models"
)

// Filter narrows ListAttendance. Zero fields match everything.
type Filter struct {
	Label     string
	SessionID string
	Since     time.Time
	Limit     int
	Offset    int
}

// InsertAttendance mirrors one log line. Re-inserting a line replaces it.
func (db *DB) InsertAttendance(e models.AttendanceEntry) error {
	_, err := db.conn.Exec(`
		INSERT INTO attendance (line, label, recorded_at, session_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(line) DO UPDATE SET
			label       = excluded.label,
			recorded_at = excluded.recorded_at,
			session_id  = excluded.session_id
	`, e.Line, e.Label, e.Timestamp.Unix(), e.SessionID)
	if err != nil {
		return fmt.Errorf("index: insert attendance: %w", err)
	}
	return nil
}

// UpsertAttendance imports entries read back from the log within a single
// transaction. Existing rows keep their session id unless the line changed.
// Rows past the last entry are removed. It returns the number of rows written.
func (db *DB) UpsertAttendance(entries []models.AttendanceEntry) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`
		INSERT INTO attendance (line, label, recorded_at, session_id)
		VALUES (?, ?, ?, '')
		ON CONFLICT(line) DO UPDATE SET
			label       = excluded.label,
			recorded_at = excluded.recorded_at,
			session_id  = ''
		WHERE attendance.label != excluded.label OR attendance.recorded_at != excluded.recorded_at
	`)
	if err != nil {
		return 0, fmt.Errorf("index: prepare attendance upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	var last int64
	for _, e := range entries {
		res, err := stmt.Exec(e.Line, e.Label, e.Timestamp.Unix())
		if err != nil {
			return 0, fmt.Errorf("index: upsert attendance line %d: %w", e.Line, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
		last = max(last, e.Line)
	}
	if _, err := tx.Exec(`DELETE FROM attendance WHERE line > ?`, last); err != nil {
		return 0, fmt.Errorf("index: trim attendance: %w", err)
	}
	return written, tx.Commit()
}

// ListAttendance returns matching entries newest first and the total match count.
func (db *DB) ListAttendance(f Filter) ([]models.AttendanceEntry, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Label != "" {
		where = append(where, "label = ?")
		args = append(args, f.Label)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if !f.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.Unix())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM attendance`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count attendance: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT line, label, recorded_at, session_id FROM attendance` + clause +
		` ORDER BY line DESC LIMIT ? OFFSET ?`
	rows, err := db.conn.Query(q, append(args, limit, max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list attendance: %w", err)
	}
	defer rows.Close()

	out := []models.AttendanceEntry{}
	for rows.Next() {
		var (
			e  models.AttendanceEntry
			ts int64
		)
		if err := rows.Scan(&e.Line, &e.Label, &ts, &e.SessionID); err != nil {
			return nil, 0, err
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// OpenSession inserts a new session row.
func (db *DB) OpenSession(id string, startedAt time.Time) error {
	_, err := db.conn.Exec(`INSERT INTO sessions (id, started_at) VALUES (?, ?)`, id, startedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("index: open session: %w", err)
	}
	return nil
}

// CloseSession stamps the stop time and reason of an open session.
func (db *DB) CloseSession(id, reason string, stoppedAt time.Time) error {
	res, err := db.conn.Exec(`UPDATE sessions SET stopped_at = ?, stop_reason = ? WHERE id = ?`,
		stoppedAt.UnixMilli(), reason, id)
	if err != nil {
		return fmt.Errorf("index: close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: close session %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

const sessionSelect = `
	SELECT s.id, s.started_at, s.stopped_at, s.stop_reason,
		(SELECT count(*) FROM attendance a WHERE a.session_id = s.id)
	FROM sessions s`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (models.Session, error) {
	var (
		s       models.Session
		started int64
		stopped sql.NullInt64
	)
	if err := r.Scan(&s.ID, &started, &stopped, &s.StopReason, &s.Recorded); err != nil {
		return s, err
	}
	s.StartedAt = time.UnixMilli(started)
	if stopped.Valid {
		t := time.UnixMilli(stopped.Int64)
		s.StoppedAt = &t
	}
	return s, nil
}

// GetSession returns one session with its recorded count.
func (db *DB) GetSession(id string) (*models.Session, error) {
	s, err := scanSession(db.conn.QueryRow(sessionSelect+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: session %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recent sessions first.
func (db *DB) ListSessions(limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(sessionSelect+` ORDER BY s.started_at DESC, s.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list sessions: %w", err)
	}
	defer rows.Close()

	out := []models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetMeta returns the stored value for key, or empty string if not found.
func (db *DB) GetMeta(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get meta: %w", err)
	}
	return v, nil
}

// SetMeta stores value under key.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("index: set meta: %w", err)
	}
	return nil
}
