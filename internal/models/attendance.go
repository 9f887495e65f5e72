package models

import "time"

// AttendanceEntry is one line of the attendance log.
type AttendanceEntry struct {
	Line      int64     `json:"line"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
}

// Session is one RUNNING interval of the recognition pipeline.
type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Recorded   int        `json:"recorded"`
}
