package attendance

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/rollcall/internal/checksum"
	"github.com/starford/rollcall/internal/models"
)

const checksumKey = "attendance_log_checksum"

// SyncIndex is the part of the attendance index that Sync maintains.
type SyncIndex interface {
	UpsertAttendance(entries []models.AttendanceEntry) (int, error)
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// Sync brings the index up to date with the log at path. Nothing is re-read
// when the log's checksum matches the one recorded by the previous sync.
func Sync(idx SyncIndex, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return fmt.Errorf("attendance: read %s: %w", path, err)
	}

	cs := checksum.Sum(data)
	prev, err := idx.GetMeta(checksumKey)
	if err != nil {
		return err
	}
	if prev == cs {
		logger.Debug("sync: attendance log unchanged", slog.String("path", path))
		return nil
	}

	entries := parseLog(data)
	n, err := idx.UpsertAttendance(entries)
	if err != nil {
		return err
	}
	if err := idx.SetMeta(checksumKey, cs); err != nil {
		return err
	}
	logger.Info("sync: attendance indexed",
		slog.String("path", path), slog.Int("entries", len(entries)), slog.Int("written", n))
	return nil
}
