// Package attendance appends recognised identities to the attendance log and
// mirrors them into the SQLite index.
package attendance

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/starford/rollcall/internal/models"
)

// TimeLayout is the timestamp format of a log line.
const TimeLayout = "2006-01-02 15:04:05"

// FileLog appends "label,timestamp" lines to a text file. The file is opened
// in append mode for every write so it survives restarts and external edits.
// Lines are recounted whenever the file size differs from what the last
// append left behind, which covers truncation, rotation and foreign writers.
type FileLog struct {
	path string

	mu    sync.Mutex
	lines int64
	size  int64
}

// NewFileLog returns a log writing to path. The file is created on first use.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path, size: -1}
}

// Path returns the log file path.
func (l *FileLog) Path() string { return l.path }

// Record appends one entry.
func (l *FileLog) Record(ctx context.Context, label string, ts time.Time) error {
	_, err := l.Append(ctx, label, ts)
	return err
}

// Append writes one line, fsyncs it and returns the entry with its line number.
func (l *FileLog) Append(ctx context.Context, label string, ts time.Time) (models.AttendanceEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.AttendanceEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	size, err := fileSize(l.path)
	if err != nil {
		return models.AttendanceEntry{}, fmt.Errorf("attendance: stat %s: %w", l.path, err)
	}
	prefix := ""
	if size != l.size {
		n, missingEOL, err := countLines(l.path)
		if err != nil {
			return models.AttendanceEntry{}, fmt.Errorf("attendance: scan %s: %w", l.path, err)
		}
		l.lines = n
		if missingEOL {
			prefix = "\n"
		}
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return models.AttendanceEntry{}, fmt.Errorf("attendance: open %s: %w", l.path, err)
	}
	defer f.Close()

	label = singleLine(label)
	line := prefix + label + "," + ts.Local().Format(TimeLayout) + "\n"
	if _, err := f.WriteString(line); err != nil {
		l.size = -1
		return models.AttendanceEntry{}, fmt.Errorf("attendance: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		l.size = -1
		return models.AttendanceEntry{}, fmt.Errorf("attendance: sync: %w", err)
	}

	l.lines++
	l.size = size + int64(len(line))
	return models.AttendanceEntry{Line: l.lines, Label: label, Timestamp: ts}, nil
}

// singleLine replaces control characters so a label never spans lines.
func singleLine(label string) string {
	if strings.IndexFunc(label, unicode.IsControl) < 0 {
		return label
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, label)
}

// fileSize returns the size of path, or zero when it does not exist.
func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// countLines returns the number of physical lines in path and whether the
// last one lacks a trailing newline. A missing file has zero lines.
func countLines(path string) (int64, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(data) == 0 {
		return 0, false, nil
	}
	n := int64(bytes.Count(data, []byte{'\n'}))
	if data[len(data)-1] != '\n' {
		return n + 1, true, nil
	}
	return n, false, nil
}

// ReadLog parses the log at path. A missing file yields no entries. Lines are
// split on the last comma so labels may themselves contain commas; blank or
// malformed lines are skipped but still counted for line numbering.
func ReadLog(path string) ([]models.AttendanceEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.AttendanceEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("attendance: read %s: %w", path, err)
	}
	return parseLog(data), nil
}

func parseLog(data []byte) []models.AttendanceEntry {
	out := []models.AttendanceEntry{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	var line int64
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		i := strings.LastIndexByte(text, ',')
		if i <= 0 {
			continue
		}
		ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(text[i+1:]), time.Local)
		if err != nil {
			continue
		}
		out = append(out, models.AttendanceEntry{Line: line, Label: text[:i], Timestamp: ts})
	}
	return out
}
