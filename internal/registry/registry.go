// Package registry persists the enrollment registry as a CSV table with the
// columns RegdNo, Name, ImagePath. Row order is enrollment order.
package registry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/models"
)

// Duplicate-id policies.
const (
	PolicyAllow     = "allow"
	PolicyReject    = "reject"
	PolicyOverwrite = "overwrite"
)

var header = []string{"RegdNo", "Name", "ImagePath"}

// Store is the persistence contract consumed by the pipeline and enrollment.
type Store interface {
	Load() ([]models.PersonRecord, error)
	Find(id string) ([]models.PersonRecord, error)
	Append(rec models.PersonRecord) error
}

var _ Store = (*CSV)(nil)

// CSV is a Store backed by a single CSV file.
type CSV struct {
	path   string
	policy string

	mu sync.Mutex
}

// NewCSV returns a store for path using the given duplicate-id policy.
// An empty policy means PolicyAllow.
func NewCSV(path, policy string) *CSV {
	if policy == "" {
		policy = PolicyAllow
	}
	return &CSV{path: path, policy: policy}
}

// Path returns the registry file path.
func (s *CSV) Path() string { return s.path }

// Load returns every record in file order. A missing file yields no records.
func (s *CSV) Load() ([]models.PersonRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *CSV) load() ([]models.PersonRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.PersonRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", s.path, err)
	}
	return parse(data)
}

func parse(data []byte) ([]models.PersonRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	cols := map[string]int{}
	out := []models.PersonRecord{}
	for line := 0; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry: parse: %w", err)
		}
		if line == 0 {
			for i, name := range row {
				cols[name] = i
			}
			for _, name := range header {
				if _, ok := cols[name]; !ok {
					return nil, fmt.Errorf("registry: missing column %q", name)
				}
			}
			continue
		}
		field := func(name string) string {
			if i := cols[name]; i < len(row) {
				return row[i]
			}
			return ""
		}
		out = append(out, models.PersonRecord{
			ID:          field("RegdNo"),
			DisplayName: field("Name"),
			ImagePath:   field("ImagePath"),
		})
	}
	return out, nil
}

// Find returns every record with the given id, in file order.
func (s *CSV) Find(id string) ([]models.PersonRecord, error) {
	recs, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []models.PersonRecord
	for _, r := range recs {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// Append adds rec to the registry according to the duplicate-id policy.
// The row is on disk when Append returns nil.
func (s *CSV) Append(rec models.PersonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy == PolicyAllow {
		return s.appendRow(rec)
	}

	existing, err := s.load()
	if err != nil {
		return err
	}
	dup := false
	kept := existing[:0]
	for _, r := range existing {
		if r.ID == rec.ID {
			dup = true
			continue
		}
		kept = append(kept, r)
	}
	if !dup {
		return s.appendRow(rec)
	}

	switch s.policy {
	case PolicyReject:
		return fmt.Errorf("registry: id %q: %w", rec.ID, apperr.ErrAlreadyExists)
	case PolicyOverwrite:
		return s.rewrite(append(kept, rec))
	default:
		return fmt.Errorf("registry: unknown duplicate policy %q", s.policy)
	}
}

func (s *CSV) appendRow(rec models.PersonRecord) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("registry: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("registry: stat: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = w.Write(header)
	}
	_ = w.Write(row(rec))
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("registry: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("registry: fsync: %w", err)
	}
	return nil
}

// rewrite replaces the whole table: tmp file → fsync → rename.
func (s *CSV) rewrite(recs []models.PersonRecord) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, r := range recs {
		_ = w.Write(row(r))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registry-tmp-*")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("registry: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("registry: rename: %w", err)
	}
	success = true
	return nil
}

func row(r models.PersonRecord) []string {
	return []string{r.ID, r.DisplayName, r.ImagePath}
}
