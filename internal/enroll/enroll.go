// Package enroll adds people to the registry, either from a live camera
// preview or from an uploaded photo.
package enroll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/capture"
	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/registry"
	"github.com/starford/rollcall/internal/storage"
)

// Reloader rebuilds the recognition cache after the registry changed.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Notifier is told about completed enrollments.
type Notifier interface {
	EnrollmentCompleted(rec models.PersonRecord)
}

// Deps are the collaborators of a Manager. Reloader and Notifier are optional.
type Deps struct {
	Registry registry.Store
	Images   storage.Provider
	Source   capture.Source
	Surfaces capture.SurfaceFactory
	Reloader Reloader
	Notifier Notifier
	Logger   *slog.Logger
}

// Config tunes enrollment.
type Config struct {
	// ImagesDir is where enrollment images go, relative to the dataset root.
	ImagesDir   string
	ReadTimeout time.Duration
	WindowTitle string
	// JPEGQuality applies to frames captured from the preview.
	JPEGQuality int
}

// Manager runs enrollments. At most one preview session is active at a time.
type Manager struct {
	deps Deps
	cfg  Config

	mu      sync.Mutex
	current *Session
}

// NewManager returns a manager with no active session.
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Surfaces == nil {
		deps.Surfaces = capture.NullSurfaces
	}
	if cfg.ImagesDir == "" {
		cfg.ImagesDir = "dataset"
	}
	if cfg.WindowTitle == "" {
		cfg.WindowTitle = "Enrollment"
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 95
	}
	return &Manager{deps: deps, cfg: cfg}
}

// request is the caller-supplied identity of a new person.
type request struct {
	ID   string
	Name string
}

func newRequest(id, name string) request {
	return request{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)}
}

// Validate checks both fields are present and safe to embed in a file name
// and in a single attendance log line.
func (r request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, validation.By(safeName)),
		validation.Field(&r.Name, validation.Required, validation.By(safeName)),
	)
}

func safeName(value any) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, `/\`) {
		return errors.New("must not contain path separators")
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return errors.New("must not contain control characters")
	}
	return nil
}

func (r request) validate() error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("enroll: %w: %s", apperr.ErrValidation, err.Error())
	}
	return nil
}

// imagePath returns "<dir>/<name-lowercased>_<id><ext>" with forward slashes.
func (m *Manager) imagePath(r request, ext string) string {
	return path.Join(filepath.ToSlash(m.cfg.ImagesDir), strings.ToLower(r.Name)+"_"+r.ID+ext)
}

// Current returns the active preview session.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, apperr.ErrNoActiveSession
	}
	return m.current, nil
}

// EnrollImage enrolls a person from an uploaded photo. filename only
// contributes its extension, which must be a supported image type.
func (m *Manager) EnrollImage(ctx context.Context, id, name, filename string, data []byte) (models.PersonRecord, error) {
	r := newRequest(id, name)
	if err := r.validate(); err != nil {
		return models.PersonRecord{}, err
	}
	if !storage.IsImage(filename) {
		return models.PersonRecord{}, fmt.Errorf("enroll: %w: unsupported image type %q", apperr.ErrValidation, filepath.Ext(filename))
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return models.PersonRecord{}, fmt.Errorf("enroll: %w: image not decodable: %s", apperr.ErrValidation, err.Error())
	}
	return m.commit(ctx, r, m.imagePath(r, strings.ToLower(filepath.Ext(filename))), data)
}

// commit writes the image, appends the registry row and refreshes the cache.
// A failed append leaves the dataset as it was: a fresh image is removed and
// an image shared with an earlier record gets its previous bytes back.
func (m *Manager) commit(ctx context.Context, r request, imgPath string, data []byte) (models.PersonRecord, error) {
	rec := models.PersonRecord{ID: r.ID, DisplayName: r.Name, ImagePath: imgPath}

	prev, err := m.deps.Registry.Find(r.ID)
	if err != nil {
		return models.PersonRecord{}, fmt.Errorf("enroll: read registry: %w", err)
	}
	var backup []byte
	for _, p := range prev {
		if p.ImagePath == imgPath {
			backup, _ = m.deps.Images.Read(imgPath)
			break
		}
	}

	if err := m.deps.Images.Write(imgPath, data); err != nil {
		return models.PersonRecord{}, fmt.Errorf("enroll: save image: %w", err)
	}
	if err := m.deps.Registry.Append(rec); err != nil {
		m.restoreImage(imgPath, backup)
		return models.PersonRecord{}, fmt.Errorf("enroll: append registry: %w", err)
	}
	m.deps.Logger.Info("enroll: person added",
		slog.String("id", rec.ID), slog.String("name", rec.DisplayName), slog.String("image", imgPath))
	m.pruneImages(prev, imgPath)

	if m.deps.Reloader != nil {
		if err := m.deps.Reloader.Reload(ctx); err != nil {
			m.deps.Logger.Warn("enroll: cache reload failed", slog.String("error", err.Error()))
		}
	}
	if m.deps.Notifier != nil {
		m.deps.Notifier.EnrollmentCompleted(rec)
	}
	return rec, nil
}

func (m *Manager) restoreImage(imgPath string, backup []byte) {
	var err error
	if backup != nil {
		err = m.deps.Images.Write(imgPath, backup)
	} else {
		err = m.deps.Images.Delete(imgPath)
	}
	if err != nil {
		m.deps.Logger.Warn("enroll: image rollback failed",
			slog.String("image", imgPath), slog.String("error", err.Error()))
	}
}

// pruneImages deletes the images of earlier records for the same id that the
// registry no longer references, as happens under the overwrite policy.
func (m *Manager) pruneImages(prev []models.PersonRecord, keep string) {
	if len(prev) == 0 {
		return
	}
	current, err := m.deps.Registry.Load()
	if err != nil {
		m.deps.Logger.Warn("enroll: prune images", slog.String("error", err.Error()))
		return
	}
	inUse := map[string]bool{keep: true}
	for _, rec := range current {
		inUse[rec.ImagePath] = true
	}
	for _, p := range prev {
		if inUse[p.ImagePath] {
			continue
		}
		inUse[p.ImagePath] = true
		if err := m.deps.Images.Delete(p.ImagePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.deps.Logger.Warn("enroll: delete replaced image",
				slog.String("image", p.ImagePath), slog.String("error", err.Error()))
			continue
		}
		m.deps.Logger.Info("enroll: replaced image removed", slog.String("image", p.ImagePath))
	}
}
