// Package recognition implements the per-frame face recognition core: the
// embedding cache, identity decisions, the session dedup ledger and the frame
// processor.
package recognition

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/models"
)

// ImageSource resolves registry image paths to encoded image bytes.
type ImageSource interface {
	Read(path string) ([]byte, error)
}

// Cache is the ordered list of known embeddings for one pipeline run.
// Entry i's label always belongs to entry i's embedding.
type Cache struct {
	entries []models.EmbeddingEntry
}

// NewCache wraps entries. Mostly useful in tests.
func NewCache(entries ...models.EmbeddingEntry) *Cache {
	return &Cache{entries: entries}
}

// Len returns the number of known faces. A nil cache is empty.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns the entries in registry order.
func (c *Cache) Entries() []models.EmbeddingEntry {
	if c == nil {
		return nil
	}
	return c.entries
}

// Labels returns the label of every entry in order.
func (c *Cache) Labels() []string {
	out := make([]string, 0, c.Len())
	for _, e := range c.Entries() {
		out = append(out, e.Label)
	}
	return out
}

// BuildCache computes one embedding per record. Records whose image cannot be
// read, decoded, or holds no face are skipped; only the first face of an
// enrollment image is used. The only error returned is ctx's.
func BuildCache(ctx context.Context, records []models.PersonRecord, images ImageSource, eng engine.Engine, logger *slog.Logger) (*Cache, error) {
	c := &Cache{entries: make([]models.EmbeddingEntry, 0, len(records))}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label := rec.Label()

		data, err := images.Read(rec.ImagePath)
		if err != nil {
			logger.Debug("cache: image unresolvable, skipping",
				slog.String("label", label), slog.String("path", rec.ImagePath))
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			logger.Warn("cache: image undecodable, skipping",
				slog.String("label", label), slog.String("path", rec.ImagePath), slog.String("error", err.Error()))
			continue
		}
		faces, err := eng.Detect(ctx, img)
		if err != nil {
			logger.Warn("cache: detection failed, skipping",
				slog.String("label", label), slog.String("error", err.Error()))
			continue
		}
		if len(faces) == 0 {
			logger.Warn("cache: no face in enrollment image, skipping",
				slog.String("label", label), slog.String("path", rec.ImagePath))
			continue
		}
		c.entries = append(c.entries, models.EmbeddingEntry{
			Embedding: faces[0].Embedding,
			Label:     label,
		})
	}
	logger.Info("cache: built",
		slog.Int("records", len(records)), slog.Int("known_faces", len(c.entries)))
	return c, nil
}
