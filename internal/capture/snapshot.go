package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

// Snapshot is a headless surface that keeps the most recent frame as JPEG so
// it can be served over HTTP. It has no keyboard: the pipeline and enrollment
// are driven through their own Stop, Capture and Cancel calls instead.
type Snapshot struct {
	mu   sync.RWMutex
	jpeg []byte
}

// NewSnapshot returns an empty snapshot surface.
func NewSnapshot() *Snapshot { return &Snapshot{} }

// Show encodes frame and replaces the stored snapshot.
func (s *Snapshot) Show(frame image.Image) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 80}); err != nil {
		return
	}
	s.mu.Lock()
	s.jpeg = buf.Bytes()
	s.mu.Unlock()
}

// JPEG returns the latest frame, or nil if none has been shown.
func (s *Snapshot) JPEG() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg
}

// Poll never reports a key.
func (s *Snapshot) Poll() Key { return KeyNone }

// Close keeps the last frame available for late readers.
func (s *Snapshot) Close() error { return nil }

// Factory returns a SurfaceFactory that always hands out s.
func (s *Snapshot) Factory() SurfaceFactory {
	return func(string) (Surface, error) { return s, nil }
}
