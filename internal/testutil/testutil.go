// Package testutil provides shared test helpers: temp databases, a color-keyed
// fake face engine, scripted capture devices and recording surfaces.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/rollcall/internal/capture"
	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/index"
	"github.com/starford/rollcall/internal/models"
)

// Logger returns a logger that discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "rollcall-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// PNG encodes a solid w×h image of color c.
func PNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Solid(w, h, c)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// JPEG encodes a solid w×h image of color c.
func JPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Solid(w, h, c), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// ColorEngine is a fake engine.Engine keyed on the color of an image's
// top-left pixel: solid images stand in for "a frame showing these faces".
// Downscaling a solid image keeps its color, so the same key works for both
// enrollment images and live frames.
type ColorEngine struct {
	mu    sync.Mutex
	faces map[color.RGBA][]models.DetectedFace
	Calls atomic.Int32
	Err   error
}

var _ engine.Engine = (*ColorEngine)(nil)

// NewColorEngine returns an engine that finds no faces anywhere.
func NewColorEngine() *ColorEngine {
	return &ColorEngine{faces: make(map[color.RGBA][]models.DetectedFace)}
}

// Set declares the faces detected in images of color c.
func (e *ColorEngine) Set(c color.RGBA, faces ...models.DetectedFace) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faces[c] = faces
}

// Detect returns the faces registered for img's color.
func (e *ColorEngine) Detect(ctx context.Context, img image.Image) ([]models.DetectedFace, error) {
	e.Calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	b := img.Bounds()
	key := color.RGBAModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.RGBA)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faces[key], nil
}

// Distance is Euclidean.
func (e *ColorEngine) Distance(a, b models.Embedding) float64 { return engine.Euclidean(a, b) }

// Threshold is the dlib default.
func (e *ColorEngine) Threshold() float64 { return engine.DefaultThreshold }

// Face builds a detected face with the given box and embedding.
func Face(box image.Rectangle, emb ...float32) models.DetectedFace {
	return models.DetectedFace{Box: models.Box(box), Embedding: models.Embedding(emb)}
}

// ErrOpen is returned by a Camera configured to fail opening.
var ErrOpen = errors.New("testutil: camera unplugged")

// Camera is a capture.Source whose devices replay Frame() forever.
type Camera struct {
	mu       sync.Mutex
	frame    image.Image
	FailOpen bool
	// FailReads makes every read fail with capture.ErrNoFrame.
	FailReads atomic.Bool
	// Delay is applied to every read.
	Delay time.Duration

	Opens  atomic.Int32
	Closes atomic.Int32
	Reads  atomic.Int64
}

var _ capture.Source = (*Camera)(nil)

// NewCamera returns a camera showing frame.
func NewCamera(frame image.Image) *Camera {
	return &Camera{frame: frame}
}

// SetFrame changes what subsequent reads return.
func (c *Camera) SetFrame(frame image.Image) {
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
}

// Open returns a new device handle.
func (c *Camera) Open(context.Context) (capture.Device, error) {
	if c.FailOpen {
		return nil, ErrOpen
	}
	c.Opens.Add(1)
	return &cameraDevice{cam: c}, nil
}

type cameraDevice struct {
	cam    *Camera
	closed atomic.Bool
}

func (d *cameraDevice) Read() (image.Image, error) {
	if d.cam.Delay > 0 {
		time.Sleep(d.cam.Delay)
	}
	d.cam.Reads.Add(1)
	if d.closed.Load() {
		return nil, errors.New("testutil: device closed")
	}
	if d.cam.FailReads.Load() {
		return nil, capture.ErrNoFrame
	}
	d.cam.mu.Lock()
	defer d.cam.mu.Unlock()
	return d.cam.frame, nil
}

func (d *cameraDevice) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.cam.Closes.Add(1)
	}
	return nil
}

// Surface records shown frames and replays queued keys.
type Surface struct {
	mu     sync.Mutex
	keys   []capture.Key
	Shown  atomic.Int64
	Closed atomic.Bool
}

// Factory returns a SurfaceFactory handing out s.
func (s *Surface) Factory() capture.SurfaceFactory {
	return func(string) (capture.Surface, error) { return s, nil }
}

// Press queues k for a later Poll.
func (s *Surface) Press(k capture.Key) {
	s.mu.Lock()
	s.keys = append(s.keys, k)
	s.mu.Unlock()
}

func (s *Surface) Show(image.Image) { s.Shown.Add(1) }

func (s *Surface) Poll() capture.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.keys) == 0 {
		return capture.KeyNone
	}
	k := s.keys[0]
	s.keys = s.keys[1:]
	return k
}

func (s *Surface) Close() error {
	s.Closed.Store(true)
	return nil
}

// Recorder is an in-memory attendance recorder.
type Recorder struct {
	mu      sync.Mutex
	Entries []models.AttendanceEntry
	Err     error
}

// Record appends an entry unless Err is set.
func (r *Recorder) Record(_ context.Context, label string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Entries = append(r.Entries, models.AttendanceEntry{Label: label, Timestamp: ts})
	return nil
}

// Count returns how many entries carry label.
func (r *Recorder) Count(label string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Entries {
		if e.Label == label {
			n++
		}
	}
	return n
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Entries)
}
