// Package capture defines the camera and display-surface contracts used by the
// recognition pipeline and the enrollment workflow.
package capture

import (
	"context"
	"errors"
	"image"
)

// ErrNoFrame is returned by Device.Read when the device delivered nothing.
// Callers treat it as transient.
var ErrNoFrame = errors.New("capture: no frame")

// Device is an opened capture device. Read blocks until a frame is available.
// A Device is read by one goroutine at a time.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// Source opens capture devices. Every call returns an independent handle.
type Source interface {
	Open(ctx context.Context) (Device, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Device, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context) (Device, error) { return f(ctx) }

// Key is an operator input polled from a display surface.
type Key int

const (
	KeyNone Key = iota
	// KeyCapture asks the enrollment preview to keep the current frame.
	KeyCapture
	// KeyCancel aborts the current loop (ESC).
	KeyCancel
)

// Surface shows frames to an operator and reports operator input.
type Surface interface {
	Show(frame image.Image)
	// Poll returns the operator input received since the last call.
	Poll() Key
	Close() error
}

// SurfaceFactory opens a surface with the given title.
type SurfaceFactory func(title string) (Surface, error)

// NullSurface discards frames and never reports input.
type NullSurface struct{}

func (NullSurface) Show(image.Image) {}

func (NullSurface) Poll() Key { return KeyNone }

func (NullSurface) Close() error { return nil }

// NullSurfaces is a SurfaceFactory returning NullSurface.
func NullSurfaces(string) (Surface, error) { return NullSurface{}, nil }
