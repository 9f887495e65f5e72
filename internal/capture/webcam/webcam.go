// Package webcam provides OpenCV-backed capture devices and display windows.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/starford/rollcall/internal/capture"
)

// Source opens a camera by index ("0") or by URL / file path.
type Source struct {
	Device string
}

var _ capture.Source = Source{}

// Open opens a new, independent capture handle.
func (s Source) Open(_ context.Context) (capture.Device, error) {
	var id interface{} = s.Device
	if n, err := strconv.Atoi(s.Device); err == nil {
		id = n
	}
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("webcam: open %q: %w", s.Device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("webcam: device %q not opened", s.Device)
	}
	return newDevice(vc), nil
}

// Device is an opened gocv.VideoCapture. Close does not wait for a stalled
// Read; the handle is released once that read returns.
type Device struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	guard *capture.ReadGuard
}

func newDevice(vc *gocv.VideoCapture) *Device {
	d := &Device{vc: vc, mat: gocv.NewMat()}
	d.guard = capture.NewReadGuard(func() error {
		_ = d.mat.Close()
		return d.vc.Close()
	})
	return d
}

var errClosed = errors.New("webcam: device closed")

// Read grabs the next frame and converts it to an image.Image.
func (d *Device) Read() (image.Image, error) {
	if !d.guard.Begin() {
		return nil, errClosed
	}
	ok := d.vc.Read(&d.mat)

	var (
		img image.Image
		err error
	)
	open := d.guard.End(func() {
		if !ok || d.mat.Empty() {
			err = capture.ErrNoFrame
			return
		}
		if img, err = d.mat.ToImage(); err != nil {
			err = fmt.Errorf("webcam: convert frame: %w", err)
		}
	})
	if !open {
		return nil, errClosed
	}
	return img, err
}

// Close releases the capture handle, or marks it for release after an
// in-flight Read.
func (d *Device) Close() error {
	return d.guard.Close()
}

// Window is a HighGUI window surface. SPACE maps to capture.KeyCapture and
// ESC to capture.KeyCancel. HighGUI must be driven from one goroutine; the
// pipeline worker and the enrollment preview each own their window.
type Window struct {
	win *gocv.Window
	key capture.Key
}

// NewWindow is a capture.SurfaceFactory.
func NewWindow(title string) (capture.Surface, error) {
	return &Window{win: gocv.NewWindow(title)}, nil
}

// Show renders frame and records any key pressed meanwhile.
func (w *Window) Show(frame image.Image) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return
	}
	defer mat.Close()
	w.win.IMShow(mat)
	switch w.win.WaitKey(1) & 0xFF {
	case 27:
		w.key = capture.KeyCancel
	case 32:
		w.key = capture.KeyCapture
	}
}

// Poll returns and clears the last key.
func (w *Window) Poll() capture.Key {
	k := w.key
	w.key = capture.KeyNone
	return k
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}
