package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrReadTimeout is returned when a frame did not arrive within the read timeout.
var ErrReadTimeout = errors.New("capture: read timed out")

type readResult struct {
	img image.Image
	err error
}

// Reader turns the blocking Device.Read into a cancellable call with a
// timeout. At most one device read is outstanding: when a read times out or
// is cancelled, its result is picked up by the next call instead of starting
// a second concurrent read.
type Reader struct {
	dev     Device
	timeout time.Duration
	pending chan readResult
}

// NewReader wraps dev. A zero timeout waits until ctx is done.
func NewReader(dev Device, timeout time.Duration) *Reader {
	return &Reader{dev: dev, timeout: timeout}
}

// Read returns the next frame, ErrReadTimeout, ctx.Err(), or the device error.
func (r *Reader) Read(ctx context.Context) (image.Image, error) {
	if r.pending == nil {
		ch := make(chan readResult, 1)
		r.pending = ch
		go func() {
			img, err := r.dev.Read()
			ch <- readResult{img: img, err: err}
		}()
	}

	var timeout <-chan time.Time
	if r.timeout > 0 {
		t := time.NewTimer(r.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-r.pending:
		r.pending = nil
		return res.img, res.err
	case <-timeout:
		return nil, ErrReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the device. An outstanding read is left to finish on its own;
// devices are expected to unblock Read when closed.
func (r *Reader) Close() error {
	return r.dev.Close()
}
