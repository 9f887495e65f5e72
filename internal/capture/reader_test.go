package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"
)

type slowDevice struct {
	delay time.Duration
	reads atomic.Int32
}

func (d *slowDevice) Read() (image.Image, error) {
	d.reads.Add(1)
	time.Sleep(d.delay)
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (d *slowDevice) Close() error { return nil }

func TestReader_ReturnsFrame(t *testing.T) {
	r := NewReader(&slowDevice{}, time.Second)
	img, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if img.Bounds().Dx() != 2 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestReader_TimeoutKeepsSingleRead(t *testing.T) {
	dev := &slowDevice{delay: 150 * time.Millisecond}
	r := NewReader(dev, 20*time.Millisecond)

	if _, err := r.Read(context.Background()); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}
	if _, err := r.Read(context.Background()); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}
	if n := dev.reads.Load(); n != 1 {
		t.Errorf("device reads = %d, want 1 outstanding read", n)
	}

	r.timeout = time.Second
	if _, err := r.Read(context.Background()); err != nil {
		t.Fatalf("Read after timeout: %v", err)
	}
	if n := dev.reads.Load(); n != 1 {
		t.Errorf("device reads = %d, want 1 (pending read reused)", n)
	}
}

func TestReader_Cancelled(t *testing.T) {
	r := NewReader(&slowDevice{delay: time.Second}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if _, err := r.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancelled read did not return promptly")
	}
}

func TestSnapshot_KeepsLatestFrame(t *testing.T) {
	s := NewSnapshot()
	if s.JPEG() != nil {
		t.Fatal("expected no frame yet")
	}
	s.Show(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if len(s.JPEG()) == 0 {
		t.Error("expected JPEG after Show")
	}
	first := s.JPEG()
	s.Show(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if bytes.Equal(first, s.JPEG()) {
		t.Error("expected the newer frame to replace the first")
	}
	if err := s.Close(); err != nil || len(s.JPEG()) == 0 {
		t.Errorf("Close = %v; frame should stay available", err)
	}
	if k := s.Poll(); k != KeyNone {
		t.Errorf("key = %v, want KeyNone", k)
	}
}
