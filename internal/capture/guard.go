package capture

import "sync"

// ReadGuard lets a device be closed while a blocking read is still in
// flight. Close marks the device closed and returns at once; the underlying
// handle is released as soon as the read ends, never while it is in use.
// It supports one read at a time, which is what Reader guarantees.
type ReadGuard struct {
	mu      sync.Mutex
	release func() error
	reading bool
	closed  bool
}

// NewReadGuard returns a guard that calls release exactly once.
func NewReadGuard(release func() error) *ReadGuard {
	return &ReadGuard{release: release}
}

// Begin marks a read in flight. It reports false once the device is closed.
func (g *ReadGuard) Begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.reading = true
	return true
}

// End finishes the read started by Begin. fn runs while the handle is still
// valid, typically to convert the grabbed frame. If Close was called during
// the read, fn is skipped, the handle is released and End reports false.
func (g *ReadGuard) End(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reading = false
	if g.closed {
		_ = g.release()
		return false
	}
	fn()
	return true
}

// Close releases the handle now, or after the in-flight read ends.
func (g *ReadGuard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.reading {
		return nil
	}
	return g.release()
}
