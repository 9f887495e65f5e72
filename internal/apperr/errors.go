// Package apperr holds the sentinel errors shared by services and control surfaces.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation marks caller input that was rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrDeviceOpen is returned when the capture device cannot be opened.
	ErrDeviceOpen = errors.New("capture device unavailable")
	// ErrBusy is returned when an exclusive workflow is already in progress.
	ErrBusy = errors.New("busy")
	// ErrNoActiveSession is returned when no enrollment session is open.
	ErrNoActiveSession = errors.New("no active enrollment session")
)
