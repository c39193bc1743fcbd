package session

import "errors"

var (
	// ErrUnsupported is returned by Start when no recognition engine is available.
	ErrUnsupported = errors.New(MsgUnsupported)
	// ErrAlreadyRunning is returned by Run when the controller loop is already active.
	ErrAlreadyRunning = errors.New("session controller already running")
)
