// Package recognition describes the streaming speech-recognition capability
// the session controller drives. Implementations live elsewhere; the
// controller only ever sees these types.
package recognition

import "context"

// ErrorKind classifies engine errors.
type ErrorKind string

const (
	ErrNoSpeech   ErrorKind = "no-speech"
	ErrAborted    ErrorKind = "aborted"
	ErrNotAllowed ErrorKind = "not-allowed"
	ErrOther      ErrorKind = "other"
)

// Result is one recognized span of a result batch.
type Result struct {
	Text  string
	Final bool
}

// Listener receives engine callbacks. Calls may arrive on any goroutine and in
// any order relative to Start/Stop.
type Listener interface {
	OnStart()
	// OnEnd fires exactly once per started session, including after errors.
	OnEnd()
	OnError(kind ErrorKind, message string)
	// OnResult delivers a batch of spans; index increases monotonically within a session.
	OnResult(index int, results []Result)
}

// Engine is a single continuous recognition handle with interim results enabled.
type Engine interface {
	// Probe reports whether the capability exists at all. Called once at startup.
	Probe() error
	Start(ctx context.Context, l Listener) error
	Stop() error
	// SetLanguage takes effect on the next Start.
	SetLanguage(tag string)
}
