package server

import (
	"sync"
	"time"
)

const (
	MsgTextCopied           = "Text copied!"
	MsgTextCopyFailed       = "Failed to copy text"
	MsgTranscriptCopied     = "Full transcript copied!"
	MsgTranscriptCopyFailed = "Failed to copy transcript"

	feedbackTTL = 2 * time.Second
)

type stopper interface {
	Stop() bool
}

// Feedback holds the most recent copy message and clears it after a delay.
// A newer message restarts the delay.
type Feedback struct {
	hub       *Hub
	ttl       time.Duration
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	message string
	gen     uint64
	timer   stopper
}

func NewFeedback(hub *Hub) *Feedback {
	return &Feedback{
		hub: hub,
		ttl: feedbackTTL,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

func (f *Feedback) Show(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gen++
	gen := f.gen
	f.message = message
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = f.afterFunc(f.ttl, func() { f.expire(gen) })
	f.hub.BroadcastCopyFeedback(message)
}

func (f *Feedback) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

func (f *Feedback) expire(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.gen || f.message == "" {
		return
	}
	f.message = ""
	f.timer = nil
	f.hub.BroadcastCopyFeedback("")
}
