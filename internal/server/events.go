package server

import (
	"time"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

// TranscriptChangedEvent carries the full buffer contents after any change.
type TranscriptChangedEvent struct {
	Event
	caption.Snapshot
}

type StatusChangedEvent struct {
	Event
	Status session.Status `json:"status"`
}

// CopyFeedbackEvent announces a copy result. An empty message clears it.
type CopyFeedbackEvent struct {
	Event
	Message string `json:"message"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
