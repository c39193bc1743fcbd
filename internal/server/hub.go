package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/session"
)

// Hub fans events out to websocket subscribers. Slow subscribers drop messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	log     *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		log:     slog.Default().With("component", "server.Hub"),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastTranscript(snap caption.Snapshot) {
	h.broadcastEvent(TranscriptChangedEvent{
		Event:    newEvent("transcript_changed", time.Now().UTC()),
		Snapshot: snap,
	})
}

func (h *Hub) BroadcastStatusChanged(status session.Status) {
	h.broadcastEvent(StatusChangedEvent{
		Event:  newEvent("status_changed", time.Now().UTC()),
		Status: status,
	})
}

func (h *Hub) BroadcastCopyFeedback(message string) {
	h.broadcastEvent(CopyFeedbackEvent{
		Event:   newEvent("copy_feedback", time.Now().UTC()),
		Message: message,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
