package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerWSRoute streams hub events. Each client first receives a
// connection event followed by the current status so it can render
// without polling.
func registerWSRoute(mux *http.ServeMux, hub *Hub, controls ControlHooks) {
	log := controls.Logger.With("component", "server.WS")

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		now := time.Now().UTC()
		initial := []any{ConnectionEvent{
			Event:     newEvent("connection", now),
			Connected: true,
		}}
		if controls.Status != nil {
			initial = append(initial, StatusChangedEvent{
				Event:  newEvent("status_changed", now),
				Status: controls.Status(),
			})
		}
		for _, event := range initial {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}
