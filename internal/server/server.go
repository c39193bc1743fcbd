package server

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/session"
	"github.com/sjawhar/live-captioner/internal/settings"
	"github.com/sjawhar/live-captioner/internal/storage"
)

// Transcript is the caption buffer as seen by the HTTP API.
type Transcript interface {
	Snapshot() caption.Snapshot
	Segments() []caption.Segment
	Get(id string) (caption.Segment, error)
	StartEdit(id string) bool
	SetDraft(text string) bool
	SaveEdit() bool
	CancelEdit()
	Delete(id string) bool
	MergeWithNext(index int) bool
	Merge(id, nextID string) bool
	Clear()
}

type PreferenceStore interface {
	LoadPreferences() (settings.Preferences, error)
	SavePreferences(prefs settings.Preferences) error
}

// ControlHooks connect the API to the rest of the application. Nil hooks
// disable the feature they back.
type ControlHooks struct {
	Start             func() error
	Stop              func()
	Status            func() session.Status
	Warnings          func() []string
	OnLanguageChanged func(tag string)

	Copy      func(text string) error
	Export    func(segments []caption.Segment, withTimestamps bool) (string, error)
	Upload    func(ctx context.Context, path string) (string, error)
	Summarize func(ctx context.Context, transcript string) (storage.Summary, error)
	// LatestSummary reports the most recent stored summary.
	LatestSummary func() (storage.Summary, bool, error)

	TimestampLayout string
	Logger          *slog.Logger
}

func Handler(staticFS fs.FS, hub *Hub, transcript Transcript, prefs PreferenceStore, controls ControlHooks) (http.Handler, error) {
	if controls.Logger == nil {
		controls.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	registerWSRoute(mux, hub, controls)
	registerAPIRoutes(mux, &api{
		transcript: transcript,
		prefs:      prefs,
		controls:   controls,
		feedback:   NewFeedback(hub),
		log:        controls.Logger.With("component", "server.API"),
	})

	fileServer := http.FileServer(http.FS(staticFS))
	mux.HandleFunc("/", serveSPA(fileServer))

	return mux, nil
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
