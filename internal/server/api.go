package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/session"
	"github.com/sjawhar/live-captioner/internal/settings"
	"github.com/sjawhar/live-captioner/internal/summary"
)

type api struct {
	transcript Transcript
	prefs      PreferenceStore
	controls   ControlHooks
	feedback   *Feedback
	log        *slog.Logger
}

func registerAPIRoutes(mux *http.ServeMux, a *api) {
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("POST /api/start", a.handleStart)
	mux.HandleFunc("POST /api/stop", a.handleStop)

	mux.HandleFunc("GET /api/transcript", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.transcript.Snapshot())
	})

	mux.HandleFunc("POST /api/segments/{id}/edit", a.handleStartEdit)
	mux.HandleFunc("PUT /api/edit", a.handleSetDraft)
	mux.HandleFunc("POST /api/edit/save", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"saved": a.transcript.SaveEdit()})
	})
	mux.HandleFunc("POST /api/edit/cancel", func(w http.ResponseWriter, r *http.Request) {
		a.transcript.CancelEdit()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /api/segments/{id}", a.handleDelete)
	mux.HandleFunc("POST /api/segments/{index}/merge-next", a.handleMergeNext)
	mux.HandleFunc("POST /api/segments/{id}/merge/{nextID}", func(w http.ResponseWriter, r *http.Request) {
		merged := a.transcript.Merge(r.PathValue("id"), r.PathValue("nextID"))
		writeJSON(w, http.StatusOK, map[string]bool{"merged": merged})
	})
	mux.HandleFunc("DELETE /api/segments", func(w http.ResponseWriter, r *http.Request) {
		a.transcript.Clear()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/export", a.handleDownload)
	mux.HandleFunc("POST /api/export", a.handleExport)

	mux.HandleFunc("POST /api/copy/{id}", a.handleCopySegment)
	mux.HandleFunc("POST /api/copy", a.handleCopyAll)

	mux.HandleFunc("GET /api/preferences", a.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", a.handlePutPreferences)
	mux.HandleFunc("GET /api/languages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, settings.SupportedLanguages)
	})

	mux.HandleFunc("GET /api/summary", a.handleLatestSummary)
	mux.HandleFunc("POST /api/summary", a.handleSummary)
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status session.Status
	if a.controls.Status != nil {
		status = a.controls.Status()
	}
	var warnings []string
	if a.controls.Warnings != nil {
		warnings = a.controls.Warnings()
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"warnings":      warnings,
		"copy_feedback": a.feedback.Current(),
	})
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	if a.controls.Start == nil {
		writeJSONError(w, http.StatusServiceUnavailable, session.MsgUnsupported)
		return
	}
	if err := a.controls.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrUnsupported) {
			status = http.StatusServiceUnavailable
		}
		writeJSONError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	if a.controls.Stop != nil {
		a.controls.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleStartEdit(w http.ResponseWriter, r *http.Request) {
	if !a.transcript.StartEdit(r.PathValue("id")) {
		writeJSONError(w, http.StatusNotFound, caption.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.transcript.Snapshot().Editing)
}

func (a *api) handleSetDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Draft string `json:"draft"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode draft: %v", err))
		return
	}
	if !a.transcript.SetDraft(body.Draft) {
		writeJSONError(w, http.StatusConflict, "no edit in progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !a.transcript.Delete(r.PathValue("id")) {
		writeJSONError(w, http.StatusNotFound, caption.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleMergeNext(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid segment index")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"merged": a.transcript.MergeWithNext(index)})
}

// withTimestamps reads the timestamps query flag, defaulting to the saved
// display preference.
func (a *api) withTimestamps(r *http.Request) bool {
	if raw := r.URL.Query().Get("timestamps"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	prefs, err := a.prefs.LoadPreferences()
	if err != nil {
		a.log.Warn("load preferences failed", "error", err)
	}
	return prefs.ShowTimestamps
}

func (a *api) handleDownload(w http.ResponseWriter, r *http.Request) {
	text := caption.TranscriptText(a.transcript.Segments(), a.withTimestamps(r), a.controls.TimestampLayout)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", caption.ExportFilename(time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (a *api) handleExport(w http.ResponseWriter, r *http.Request) {
	if a.controls.Export == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "export not configured")
		return
	}
	path, err := a.controls.Export(a.transcript.Segments(), a.withTimestamps(r))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("export transcript: %v", err))
		return
	}

	resp := map[string]string{"path": path}
	if a.controls.Upload != nil {
		fileID, err := a.controls.Upload(r.Context(), path)
		if err != nil {
			a.log.Warn("drive upload failed", "path", path, "error", err)
			resp["upload_error"] = err.Error()
		} else {
			resp["drive_file_id"] = fileID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleCopySegment(w http.ResponseWriter, r *http.Request) {
	seg, err := a.transcript.Get(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	a.copy(w, seg.Text, MsgTextCopied, MsgTextCopyFailed)
}

func (a *api) handleCopyAll(w http.ResponseWriter, r *http.Request) {
	a.copy(w, caption.FullTranscript(a.transcript.Segments()), MsgTranscriptCopied, MsgTranscriptCopyFailed)
}

func (a *api) copy(w http.ResponseWriter, text, okMsg, failMsg string) {
	if a.controls.Copy == nil {
		a.feedback.Show(failMsg)
		writeJSONError(w, http.StatusServiceUnavailable, failMsg)
		return
	}
	if err := a.controls.Copy(text); err != nil {
		a.log.Warn("clipboard write failed", "error", err)
		a.feedback.Show(failMsg)
		writeJSONError(w, http.StatusInternalServerError, failMsg)
		return
	}
	a.feedback.Show(okMsg)
	writeJSON(w, http.StatusOK, map[string]string{"message": okMsg})
}

func (a *api) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := a.prefs.LoadPreferences()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load preferences: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handlePutPreferences applies a partial update: fields missing from the body
// keep their stored values.
func (a *api) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	prev, err := a.prefs.LoadPreferences()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load preferences: %v", err))
		return
	}

	next := prev
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode preferences: %v", err))
		return
	}
	next.Language = strings.TrimSpace(next.Language)
	if err := next.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.prefs.SavePreferences(next); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("save preferences: %v", err))
		return
	}

	if next.Language != prev.Language && a.controls.OnLanguageChanged != nil {
		a.log.Info("recognition language changed", "from", prev.Language, "to", next.Language)
		a.controls.OnLanguageChanged(next.Language)
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *api) handleSummary(w http.ResponseWriter, r *http.Request) {
	if a.controls.Summarize == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "summaries not configured")
		return
	}
	sum, err := a.controls.Summarize(r.Context(), caption.FullTranscript(a.transcript.Segments()))
	if err != nil {
		if errors.Is(err, summary.ErrTranscriptTooShort) {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("summarize transcript: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *api) handleLatestSummary(w http.ResponseWriter, r *http.Request) {
	if a.controls.LatestSummary == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "summaries not configured")
		return
	}
	sum, ok, err := a.controls.LatestSummary()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load summary: %v", err))
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no summary yet")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
