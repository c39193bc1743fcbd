package deepgram

import (
	"log/slog"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/sjawhar/live-captioner/internal/recognition"
)

// liveSession adapts one Deepgram connection's callbacks to a recognition.Listener.
type liveSession struct {
	engine   *Engine
	listener recognition.Listener
	client   liveClient
	log      *slog.Logger

	startOnce sync.Once
	endOnce   sync.Once

	mu    sync.Mutex
	index int
}

func (s *liveSession) started() {
	s.startOnce.Do(s.listener.OnStart)
}

func (s *liveSession) ended() {
	s.endOnce.Do(func() {
		s.engine.detach(s)
		s.listener.OnEnd()
	})
}

func (s *liveSession) Open(*api.OpenResponse) error {
	s.log.Debug("deepgram connection open")
	return nil
}

// Message forwards a transcript. Finals advance the result index so interim
// text is always reported against the next unfinished position.
func (s *liveSession) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript

	s.mu.Lock()
	index := s.index
	if mr.IsFinal {
		s.index++
	}
	s.mu.Unlock()

	s.listener.OnResult(index, []recognition.Result{{Text: text, Final: mr.IsFinal}})
	return nil
}

func (s *liveSession) Metadata(*api.MetadataResponse) error { return nil }

func (s *liveSession) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (s *liveSession) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (s *liveSession) Close(*api.CloseResponse) error {
	s.log.Info("deepgram connection closed")
	s.ended()
	return nil
}

func (s *liveSession) Error(er *api.ErrorResponse) error {
	kind := classifyError(er.ErrCode, er.Description)
	s.log.Warn("deepgram error", "code", er.ErrCode, "description", er.Description, "kind", kind)
	s.listener.OnError(kind, errorMessage(er.ErrCode, er.Description))
	return nil
}

func (s *liveSession) UnhandledEvent([]byte) error { return nil }

// classifyError maps Deepgram error codes onto recognition error kinds.
func classifyError(code, description string) recognition.ErrorKind {
	lc := strings.ToLower(code + " " + description)
	switch {
	case strings.Contains(lc, "401"), strings.Contains(lc, "403"),
		strings.Contains(lc, "unauthorized"), strings.Contains(lc, "forbidden"),
		strings.Contains(lc, "invalid credentials"):
		return recognition.ErrNotAllowed
	case strings.Contains(lc, "net-0001"), strings.Contains(lc, "did not receive audio"):
		return recognition.ErrNoSpeech
	case strings.Contains(lc, "context canceled"), strings.Contains(lc, "use of closed network connection"):
		return recognition.ErrAborted
	default:
		return recognition.ErrOther
	}
}

func errorMessage(code, description string) string {
	code = strings.TrimSpace(code)
	description = strings.TrimSpace(description)
	switch {
	case code == "":
		return description
	case description == "":
		return code
	default:
		return code + ": " + description
	}
}
