package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/live-captioner/internal/llm"
	"github.com/sjawhar/live-captioner/internal/storage"
)

// MinWords is the shortest transcript worth summarizing.
const MinWords = 20

// ErrTranscriptTooShort is returned for transcripts under MinWords words.
var ErrTranscriptTooShort = errors.New("transcript too short to summarize")

const systemPrompt = "Summarize the following live caption transcript concisely in markdown. Include the main topics, any decisions made, and action items if any."

// Store persists generated summaries keyed by transcript hash.
type Store interface {
	FindSummary(transcriptHash string) (storage.Summary, bool, error)
	SaveSummary(sum storage.Summary) error
}

type Summarizer struct {
	client llm.Client
	store  Store
	sleep  func(time.Duration)
	now    func() time.Time
	log    *slog.Logger
}

func New(client llm.Client, store Store, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		client: client,
		store:  store,
		sleep:  time.Sleep,
		now:    time.Now,
		log:    logger.With("component", "summary.Summarizer", "model", client.Model()),
	}
}

// Summarize returns a markdown summary of transcript. A transcript that was
// already summarized returns the stored result without calling the model.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (storage.Summary, error) {
	if len(strings.Fields(transcript)) < MinWords {
		return storage.Summary{}, ErrTranscriptTooShort
	}

	hash := sha256.Sum256([]byte(transcript))
	transcriptHash := hex.EncodeToString(hash[:])

	if s.store != nil {
		cached, ok, err := s.store.FindSummary(transcriptHash)
		if err != nil {
			return storage.Summary{}, fmt.Errorf("look up summary: %w", err)
		}
		if ok {
			return cached, nil
		}
	}

	prompt := llm.Prompt{
		System: systemPrompt,
		User:   SampleTranscript(transcript, 3000, 1000, 2000),
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		text, err := s.client.Complete(ctx, prompt)
		if err == nil {
			sum := storage.Summary{
				Text:           text,
				Model:          s.client.Model(),
				TranscriptHash: transcriptHash,
				CreatedAt:      s.now().UTC(),
			}
			if s.store != nil {
				if err := s.store.SaveSummary(sum); err != nil {
					s.log.Warn("persist summary failed", "error", err)
				}
			}
			return sum, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			s.log.Warn("summary request failed, retrying", "attempt", attempt+1, "error", err)
			s.sleep(backoff[attempt])
		}
	}

	return storage.Summary{}, fmt.Errorf("summary failed after retries: %w", lastErr)
}

// SampleTranscript keeps the first, middle and last words of a long
// transcript, marking the gaps with [...].
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}
