package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/live-captioner/internal/recognition"
)

var (
	ErrAlreadyRunning = errors.New("recognition session already running")
	ErrNoAPIKey       = errors.New("deepgram API key not configured")
	ErrNoMicrophone   = errors.New("no microphone available")
	ErrConnect        = errors.New("deepgram connect failed")
)

// Config describes the live transcription request.
type Config struct {
	APIKey      string
	Model       string
	Language    string
	SampleRates []int
}

type liveClient interface {
	io.Writer
	Connect() bool
	Stop()
}

type dialFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveClient, error)

type micStream interface {
	Start() error
	Stream(w io.Writer) error
	Stop() error
}

type micOpener func(sampleRate int) (micStream, error)

// Engine is a recognition.Engine backed by the Deepgram live API. The
// microphone opens once during Probe and streams for the lifetime of the
// engine; audio reaches Deepgram only while a session is active.
type Engine struct {
	cfg     Config
	dial    dialFunc
	openMic micOpener
	log     *slog.Logger

	mu         sync.Mutex
	language   string
	mic        micStream
	sampleRate int
	session    *liveSession
	stopStream context.CancelFunc
	streamDone chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	apiKey := cfg.APIKey
	return &Engine{
		cfg:      cfg,
		language: cfg.Language,
		log:      logger.With("component", "deepgram.Engine"),
		dial: func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (liveClient, error) {
			c, err := client.NewWSUsingCallback(ctx, apiKey, &interfaces.ClientOptions{EnableKeepAlive: true}, opts, cb)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		openMic: func(rate int) (micStream, error) {
			return microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
		},
	}
}

// Probe checks the API key and opens the first microphone sample rate that
// works, then starts streaming audio.
func (e *Engine) Probe() error {
	if e.cfg.APIKey == "" {
		return ErrNoAPIKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mic != nil {
		return nil
	}

	var lastErr error
	for _, rate := range e.cfg.SampleRates {
		mic, err := e.openMic(rate)
		if err != nil {
			e.log.Warn("microphone open failed", "sample_rate", rate, "error", err)
			lastErr = err
			continue
		}
		if err := mic.Start(); err != nil {
			e.log.Warn("microphone start failed", "sample_rate", rate, "error", err)
			lastErr = err
			continue
		}
		e.mic = mic
		e.sampleRate = rate
		break
	}
	if e.mic == nil {
		if lastErr != nil {
			return fmt.Errorf("%w: %v", ErrNoMicrophone, lastErr)
		}
		return ErrNoMicrophone
	}
	e.log.Info("microphone started", "sample_rate", e.sampleRate)

	ctx, cancel := context.WithCancel(context.Background())
	e.stopStream = cancel
	e.streamDone = make(chan struct{})
	go func(mic micStream, done chan struct{}) {
		defer close(done)
		streamWithRetry(ctx, mic, sink{e}, waitFor, e.log)
	}(e.mic, e.streamDone)
	return nil
}

func (e *Engine) SetLanguage(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = tag
}

// Start opens a fresh live connection and reports OnStart once it is up.
func (e *Engine) Start(ctx context.Context, l recognition.Listener) error {
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if e.mic == nil {
		e.mu.Unlock()
		return ErrNoMicrophone
	}
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          e.cfg.Model,
		Language:       e.language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       "linear16",
		SampleRate:     e.sampleRate,
		Channels:       1,
	}
	e.mu.Unlock()

	s := &liveSession{engine: e, listener: l, log: e.log}
	c, err := e.dial(ctx, opts, s)
	if err != nil {
		return fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := c.Connect(); !ok {
		// The session never started, so the listener hears only the failure.
		s.endOnce.Do(func() {})
		return ErrConnect
	}
	s.client = c

	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		c.Stop()
		return ErrAlreadyRunning
	}
	e.session = s
	e.mu.Unlock()

	e.log.Info("deepgram session opened", "language", opts.Language)
	s.started()
	return nil
}

// Stop closes the active connection. OnEnd fires exactly once per session.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s == nil {
		return nil
	}
	s.client.Stop()
	s.ended()
	return nil
}

// Close stops any session and releases the microphone.
func (e *Engine) Close() error {
	_ = e.Stop()

	e.mu.Lock()
	mic := e.mic
	cancel := e.stopStream
	done := e.streamDone
	e.mic = nil
	e.mu.Unlock()

	if mic == nil {
		return nil
	}
	cancel()
	err := mic.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.log.Warn("microphone stream did not stop")
	}
	if err != nil {
		return fmt.Errorf("stop microphone: %w", err)
	}
	return nil
}

// detach drops s if it is still the active session.
func (e *Engine) detach(s *liveSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == s {
		e.session = nil
	}
}

func (e *Engine) write(p []byte) (int, error) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil || s.client == nil {
		return len(p), nil
	}
	if _, err := s.client.Write(p); err != nil {
		e.log.Debug("deepgram write failed", "error", err)
	}
	return len(p), nil
}

// sink forwards microphone audio to whichever session is active.
type sink struct{ e *Engine }

func (s sink) Write(p []byte) (int, error) { return s.e.write(p) }
