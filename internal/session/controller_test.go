package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/live-captioner/internal/recognition"
)

type engineMock struct {
	mu        sync.Mutex
	probeErr  error
	startErr  error
	listeners []recognition.Listener
	stops     int
	language  string
}

func (e *engineMock) Probe() error { return e.probeErr }

func (e *engineMock) Start(_ context.Context, l recognition.Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.listeners = append(e.listeners, l)
	return nil
}

func (e *engineMock) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *engineMock) SetLanguage(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = tag
}

func (e *engineMock) starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *engineMock) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *engineMock) listener(i int) recognition.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listeners[i]
}

type transcriptMock struct {
	mu       sync.Mutex
	appended []string
	current  string
}

func (tr *transcriptMock) Append(text string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.appended = append(tr.appended, text)
}

func (tr *transcriptMock) SetCurrent(text string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.current = text
}

func (tr *transcriptMock) snapshot() ([]string, string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.appended...), tr.current
}

type stateStoreMock struct {
	mu     sync.Mutex
	values []bool
}

func (s *stateStoreMock) SaveUserInitiated(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
	return nil
}

func (s *stateStoreMock) saved() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.values...)
}

type hubMock struct {
	mu       sync.Mutex
	statuses []Status
}

func (h *hubMock) BroadcastStatusChanged(st Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, st)
}

func (h *hubMock) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.statuses)
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := !f.stopped
	f.stopped = true
	return was
}

func (f *fakeTimer) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fire runs the callback even when stopped, like a timer that raced its cancel.
func (f *fakeTimer) fire() { f.fn() }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

type controllerFixture struct {
	ctrl       *Controller
	engine     *engineMock
	transcript *transcriptMock
	store      *stateStoreMock
	hub        *hubMock
	clock      *fakeClock
	cancel     context.CancelFunc
	done       chan struct{}
	runErr     error
}

func newControllerFixture(t *testing.T, engine *engineMock, opts Options) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		engine:     engine,
		transcript: &transcriptMock{},
		store:      &stateStoreMock{},
		hub:        &hubMock{},
		clock:      &fakeClock{},
		done:       make(chan struct{}),
	}
	opts.afterFunc = f.clock.AfterFunc
	f.ctrl = NewController(engine, f.transcript, f.store, f.hub, opts)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		f.runErr = f.ctrl.Run(ctx)
		close(f.done)
	}()
	t.Cleanup(f.shutdown)
	return f
}

func (f *controllerFixture) shutdown() {
	f.cancel()
	select {
	case <-f.done:
	case <-time.After(time.Second):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControllerCaptureEndRestartStop(t *testing.T) {
	f := newControllerFixture(t, &engineMock{}, Options{})

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "engine start", func() bool { return f.engine.starts() == 1 })

	l := f.engine.listener(0)
	l.OnStart()
	l.OnResult(0, []recognition.Result{{Text: "hel"}})
	l.OnResult(0, []recognition.Result{{Text: "hello", Final: true}})
	waitFor(t, "final appended", func() bool {
		appended, current := f.transcript.snapshot()
		return len(appended) == 1 && appended[0] == "hello" && current == ""
	})
	if !f.ctrl.Status().Listening {
		t.Fatalf("expected listening status, got %+v", f.ctrl.Status())
	}

	l.OnEnd()
	waitFor(t, "restarting", func() bool { return f.ctrl.Status().Restarting })
	if f.clock.count() != 1 {
		t.Fatalf("expected exactly one restart timer, got %d", f.clock.count())
	}
	if got := f.clock.timer(0).delay; got != 500*time.Millisecond {
		t.Fatalf("expected 500ms restart delay, got %v", got)
	}

	f.ctrl.Stop()
	waitFor(t, "idle", func() bool { return f.ctrl.Status().State == "idle" })
	if !f.clock.timer(0).isStopped() {
		t.Fatal("expected restart timer to be cancelled")
	}

	f.clock.timer(0).fire()
	time.Sleep(50 * time.Millisecond)
	if f.engine.starts() != 1 {
		t.Fatalf("expected no engine start after stop, got %d starts", f.engine.starts())
	}

	saved := f.store.saved()
	if len(saved) != 2 || !saved[0] || saved[1] {
		t.Fatalf("unexpected persisted flags %v", saved)
	}
	if f.hub.count() == 0 {
		t.Fatal("expected status broadcasts")
	}
}

func TestControllerRestartTimerStartsEngine(t *testing.T) {
	f := newControllerFixture(t, &engineMock{}, Options{})

	_ = f.ctrl.Start()
	waitFor(t, "engine start", func() bool { return f.engine.starts() == 1 })
	l := f.engine.listener(0)
	l.OnStart()
	l.OnEnd()
	waitFor(t, "restart timer", func() bool { return f.clock.count() == 1 })

	f.clock.timer(0).fire()
	waitFor(t, "engine restart", func() bool { return f.engine.starts() == 2 })

	// Callbacks from the first session are stale now.
	l.OnEnd()
	f.engine.listener(1).OnStart()
	waitFor(t, "listening", func() bool { return f.ctrl.Status().Listening })
	if f.clock.count() != 1 {
		t.Fatalf("stale end scheduled a restart: %d timers", f.clock.count())
	}
}

func TestControllerNotAllowedStopsCapture(t *testing.T) {
	f := newControllerFixture(t, &engineMock{}, Options{})

	_ = f.ctrl.Start()
	waitFor(t, "engine start", func() bool { return f.engine.starts() == 1 })
	l := f.engine.listener(0)
	l.OnStart()
	l.OnError(recognition.ErrNotAllowed, "permission denied")
	l.OnEnd()

	waitFor(t, "error status", func() bool { return f.ctrl.Status().LastError == MsgMicrophoneDenied })
	st := f.ctrl.Status()
	if st.UserInitiated || st.State != "idle" {
		t.Fatalf("unexpected status %+v", st)
	}
	waitFor(t, "engine stop", func() bool { return f.engine.stopCount() == 1 })
	if f.clock.count() != 0 {
		t.Fatalf("expected no restart timer, got %d", f.clock.count())
	}
}

func TestControllerStartFailureReportsError(t *testing.T) {
	f := newControllerFixture(t, &engineMock{startErr: errors.New("device busy")}, Options{})

	_ = f.ctrl.Start()
	waitFor(t, "start failure", func() bool { return f.ctrl.Status().LastError == MsgStartFailed })
	if f.ctrl.Status().State != "idle" {
		t.Fatalf("expected idle, got %+v", f.ctrl.Status())
	}
}

func TestControllerUnsupportedEngine(t *testing.T) {
	f := newControllerFixture(t, &engineMock{probeErr: errors.New("DEEPGRAM_API_KEY is not set")}, Options{})

	if err := f.ctrl.Start(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	st := f.ctrl.Status()
	if st.Supported || st.State != "unsupported" || st.LastError == "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if f.ctrl.Resume() {
		t.Fatal("resume must not start an unsupported engine")
	}
}

func TestControllerResumeUsesPersistedFlag(t *testing.T) {
	f := newControllerFixture(t, &engineMock{}, Options{UserInitiated: true})

	if !f.ctrl.Resume() {
		t.Fatal("expected resume to start capture")
	}
	waitFor(t, "engine start", func() bool { return f.engine.starts() == 1 })
	if saved := f.store.saved(); len(saved) != 0 {
		t.Fatalf("resume must not rewrite an unchanged flag, got %v", saved)
	}

	idle := newControllerFixture(t, &engineMock{}, Options{})
	if idle.ctrl.Resume() {
		t.Fatal("resume without persisted intent must not start")
	}
}

func TestControllerReconfigureRestartsListeningEngine(t *testing.T) {
	f := newControllerFixture(t, &engineMock{}, Options{})

	_ = f.ctrl.Start()
	waitFor(t, "engine start", func() bool { return f.engine.starts() == 1 })
	f.engine.listener(0).OnStart()
	waitFor(t, "listening", func() bool { return f.ctrl.Status().Listening })

	f.ctrl.Reconfigure()
	waitFor(t, "engine stop", func() bool { return f.engine.stopCount() == 1 })
	f.engine.listener(0).OnEnd()
	waitFor(t, "restart timer", func() bool { return f.clock.count() == 1 })
	if !f.ctrl.Status().UserInitiated {
		t.Fatal("reconfigure must keep user intent")
	}
}

func TestControllerShutdownStopsEngine(t *testing.T) {
	engine := &engineMock{}
	f := newControllerFixture(t, engine, Options{})

	_ = f.ctrl.Start()
	waitFor(t, "engine start", func() bool { return engine.starts() == 1 })

	f.cancel()
	select {
	case <-f.done:
		if f.runErr != nil {
			t.Fatalf("run: %v", f.runErr)
		}
	case <-time.After(time.Second):
		t.Fatal("controller did not stop")
	}
	if engine.stopCount() != 1 {
		t.Fatalf("expected engine stop on shutdown, got %d", engine.stopCount())
	}

	// Posting after shutdown must not block.
	f.ctrl.Stop()
	if err := f.ctrl.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
