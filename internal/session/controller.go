package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/live-captioner/internal/recognition"
)

// Controller drives one recognition engine through the state machine. All
// transitions run on the goroutine executing Run; engine start/stop calls run
// in order on a separate worker so a slow connect never blocks a Stop.
type Controller struct {
	engine     recognition.Engine
	transcript Transcript
	store      StateStore
	hub        StatusBroadcaster
	policy     Policy
	log        *slog.Logger
	now        func() time.Time
	afterFunc  func(time.Duration, func()) timer

	events     chan Event
	engineCmds chan Effect
	done       chan struct{}
	running    sync.Once

	// Owned by the Run goroutine.
	model   Model
	restart timer

	mu     sync.RWMutex
	status Status
}

type timer interface {
	Stop() bool
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Policy Policy
	// UserInitiated is the persisted flag from the previous run.
	UserInitiated bool
	Logger        *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer
}

// NewController probes the engine once and builds a controller in Idle, or in
// Unsupported when the probe fails.
func NewController(engine recognition.Engine, transcript Transcript, store StateStore, hub StatusBroadcaster, opts Options) *Controller {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.afterFunc == nil {
		opts.afterFunc = func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }
	}

	c := &Controller{
		engine:     engine,
		transcript: transcript,
		store:      store,
		hub:        hub,
		policy:     opts.Policy,
		log:        opts.Logger.With("component", "session.Controller"),
		now:        opts.now,
		afterFunc:  opts.afterFunc,
		events:     make(chan Event, 128),
		engineCmds: make(chan Effect, 16),
		done:       make(chan struct{}),
	}

	var probeErr error
	if engine == nil {
		probeErr = ErrUnsupported
	} else {
		probeErr = engine.Probe()
	}
	if probeErr != nil {
		c.log.Warn("speech recognition unavailable", "error", probeErr)
	}

	c.model = NewModel(probeErr, opts.UserInitiated)
	c.status = statusOf(c.model)
	return c
}

// Run processes events until ctx is done, then stops the engine.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.running.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runEngine(ctx)
	}()

	defer func() {
		close(c.done)
		if c.restart != nil {
			c.restart.Stop()
		}
		if c.model.State == StateListening {
			c.engineCmds <- StopEngine{}
		}
		close(c.engineCmds)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Start requests capture. It returns ErrUnsupported when the engine failed
// its startup probe; engine failures are reported through Status.
func (c *Controller) Start() error {
	if !c.Status().Supported {
		return ErrUnsupported
	}
	c.post(UserStart{})
	return nil
}

func (c *Controller) Stop() { c.post(UserStop{}) }

// Reconfigure restarts a running engine so it picks up a new language.
func (c *Controller) Reconfigure() { c.post(Reconfigure{}) }

// Resume starts capture when the previous run ended with capture requested.
func (c *Controller) Resume() bool {
	st := c.Status()
	if !st.Supported || !st.UserInitiated {
		return false
	}
	c.log.Info("resuming capture requested by previous run")
	return c.Start() == nil
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handle(ev Event) {
	prev := c.model
	next, effects := Transition(c.model, ev, c.policy)
	c.model = next

	if prev.State != next.State {
		c.log.Info("session state changed", "from", prev.State, "to", next.State, "event", eventName(ev))
	} else {
		c.log.Debug("session event", "state", next.State, "event", eventName(ev))
	}

	for _, eff := range effects {
		c.apply(eff)
	}
	c.publish()
}

func (c *Controller) apply(eff Effect) {
	switch e := eff.(type) {
	case StartEngine, StopEngine:
		c.engineCmds <- e
	case ScheduleRestart:
		if c.restart != nil {
			c.restart.Stop()
		}
		gen := e.Gen
		c.restart = c.afterFunc(e.Delay, func() { c.post(RestartTimerFired{Gen: gen}) })
	case CancelRestart:
		if c.restart != nil {
			c.restart.Stop()
			c.restart = nil
		}
	case AppendFinal:
		if c.transcript != nil {
			c.transcript.Append(e.Text)
		}
	case SetInterim:
		if c.transcript != nil {
			c.transcript.SetCurrent(e.Text)
		}
	case PersistUserInitiated:
		if c.store == nil {
			return
		}
		if err := c.store.SaveUserInitiated(e.Value); err != nil {
			c.log.Warn("persist user-initiated flag failed", "error", err)
		}
	}
}

func (c *Controller) runEngine(ctx context.Context) {
	for cmd := range c.engineCmds {
		switch e := cmd.(type) {
		case StartEngine:
			if err := c.engine.Start(ctx, &attemptListener{c: c, attempt: e.Attempt}); err != nil {
				c.log.Warn("engine start failed", "attempt", e.Attempt, "error", err)
				c.post(StartFailed{Attempt: e.Attempt, Err: err})
			}
		case StopEngine:
			if err := c.engine.Stop(); err != nil {
				c.log.Warn("engine stop failed", "error", err)
			}
		}
	}
}

func (c *Controller) publish() {
	st := statusOf(c.model)

	c.mu.Lock()
	changed := st != c.status
	c.status = st
	c.mu.Unlock()

	if changed && c.hub != nil {
		c.hub.BroadcastStatusChanged(st)
	}
}

// attemptListener tags engine callbacks with the start attempt that produced them.
type attemptListener struct {
	c       *Controller
	attempt uint64
}

func (l *attemptListener) OnStart() {
	l.c.post(EngineStarted{Attempt: l.attempt, At: l.c.now()})
}

func (l *attemptListener) OnEnd() {
	l.c.post(EngineEnded{Attempt: l.attempt, At: l.c.now()})
}

func (l *attemptListener) OnError(kind recognition.ErrorKind, message string) {
	l.c.post(EngineError{Attempt: l.attempt, Kind: kind, Message: message})
}

func (l *attemptListener) OnResult(index int, results []recognition.Result) {
	l.c.post(EngineResult{Attempt: l.attempt, Index: index, Results: results})
}

func eventName(ev Event) string {
	switch e := ev.(type) {
	case UserStart:
		return "user_start"
	case UserStop:
		return "user_stop"
	case Reconfigure:
		return "reconfigure"
	case EngineStarted:
		return "engine_started"
	case EngineEnded:
		return "engine_ended"
	case EngineError:
		return "engine_error:" + string(e.Kind)
	case EngineResult:
		return "engine_result"
	case RestartTimerFired:
		return "restart_timer"
	case StartFailed:
		return "start_failed"
	default:
		return "unknown"
	}
}
