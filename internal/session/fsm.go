package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/live-captioner/internal/recognition"
)

// User-visible error messages.
const (
	MsgUnsupported      = "Speech recognition not supported"
	MsgMicrophoneDenied = "Microphone access denied"
	MsgStartFailed      = "Failed to start speech recognition"
	MsgRestartFailed    = "Failed to restart recording"
	MsgRestartLoop      = "Recognition keeps stopping; auto-restart paused"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateRestarting
	StateUnsupported
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRestarting:
		return "restarting"
	case StateUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Policy tunes auto-restart.
type Policy struct {
	// RestartDelay debounces restarts after an unexpected end.
	RestartDelay time.Duration
	// MaxRapidRestarts bounds consecutive restarts of sessions shorter than
	// RapidSessionThreshold. Zero disables the bound.
	MaxRapidRestarts      int
	RapidSessionThreshold time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		RestartDelay:          500 * time.Millisecond,
		MaxRapidRestarts:      5,
		RapidSessionThreshold: 2 * time.Second,
	}
}

// Model is the complete controller state. Attempt numbers every engine start
// request and TimerGen every scheduled restart; events carrying an older
// number are stale.
type Model struct {
	State         State
	Listening     bool
	UserInitiated bool
	LastError     string
	Supported     bool
	TimerPending  bool
	TimerGen      uint64
	Attempt       uint64

	restartAttempt  bool
	suppressRestart bool
	startedAt       time.Time
	rapidRestarts   int
}

// NewModel builds the startup state. probeErr is the capability probe result;
// userInitiated is the persisted flag from the previous run.
func NewModel(probeErr error, userInitiated bool) Model {
	m := Model{State: StateIdle, Supported: true, UserInitiated: userInitiated}
	if probeErr != nil {
		m.State = StateUnsupported
		m.Supported = false
		m.LastError = probeErr.Error()
		if m.LastError == "" {
			m.LastError = MsgUnsupported
		}
	}
	return m
}

func (m Model) Restarting() bool {
	return m.State == StateRestarting
}

type Event interface{ isEvent() }

type (
	UserStart   struct{}
	UserStop    struct{}
	Reconfigure struct{}

	EngineStarted struct {
		Attempt uint64
		At      time.Time
	}
	EngineEnded struct {
		Attempt uint64
		At      time.Time
	}
	EngineError struct {
		Attempt uint64
		Kind    recognition.ErrorKind
		Message string
	}
	EngineResult struct {
		Attempt uint64
		Index   int
		Results []recognition.Result
	}
	RestartTimerFired struct{ Gen uint64 }
	StartFailed       struct {
		Attempt uint64
		Err     error
	}
)

func (UserStart) isEvent()         {}
func (UserStop) isEvent()          {}
func (Reconfigure) isEvent()       {}
func (EngineStarted) isEvent()     {}
func (EngineEnded) isEvent()       {}
func (EngineError) isEvent()       {}
func (EngineResult) isEvent()      {}
func (RestartTimerFired) isEvent() {}
func (StartFailed) isEvent()       {}

// Effect is a command for the driver.
type Effect interface{ isEffect() }

type (
	StartEngine          struct{ Attempt uint64 }
	StopEngine           struct{}
	ScheduleRestart      struct {
		Gen   uint64
		Delay time.Duration
	}
	CancelRestart        struct{ Gen uint64 }
	AppendFinal          struct{ Text string }
	SetInterim           struct{ Text string }
	PersistUserInitiated struct{ Value bool }
)

func (StartEngine) isEffect()          {}
func (StopEngine) isEffect()           {}
func (ScheduleRestart) isEffect()      {}
func (CancelRestart) isEffect()        {}
func (AppendFinal) isEffect()          {}
func (SetInterim) isEffect()           {}
func (PersistUserInitiated) isEffect() {}

// Transition applies one event to the model and returns the effects the
// driver must execute, in order.
func Transition(m Model, ev Event, p Policy) (Model, []Effect) {
	if m.State == StateUnsupported {
		return m, nil
	}

	switch e := ev.(type) {
	case UserStart:
		return userStart(m)
	case UserStop:
		return userStop(m)
	case Reconfigure:
		if m.State == StateListening && m.Listening {
			return m, []Effect{StopEngine{}}
		}
		return m, nil
	case EngineStarted:
		return engineStarted(m, e)
	case EngineEnded:
		return engineEnded(m, e, p)
	case EngineError:
		return engineError(m, e)
	case EngineResult:
		return engineResult(m, e)
	case RestartTimerFired:
		return timerFired(m, e)
	case StartFailed:
		return startFailed(m, e)
	default:
		return m, nil
	}
}

func userStart(m Model) (Model, []Effect) {
	var effects []Effect
	switch m.State {
	case StateListening:
		return m, nil
	case StateRestarting:
		m, effects = cancelTimer(m, effects)
	}

	if !m.UserInitiated {
		m.UserInitiated = true
		effects = append(effects, PersistUserInitiated{Value: true})
	}
	m.LastError = ""
	m.rapidRestarts = 0
	m, start := beginStart(m, false)
	return m, append(effects, start)
}

func userStop(m Model) (Model, []Effect) {
	if m.State == StateIdle && !m.TimerPending && !m.UserInitiated {
		return m, nil
	}

	var effects []Effect
	m, effects = cancelTimer(m, effects)
	if m.State == StateListening {
		effects = append(effects, StopEngine{})
	}
	if m.UserInitiated {
		m.UserInitiated = false
		effects = append(effects, PersistUserInitiated{Value: false})
	}
	m.State = StateIdle
	m.Listening = false
	m.Attempt++
	return m, effects
}

func engineStarted(m Model, e EngineStarted) (Model, []Effect) {
	if e.Attempt != m.Attempt {
		if m.State == StateIdle {
			return m, []Effect{StopEngine{}}
		}
		return m, nil
	}

	var effects []Effect
	switch m.State {
	case StateIdle:
		return m, []Effect{StopEngine{}}
	case StateRestarting:
		m, effects = cancelTimer(m, effects)
		m.State = StateListening
	}
	m.Listening = true
	m.LastError = ""
	m.startedAt = e.At
	return m, effects
}

func engineEnded(m Model, e EngineEnded, p Policy) (Model, []Effect) {
	if e.Attempt != m.Attempt || m.State != StateListening {
		return m, nil
	}

	confirmed := m.Listening
	m.Listening = false
	if !m.UserInitiated || m.suppressRestart {
		m.State = StateIdle
		return m, nil
	}

	if !confirmed || e.At.Sub(m.startedAt) < p.RapidSessionThreshold {
		m.rapidRestarts++
	} else {
		m.rapidRestarts = 0
	}
	if p.MaxRapidRestarts > 0 && m.rapidRestarts > p.MaxRapidRestarts {
		m.State = StateIdle
		m.LastError = MsgRestartLoop
		return m, nil
	}

	m.State = StateRestarting
	m.TimerGen++
	m.TimerPending = true
	return m, []Effect{ScheduleRestart{Gen: m.TimerGen, Delay: p.RestartDelay}}
}

func engineError(m Model, e EngineError) (Model, []Effect) {
	if e.Attempt != m.Attempt {
		return m, nil
	}

	var effects []Effect
	switch e.Kind {
	case recognition.ErrNoSpeech:
		return m, nil
	case recognition.ErrAborted:
		m.suppressRestart = true
		m, effects = cancelTimer(m, effects)
	case recognition.ErrNotAllowed:
		m.LastError = MsgMicrophoneDenied
		m.suppressRestart = true
		m, effects = cancelTimer(m, effects)
		if m.State == StateListening {
			effects = append(effects, StopEngine{})
		}
		if m.UserInitiated {
			m.UserInitiated = false
			effects = append(effects, PersistUserInitiated{Value: false})
		}
		m.State = StateIdle
		m.Listening = false
	default:
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			msg = string(e.Kind)
		}
		m.LastError = "Speech recognition error: " + msg
		m.suppressRestart = true
		m, effects = cancelTimer(m, effects)
	}
	return m, effects
}

func engineResult(m Model, e EngineResult) (Model, []Effect) {
	var finals []string
	var interim strings.Builder
	sawFinal := false
	for _, r := range e.Results {
		if r.Final {
			sawFinal = true
			if text := strings.TrimSpace(r.Text); text != "" {
				finals = append(finals, text)
			}
			continue
		}
		interim.WriteString(r.Text)
	}

	// Results from a superseded or finished session may still flush final
	// text, but their interim text would never be cleared.
	if e.Attempt != m.Attempt || m.State == StateIdle {
		if len(finals) == 0 {
			return m, nil
		}
		return m, []Effect{AppendFinal{Text: strings.Join(finals, " ")}}
	}

	var effects []Effect
	switch {
	case len(finals) > 0:
		effects = append(effects, AppendFinal{Text: strings.Join(finals, " ")}, SetInterim{Text: interim.String()})
	case sawFinal || interim.Len() > 0:
		// An empty final still retires the interim text it replaces.
		effects = append(effects, SetInterim{Text: interim.String()})
	}
	if len(finals) > 0 || interim.Len() > 0 {
		m.rapidRestarts = 0
	}
	return m, effects
}

func timerFired(m Model, e RestartTimerFired) (Model, []Effect) {
	if !m.TimerPending || e.Gen != m.TimerGen || m.State != StateRestarting {
		return m, nil
	}
	m.TimerPending = false
	if !m.UserInitiated {
		m.State = StateIdle
		return m, nil
	}
	m, start := beginStart(m, true)
	return m, []Effect{start}
}

func startFailed(m Model, e StartFailed) (Model, []Effect) {
	if e.Attempt != m.Attempt || m.State != StateListening {
		return m, nil
	}
	m.State = StateIdle
	m.Listening = false
	if m.restartAttempt {
		m.LastError = MsgRestartFailed
	} else {
		m.LastError = MsgStartFailed
	}
	return m, nil
}

func beginStart(m Model, restart bool) (Model, Effect) {
	m.Attempt++
	m.State = StateListening
	m.Listening = false
	m.restartAttempt = restart
	m.suppressRestart = false
	m.startedAt = time.Time{}
	return m, StartEngine{Attempt: m.Attempt}
}

// cancelTimer drops a pending restart; a Restarting controller falls back to Idle.
func cancelTimer(m Model, effects []Effect) (Model, []Effect) {
	if !m.TimerPending {
		return m, effects
	}
	m.TimerPending = false
	if m.State == StateRestarting {
		m.State = StateIdle
	}
	return m, append(effects, CancelRestart{Gen: m.TimerGen})
}
