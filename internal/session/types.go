package session

// Transcript receives recognized text.
type Transcript interface {
	Append(text string)
	SetCurrent(text string)
}

// StateStore persists whether the user asked for capture.
type StateStore interface {
	SaveUserInitiated(v bool) error
}

type StatusBroadcaster interface {
	BroadcastStatusChanged(status Status)
}

// Status is the externally visible controller state.
type Status struct {
	State         string `json:"state"`
	Listening     bool   `json:"listening"`
	Restarting    bool   `json:"restarting"`
	UserInitiated bool   `json:"user_initiated"`
	Supported     bool   `json:"supported"`
	LastError     string `json:"last_error,omitempty"`
}

func statusOf(m Model) Status {
	return Status{
		State:         m.State.String(),
		Listening:     m.Listening,
		Restarting:    m.Restarting(),
		UserInitiated: m.UserInitiated,
		Supported:     m.Supported,
		LastError:     m.LastError,
	}
}
