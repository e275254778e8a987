// Package playback provides the hardware-event driven playback state machine.
package playback

import "time"

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // nothing playing
	StatePlaying              // a playback session is active
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Mode selects the transition table. Fixed at startup.
type Mode int

const (
	// ModeContinuous tracks tag presence: playback starts when a tag
	// appears and stops when it leaves.
	ModeContinuous Mode = iota
	// ModeTriggerOnly starts playback once per trigger; removing the tag
	// does not stop it.
	ModeTriggerOnly
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeTriggerOnly:
		return "trigger-only"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of the controller state, published for
// the status endpoint. It never exposes controller internals.
type Snapshot struct {
	State     string    `json:"state"`
	Session   uint64    `json:"session,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	Action    string    `json:"action,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}
