package model

import (
	"errors"
	"strings"
	"time"
)

// State is the consent flag a session holds for a peer address.
type State string

const (
	StateUnknown State = "unknown"
	StateAllowed State = "allowed"
	StateBlocked State = "blocked"
)

var ErrInvalidState = errors.New("invalid consent state")

func ParseState(raw string) (State, error) {
	switch State(strings.ToLower(strings.TrimSpace(raw))) {
	case StateUnknown, "":
		return StateUnknown, nil
	case StateAllowed:
		return StateAllowed, nil
	case StateBlocked:
		return StateBlocked, nil
	default:
		return StateUnknown, ErrInvalidState
	}
}

func (s State) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}

func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateAllowed, StateBlocked:
		return true
	default:
		return false
	}
}

// Phase is the position of the controller in its per-action state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseConnecting    Phase = "connecting"
	PhaseSessionReady  Phase = "session_ready"
	PhaseResolving     Phase = "resolving"
	PhaseToggling      Phase = "toggling"
	PhaseConfirming    Phase = "confirming"
	PhaseErrorReported Phase = "error_reported"
)

// Event is a confirmed consent transition for one action.
type Event struct {
	ActionID      string    `json:"action_id"`
	PeerAddress   string    `json:"peer_address"`
	State         State     `json:"state"`
	SenderAddress string    `json:"sender_address"`
	At            time.Time `json:"at"`
}
