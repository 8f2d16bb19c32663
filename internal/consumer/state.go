package consumer

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when the service is asked to move to a
// state that cannot follow the current one
var ErrInvalidTransition = errors.New("consumer: invalid state transition")

// State is a step in the consumer lifecycle
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateChannelOpen
	StateConsuming
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateChannelOpen:
		return "channel_open"
	case StateConsuming:
		return "consuming"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the allowed successors of each state. Startup failures
// jump straight to closed; nothing leads back to consuming.
var transitions = map[State][]State{
	StateIdle:         {StateConnecting, StateClosed},
	StateConnecting:   {StateChannelOpen, StateClosed},
	StateChannelOpen:  {StateConsuming, StateClosed},
	StateConsuming:    {StateShuttingDown},
	StateShuttingDown: {StateClosed},
}

// CanTransition reports whether to may follow from
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
