package voicesession

import (
	"errors"
	"fmt"
)

type State int

const (
	Idle State = iota
	ConnectingPrimary
	ConnectedPrimary
	FallingBack
	ConnectingSecondary
	ConnectedSecondary
	Ending
	Ended
)

var stateNames = [...]string{
	"idle", "connecting_primary", "connected_primary", "falling_back",
	"connecting_secondary", "connected_secondary", "ending", "ended",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Connected reports whether a backend is live.
func (s State) Connected() bool {
	return s == ConnectedPrimary || s == ConnectedSecondary
}

type Event int

const (
	Start Event = iota
	ConnectSucceeded
	ConnectFailed
	Timeout
	RemoteError
	UserHangup
	// Closed is delivered once the backend connection is torn down.
	Closed
)

var eventNames = [...]string{
	"start", "connect_succeeded", "connect_failed", "timeout", "remote_error", "user_hangup", "closed",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var ErrInvalidTransition = errors.New("invalid session transition")

// transitions is the complete table; anything missing is rejected.
var transitions = map[State]map[Event]State{
	Idle: {
		Start:      ConnectingPrimary,
		UserHangup: Ended,
	},
	ConnectingPrimary: {
		ConnectSucceeded: ConnectedPrimary,
		ConnectFailed:    FallingBack,
		Timeout:          FallingBack,
		RemoteError:      FallingBack,
		UserHangup:       Ending,
	},
	ConnectedPrimary: {
		RemoteError: FallingBack,
		Timeout:     FallingBack,
		UserHangup:  Ending,
	},
	FallingBack: {
		Start:      ConnectingSecondary,
		UserHangup: Ending,
	},
	ConnectingSecondary: {
		ConnectSucceeded: ConnectedSecondary,
		ConnectFailed:    Ending,
		Timeout:          Ending,
		RemoteError:      Ending,
		UserHangup:       Ending,
	},
	ConnectedSecondary: {
		RemoteError: Ending,
		Timeout:     Ending,
		UserHangup:  Ending,
	},
	Ending: {
		Closed: Ended,
	},
}

// Next looks up the transition for ev in state s.
func Next(s State, ev Event) (State, error) {
	if to, ok := transitions[s][ev]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
}
