package bot

import (
	"fmt"
	"time"

	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/models"
)

// State is a step of the connection state machine.
type State int32

const (
	StateInit State = iota
	StateDerivingCredential
	StateFetchingUser
	StateCreatingUser
	StateConnected
	StateFailed
)

var stateNames = [...]string{
	StateInit:               "init",
	StateDerivingCredential: "deriving_credential",
	StateFetchingUser:       "fetching_user",
	StateCreatingUser:       "creating_user",
	StateConnected:          "connected",
	StateFailed:             "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether s ends the state machine.
func (s State) Terminal() bool {
	return s == StateConnected || s == StateFailed
}

// Outcome is the terminal result of one bot run.
type Outcome struct {
	BotID    int
	State    State
	User     models.User // set only when State is StateConnected
	Err      *failure.Error
	Duration time.Duration
	// Registered is true when the user was created during this run.
	Registered bool

	// Tick activity after connecting. It never affects State.
	Symbol  string
	Ticks   int
	TickErr error
}

func (o Outcome) Connected() bool {
	return o.State == StateConnected
}

// Kind returns the failure kind, or KindUnknown with ok=false when connected.
func (o Outcome) Kind() (kind failure.Kind, ok bool) {
	if o.Err == nil {
		return failure.KindUnknown, false
	}
	return o.Err.Kind, true
}
