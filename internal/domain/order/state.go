package order

import (
	"github.com/go-faster/errors"
)

// State is the progress of one commit attempt.
type State string

const (
	StateQuoted     State = "quoted"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateQuoted:     {StateCommitting, StateFailed},
	StateCommitting: {StateCommitted, StateFailed},
}

// attempt tracks the state of a single Commit call.
type attempt struct {
	state State
}

func newAttempt() *attempt {
	return &attempt{state: StateQuoted}
}

func (a *attempt) to(next State) error {
	for _, allowed := range transitions[a.state] {
		if allowed == next {
			a.state = next
			return nil
		}
	}
	return errors.Errorf("invalid commit transition %s -> %s", a.state, next)
}
