// Package negotiate implements the payment negotiation state machine and
// the Service facade adapters call. One machine runs per logical request;
// transitions are one-directional and validated by a single transition
// function, so an illegal state sequence is unrepresentable at runtime.
package negotiate

import "fmt"

// State of one negotiation attempt.
type State string

const (
	StateInit             State = "INIT"
	StateOfferDetected    State = "OFFER_DETECTED"
	StateEvaluating       State = "EVALUATING"
	StatePolicyCheck      State = "POLICY_CHECK"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateAuthorized       State = "AUTHORIZED"
	StateSigning          State = "SIGNING"
	StateResending        State = "RESENDING"
	StateVerifying        State = "VERIFYING"
	StateComplete         State = "COMPLETE"
	StateFailed           State = "FAILED"
)

// transitions is the complete legal edge set. FAILED is reachable from every
// non-terminal state; no state is revisited within one attempt.
var transitions = map[State][]State{
	StateInit:             {StateOfferDetected, StateComplete, StateFailed},
	StateOfferDetected:    {StateEvaluating, StateFailed},
	StateEvaluating:       {StatePolicyCheck, StateFailed},
	StatePolicyCheck:      {StateAwaitingApproval, StateAuthorized, StateFailed},
	StateAwaitingApproval: {StateAuthorized, StateFailed},
	StateAuthorized:       {StateSigning, StateFailed},
	StateSigning:          {StateResending, StateFailed},
	StateResending:        {StateVerifying, StateFailed},
	StateVerifying:        {StateComplete, StateFailed},
}

// Terminal reports whether the state ends the attempt.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// machine tracks the current state of one attempt.
type machine struct {
	state State
}

func newMachine() *machine { return &machine{state: StateInit} }

// advance moves to the next state, rejecting illegal edges.
func (m *machine) advance(to State) error {
	for _, legal := range transitions[m.state] {
		if legal == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("negotiate: illegal transition %s -> %s", m.state, to)
}
