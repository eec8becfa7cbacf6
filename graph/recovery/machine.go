// Package recovery implements the provider-call recovery chain: when a
// provider call fails with a recoverable error, the user is offered cheaper
// alternatives of the same provider family, the chosen one is persisted to
// the node's configuration and the call is retried.
//
// Machine is the pure state machine, driven by discrete events. Driver runs
// a Machine against a real call and a Chooser.
package recovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/model"
)

// State is a recovery machine state.
type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateAwaitingChoice State = "awaiting_choice"
)

// Terminal reports whether no further event is accepted.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

var (
	// ErrInvalidTransition is returned by Fire for an event the current
	// state does not accept. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid recovery transition")

	// ErrUnknownCandidate is returned by Fire for a UserChose naming a
	// provider that is not currently offered.
	ErrUnknownCandidate = errors.New("provider is not an offered candidate")

	// ErrNoAvailableProvider is the failure reason once every candidate of
	// the chain has been tried.
	ErrNoAvailableProvider = errors.New("no available provider")

	// ErrAbandoned is the failure reason when the user declines every
	// candidate.
	ErrAbandoned = errors.New("recovery abandoned")
)

// Event drives a Machine.
type Event interface {
	eventName() string
}

// Start begins the first attempt.
type Start struct{}

// AttemptSucceeded reports that the current attempt returned a result.
type AttemptSucceeded struct{}

// AttemptFailed reports a classified failure of the current attempt.
type AttemptFailed struct {
	Err *compute.Error
}

// UserChose substitutes ProviderID, which must be an offered candidate.
type UserChose struct {
	ProviderID string
}

// UserAbandoned declines every candidate.
type UserAbandoned struct{}

func (Start) eventName() string            { return "start" }
func (AttemptSucceeded) eventName() string { return "attempt_succeeded" }
func (AttemptFailed) eventName() string    { return "attempt_failed" }
func (UserChose) eventName() string        { return "user_chose" }
func (UserAbandoned) eventName() string    { return "user_abandoned" }

// Failure is the terminal error of a chain that ended in StateFailed.
//
// Err is the classified error being surfaced: the failing error for a
// non-recoverable kind, the error that opened the chain when the user
// abandoned, and the last error when every candidate was exhausted.
// Reason is nil, ErrAbandoned or ErrNoAvailableProvider.
type Failure struct {
	Reason error
	Err    *compute.Error
	Tried  []string
}

func (f *Failure) Error() string {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Message
	}
	if errors.Is(f.Reason, ErrNoAvailableProvider) {
		if len(f.Tried) > 0 {
			return fmt.Sprintf("%s (tried %s): %s", ErrNoAvailableProvider, strings.Join(f.Tried, ", "), msg)
		}
		return fmt.Sprintf("%s: %s", ErrNoAvailableProvider, msg)
	}
	return msg
}

// Unwrap exposes both the reason and the classified error to errors.Is and
// errors.As.
func (f *Failure) Unwrap() []error {
	var errs []error
	if f.Reason != nil {
		errs = append(errs, f.Reason)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// Machine is the recovery state machine for one node execution.
//
//	Idle --Start--> Running
//	Running --AttemptSucceeded--> Succeeded
//	Running --AttemptFailed(non-recoverable)--> Failed
//	Running --AttemptFailed(recoverable)--> AwaitingChoice, or Failed when no candidate is left
//	AwaitingChoice --UserChose--> Running
//	AwaitingChoice --UserAbandoned--> Failed
//
// Every provider that fails recoverably joins the excluded set, which only
// grows for the life of the Machine; excluded providers are never offered.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	catalog *Catalog
	family  model.Family

	state      State
	initial    string
	current    string
	attempts   int
	excluded   []string
	candidates []Candidate

	first *compute.Error
	last  *compute.Error
	err   *Failure
}

// NewMachine creates a Machine for a call to provider within family.
// Candidates are drawn from catalog; a nil catalog uses DefaultCatalog.
func NewMachine(family model.Family, provider string, catalog *Catalog) *Machine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Machine{
		catalog: catalog,
		family:  family,
		state:   StateIdle,
		initial: provider,
		current: provider,
	}
}

// Fire applies ev. It returns the resulting state, or the unchanged state
// and an error when ev is not valid in the current state.
func (m *Machine) Fire(ev Event) (State, error) {
	switch e := ev.(type) {
	case Start:
		if m.state != StateIdle {
			return m.state, m.invalid(ev)
		}
		m.state = StateRunning
		m.attempts = 1

	case AttemptSucceeded:
		if m.state != StateRunning {
			return m.state, m.invalid(ev)
		}
		m.state = StateSucceeded

	case AttemptFailed:
		if m.state != StateRunning {
			return m.state, m.invalid(ev)
		}
		if e.Err == nil {
			return m.state, fmt.Errorf("%w: attempt_failed without an error", ErrInvalidTransition)
		}
		m.attemptFailed(e.Err)

	case UserChose:
		if m.state != StateAwaitingChoice {
			return m.state, m.invalid(ev)
		}
		if !m.offered(e.ProviderID) {
			return m.state, fmt.Errorf("%w: %q", ErrUnknownCandidate, e.ProviderID)
		}
		m.current = e.ProviderID
		m.candidates = nil
		m.attempts++
		m.state = StateRunning

	case UserAbandoned:
		if m.state != StateAwaitingChoice {
			return m.state, m.invalid(ev)
		}
		m.fail(ErrAbandoned, m.first)

	default:
		return m.state, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
	return m.state, nil
}

func (m *Machine) attemptFailed(err *compute.Error) {
	m.last = err
	if !err.Kind.Recoverable() {
		m.fail(nil, err)
		return
	}
	if m.first == nil {
		m.first = err
	}
	m.exclude(m.current)

	m.candidates = m.catalog.Candidates(m.family, m.initial, m.excluded, err.Candidates)
	if len(m.candidates) == 0 {
		m.fail(ErrNoAvailableProvider, err)
		return
	}
	m.state = StateAwaitingChoice
}

func (m *Machine) fail(reason error, err *compute.Error) {
	m.state = StateFailed
	m.candidates = nil
	m.err = &Failure{Reason: reason, Err: err, Tried: m.Excluded()}
}

func (m *Machine) exclude(id string) {
	for _, x := range m.excluded {
		if x == id {
			return
		}
	}
	m.excluded = append(m.excluded, id)
}

func (m *Machine) offered(id string) bool {
	for _, c := range m.candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (m *Machine) invalid(ev Event) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev.eventName(), m.state)
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Family returns the provider family candidates are drawn from.
func (m *Machine) Family() model.Family { return m.family }

// Initial returns the provider the chain started with.
func (m *Machine) Initial() string { return m.initial }

// Current returns the provider of the current or last attempt.
func (m *Machine) Current() string { return m.current }

// Attempts returns how many attempts have been started.
func (m *Machine) Attempts() int { return m.attempts }

// Recovering reports whether a recoverable failure has opened a chain.
func (m *Machine) Recovering() bool { return m.first != nil }

// Substituted reports whether a provider other than the initial one was
// chosen.
func (m *Machine) Substituted() bool { return m.current != m.initial }

// Candidates returns the providers offered in StateAwaitingChoice, cheapest
// first.
func (m *Machine) Candidates() []Candidate {
	return append([]Candidate(nil), m.candidates...)
}

// Excluded returns every provider tried and rejected in this chain, in
// order.
func (m *Machine) Excluded() []string {
	return append([]string(nil), m.excluded...)
}

// FirstError returns the recoverable error that opened the chain.
func (m *Machine) FirstError() *compute.Error { return m.first }

// LastError returns the most recent attempt failure.
func (m *Machine) LastError() *compute.Error { return m.last }

// Err returns the terminal failure in StateFailed, otherwise nil.
func (m *Machine) Err() error {
	if m.err == nil {
		return nil
	}
	return m.err
}
