package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/emit"
	"github.com/dshills/nodegraph-go/graph/model"
)

// Recovery outcomes recorded in metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeAbandoned = "abandoned"
	OutcomeExhausted = "exhausted"
	OutcomeFailed    = "failed"
)

// Call describes one provider-backed node execution.
type Call struct {
	SessionID string
	NodeID    string
	NodeType  graph.NodeType

	Family   model.Family
	Provider string

	// Attempt performs the operation against provider.
	Attempt func(ctx context.Context, provider string) (graph.Bag, error)

	// Persist records a substituted provider in the node configuration so
	// later runs start from it. Optional.
	Persist func(provider string) error
}

// Driver runs a Machine against a real call, asking a Chooser whenever the
// machine awaits a choice.
type Driver struct {
	chooser Chooser
	catalog *Catalog
	metrics *graph.Metrics
	emitter emit.Emitter
	logger  *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithCatalog sets the fallback catalog. The default is DefaultCatalog.
func WithCatalog(c *Catalog) DriverOption {
	return func(d *Driver) {
		if c != nil {
			d.catalog = c
		}
	}
}

// WithMetrics records recovery outcomes and substitutions.
func WithMetrics(m *graph.Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithEmitter sets the emitter for recovery events.
func WithEmitter(e emit.Emitter) DriverOption {
	return func(d *Driver) {
		if e != nil {
			d.emitter = e
		}
	}
}

// WithDriverLogger sets the logger.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver creates a Driver. A nil chooser abandons every recovery.
func NewDriver(chooser Chooser, opts ...DriverOption) *Driver {
	if chooser == nil {
		chooser = AbandonChooser{}
	}
	d := &Driver{
		chooser: chooser,
		catalog: DefaultCatalog(),
		emitter: emit.NewNullEmitter(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the driver's fallback catalog.
func (d *Driver) Catalog() *Catalog { return d.catalog }

// Run executes c, recovering from quota and model failures by substituting
// a provider chosen by the Chooser. It blocks while the Chooser decides.
//
// On success it returns the attempt's payload. On failure the error is a
// *Failure, whose Err is the classified error to surface.
func (d *Driver) Run(ctx context.Context, c Call) (graph.Bag, error) {
	if c.Attempt == nil {
		return nil, errors.New("recovery call has no attempt function")
	}

	m := NewMachine(c.Family, c.Provider, d.catalog)
	if _, err := m.Fire(Start{}); err != nil {
		return nil, err
	}

	var out graph.Bag
	for !m.State().Terminal() {
		switch m.State() {
		case StateRunning:
			bag, err := c.Attempt(ctx, m.Current())
			if err == nil {
				out = bag
				_, _ = m.Fire(AttemptSucceeded{})
				continue
			}
			ce := compute.Classify(err)
			if ce.Provider == "" {
				ce.Provider = m.Current()
			}
			if _, ferr := m.Fire(AttemptFailed{Err: ce}); ferr != nil {
				return nil, ferr
			}

		case StateAwaitingChoice:
			if err := d.choose(ctx, c, m); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: unexpected state %s", ErrInvalidTransition, m.State())
		}
	}

	d.finish(c, m)
	if m.State() == StateSucceeded {
		return out, nil
	}
	return nil, m.Err()
}

func (d *Driver) choose(ctx context.Context, c Call, m *Machine) error {
	last := m.LastError()
	prompt := Prompt{
		NodeID:     c.NodeID,
		NodeType:   c.NodeType,
		Err:        last,
		Current:    m.Current(),
		Candidates: m.Candidates(),
		Excluded:   m.Excluded(),
		Attempt:    m.Attempts(),
	}

	ids := make([]string, len(prompt.Candidates))
	for i, cand := range prompt.Candidates {
		ids[i] = cand.ID
	}
	d.emit(c, "recovery_awaiting_choice", map[string]interface{}{
		"error_kind": string(last.Kind),
		"error":      last.Message,
		"provider":   m.Current(),
		"candidates": ids,
		"excluded":   prompt.Excluded,
	})

	for {
		dec, err := d.chooser.Choose(ctx, prompt)
		if err != nil || dec.Abandon {
			if err != nil {
				d.logger.Warn("recovery choice failed", "node", c.NodeID, "error", err)
			}
			_, ferr := m.Fire(UserAbandoned{})
			return ferr
		}

		from := m.Current()
		_, ferr := m.Fire(UserChose{ProviderID: dec.ProviderID})
		if errors.Is(ferr, ErrUnknownCandidate) {
			d.logger.Warn("chooser picked an unknown candidate", "node", c.NodeID, "provider", dec.ProviderID)
			continue
		}
		if ferr != nil {
			return ferr
		}

		if c.Persist != nil {
			if err := c.Persist(dec.ProviderID); err != nil {
				d.logger.Error("failed to persist substituted provider", "node", c.NodeID, "provider", dec.ProviderID, "error", err)
			}
		}
		d.metrics.RecordSubstitution(from, dec.ProviderID)
		d.emit(c, "recovery_substituted", map[string]interface{}{
			"from":     from,
			"provider": dec.ProviderID,
			"attempt":  m.Attempts(),
		})
		return nil
	}
}

func (d *Driver) finish(c Call, m *Machine) {
	if m.Recovering() {
		d.metrics.RecordRecovery(string(m.FirstError().Kind), outcome(m))
	}
	if m.State() != StateFailed || !m.Recovering() {
		return
	}
	var f *Failure
	meta := map[string]interface{}{
		"provider": m.Current(),
		"excluded": m.Excluded(),
	}
	if errors.As(m.Err(), &f) && f.Err != nil {
		meta["error_kind"] = string(f.Err.Kind)
		meta["error"] = f.Error()
	}
	d.emit(c, "recovery_failed", meta)
}

func outcome(m *Machine) string {
	if m.State() == StateSucceeded {
		return OutcomeSucceeded
	}
	var f *Failure
	if errors.As(m.Err(), &f) {
		switch {
		case errors.Is(f.Reason, ErrAbandoned):
			return OutcomeAbandoned
		case errors.Is(f.Reason, ErrNoAvailableProvider):
			return OutcomeExhausted
		}
	}
	return OutcomeFailed
}

func (d *Driver) emit(c Call, msg string, meta map[string]interface{}) {
	d.emitter.Emit(emit.Event{
		SessionID: c.SessionID,
		NodeID:    c.NodeID,
		NodeType:  string(c.NodeType),
		Msg:       msg,
		Meta:      meta,
	})
}
