package recovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
)

// Prompt is what a Chooser is asked to decide on.
type Prompt struct {
	NodeID   string
	NodeType graph.NodeType

	// Err is the classified failure of the last attempt.
	Err *compute.Error

	Current    string
	Candidates []Candidate
	Excluded   []string
	Attempt    int
}

// Decision is a Chooser's answer: a candidate ID, or Abandon.
type Decision struct {
	ProviderID string
	Abandon    bool
}

// Use returns a decision substituting id.
func Use(id string) Decision { return Decision{ProviderID: id} }

// Abandon returns a decision declining every candidate.
func Abandon() Decision { return Decision{Abandon: true} }

// Chooser presents a recovery choice and waits for the answer.
//
// Choose may block for as long as the user takes; it must return when ctx
// ends. There is no default answer.
type Chooser interface {
	Choose(ctx context.Context, p Prompt) (Decision, error)
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, p Prompt) (Decision, error)

// Choose implements Chooser.
func (f ChooserFunc) Choose(ctx context.Context, p Prompt) (Decision, error) {
	return f(ctx, p)
}

// AbandonChooser declines every recovery. It gives the behavior of a
// caller with no user to ask.
type AbandonChooser struct{}

// Choose implements Chooser.
func (AbandonChooser) Choose(context.Context, Prompt) (Decision, error) {
	return Abandon(), nil
}

// ScriptedChooser answers with Decisions in order and abandons once they run
// out. Every prompt is recorded.
//
// ScriptedChooser is safe for concurrent use.
type ScriptedChooser struct {
	Decisions []Decision

	mu      sync.Mutex
	prompts []Prompt
}

// Choose implements Chooser.
func (s *ScriptedChooser) Choose(ctx context.Context, p Prompt) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := len(s.prompts)
	s.prompts = append(s.prompts, p)
	if i >= len(s.Decisions) {
		return Abandon(), nil
	}
	return s.Decisions[i], nil
}

// Prompts returns every prompt seen so far.
func (s *ScriptedChooser) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

// PromptChooser asks on a terminal. The user answers with a candidate's
// number or ID; an empty answer or "q" abandons.
type PromptChooser struct {
	in  *bufio.Reader
	out io.Writer
	mu  sync.Mutex
}

// NewPromptChooser reads answers from in and writes prompts to out.
func NewPromptChooser(in io.Reader, out io.Writer) *PromptChooser {
	return &PromptChooser{in: bufio.NewReader(in), out: out}
}

type readResult struct {
	line string
	err  error
}

// Choose implements Chooser. It re-asks until the answer names a candidate.
func (c *PromptChooser) Choose(ctx context.Context, p Prompt) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.render(p)
	for {
		_, _ = fmt.Fprint(c.out, "Choose a model (number or name, empty to abandon): ")

		lines := make(chan readResult, 1)
		go func() {
			line, err := c.in.ReadString('\n')
			lines <- readResult{line: line, err: err}
		}()

		var r readResult
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case r = <-lines:
		}

		answer := strings.TrimSpace(r.line)
		if answer == "" || strings.EqualFold(answer, "q") {
			if r.err != nil && r.err != io.EOF {
				return Decision{}, fmt.Errorf("failed to read choice: %w", r.err)
			}
			return Abandon(), nil
		}
		if id, ok := pick(p.Candidates, answer); ok {
			return Use(id), nil
		}
		_, _ = fmt.Fprintf(c.out, "%q is not one of the listed models.\n", answer)
		if r.err != nil {
			return Abandon(), nil
		}
	}
}

func (c *PromptChooser) render(p Prompt) {
	w := c.out
	_, _ = fmt.Fprintf(w, "\nNode %s (%s): %s with %s failed.\n", p.NodeID, p.NodeType, p.Err.Kind, p.Current)
	_, _ = fmt.Fprintf(w, "  %s\n", p.Err.Message)
	if p.Err.Hint != "" {
		_, _ = fmt.Fprintf(w, "  Hint: %s\n", p.Err.Hint)
	}
	if len(p.Excluded) > 0 {
		_, _ = fmt.Fprintf(w, "  Already tried: %s\n", strings.Join(p.Excluded, ", "))
	}
	_, _ = fmt.Fprintln(w, "Alternatives, cheapest first:")
	for i, cand := range p.Candidates {
		price := "price unknown"
		if cand.Priced {
			price = fmt.Sprintf("$%.3f / 1M tokens", cand.Price)
		}
		_, _ = fmt.Fprintf(w, "  %d) %s (%s)\n", i+1, cand.ID, price)
	}
}

func pick(candidates []Candidate, answer string) (string, bool) {
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(candidates) {
			return candidates[n-1].ID, true
		}
		return "", false
	}
	for _, cand := range candidates {
		if strings.EqualFold(cand.ID, answer) {
			return cand.ID, true
		}
	}
	return "", false
}
