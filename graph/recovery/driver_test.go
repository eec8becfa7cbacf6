package recovery

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/emit"
	"github.com/dshills/nodegraph-go/graph/model"
)

// scriptedAttempt fails with errs[provider] when set and succeeds otherwise.
type scriptedAttempt struct {
	errs  map[string]error
	calls []string
}

func (s *scriptedAttempt) run(_ context.Context, provider string) (graph.Bag, error) {
	s.calls = append(s.calls, provider)
	if err := s.errs[provider]; err != nil {
		return nil, err
	}
	return graph.Bag{"chat_model_response": map[string]any{"model": provider, "content": "ok"}}, nil
}

func TestDriver_RecoversWithChosenProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := graph.NewMetrics(reg)
	events := emit.NewBufferedEmitter()
	chooser := &ScriptedChooser{Decisions: []Decision{Use("p2"), Use("p3")}}

	attempt := &scriptedAttempt{errs: map[string]error{
		"p1": quota("p1"),
		"p2": compute.FromResponse(429, []byte(`{"detail":"You exceeded your current quota, please check your plan and billing details."}`)),
	}}
	var persisted []string

	d := NewDriver(chooser, WithCatalog(testCatalog()), WithMetrics(metrics), WithEmitter(events))
	out, err := d.Run(context.Background(), Call{
		SessionID: "s1",
		NodeID:    "agent",
		NodeType:  graph.TypeAIAgent,
		Family:    model.FamilyOpenAI,
		Provider:  "p1",
		Attempt:   attempt.run,
		Persist: func(p string) error {
			persisted = append(persisted, p)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := out["chat_model_response"].(map[string]any)["model"]; got != "p3" {
		t.Errorf("model = %v, want p3", got)
	}
	if !reflect.DeepEqual(attempt.calls, []string{"p1", "p2", "p3"}) {
		t.Errorf("attempts = %v", attempt.calls)
	}
	if !reflect.DeepEqual(persisted, []string{"p2", "p3"}) {
		t.Errorf("persisted = %v", persisted)
	}

	prompts := chooser.Prompts()
	if len(prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(prompts))
	}
	if got := candidateIDs(prompts[0].Candidates); !reflect.DeepEqual(got, []string{"p2", "p3"}) {
		t.Errorf("first prompt candidates = %v", got)
	}
	if got := candidateIDs(prompts[1].Candidates); !reflect.DeepEqual(got, []string{"p3"}) {
		t.Errorf("second prompt candidates = %v", got)
	}
	if prompts[1].Err.Provider != "p2" || prompts[1].Err.Kind != compute.KindQuotaExhausted {
		t.Errorf("second prompt error = %+v", prompts[1].Err)
	}

	if n := len(events.GetHistoryWithFilter("s1", emit.HistoryFilter{Msg: "recovery_substituted"})); n != 2 {
		t.Errorf("recovery_substituted events = %d, want 2", n)
	}
	if n := len(events.GetHistoryWithFilter("s1", emit.HistoryFilter{Msg: "recovery_awaiting_choice"})); n != 2 {
		t.Errorf("recovery_awaiting_choice events = %d, want 2", n)
	}

	expected := `
# HELP nodegraph_recoveries_total Provider recovery chains by initial error kind and final outcome
# TYPE nodegraph_recoveries_total counter
nodegraph_recoveries_total{kind="quota_exhausted",outcome="succeeded"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "nodegraph_recoveries_total"); err != nil {
		t.Error(err)
	}
}

func TestDriver_AbandonSurfacesOriginalError(t *testing.T) {
	events := emit.NewBufferedEmitter()
	first := quota("p1")
	attempt := &scriptedAttempt{errs: map[string]error{"p1": first}}

	d := NewDriver(AbandonChooser{}, WithCatalog(testCatalog()), WithEmitter(events))
	_, err := d.Run(context.Background(), Call{
		SessionID: "s1",
		NodeID:    "chat",
		Family:    model.FamilyOpenAI,
		Provider:  "p1",
		Attempt:   attempt.run,
	})
	if !errors.Is(err, ErrAbandoned) {
		t.Fatalf("Run() error = %v, want ErrAbandoned", err)
	}
	var ce *compute.Error
	if !errors.As(err, &ce) || ce.Kind != compute.KindQuotaExhausted || ce.Provider != "p1" {
		t.Errorf("surfaced error = %+v", ce)
	}
	if err.Error() != first.Message {
		t.Errorf("message = %q, want %q", err.Error(), first.Message)
	}
	if len(attempt.calls) != 1 {
		t.Errorf("attempts = %v, want 1", attempt.calls)
	}
	if n := len(events.GetHistoryWithFilter("s1", emit.HistoryFilter{Msg: "recovery_failed"})); n != 1 {
		t.Errorf("recovery_failed events = %d, want 1", n)
	}
}

func TestDriver_NonRecoverableSkipsChooser(t *testing.T) {
	chooser := &ScriptedChooser{Decisions: []Decision{Use("p2")}}
	attempt := &scriptedAttempt{errs: map[string]error{
		"p1": compute.FromResponse(401, []byte(`{"detail":"Incorrect API key provided"}`)),
	}}

	d := NewDriver(chooser, WithCatalog(testCatalog()))
	_, err := d.Run(context.Background(), Call{Family: model.FamilyOpenAI, Provider: "p1", Attempt: attempt.run})

	var ce *compute.Error
	if !errors.As(err, &ce) || ce.Kind != compute.KindAuthenticationFailed {
		t.Fatalf("Run() error = %v, want authentication_failed", err)
	}
	if ce.Hint == "" {
		t.Error("hint not carried")
	}
	if len(chooser.Prompts()) != 0 {
		t.Errorf("chooser asked %d times", len(chooser.Prompts()))
	}
}

func TestDriver_Exhausted(t *testing.T) {
	reg := prometheus.NewRegistry()
	attempt := &scriptedAttempt{errs: map[string]error{
		"p1": quota("p1"),
		"p2": quota("p2"),
		"p3": quota("p3"),
	}}
	chooser := &ScriptedChooser{Decisions: []Decision{Use("p2"), Use("p3")}}

	d := NewDriver(chooser, WithCatalog(testCatalog()), WithMetrics(graph.NewMetrics(reg)))
	_, err := d.Run(context.Background(), Call{Family: model.FamilyOpenAI, Provider: "p1", Attempt: attempt.run})
	if !errors.Is(err, ErrNoAvailableProvider) {
		t.Fatalf("Run() error = %v, want ErrNoAvailableProvider", err)
	}
	if !strings.Contains(err.Error(), "tried p1, p2, p3") {
		t.Errorf("message = %q", err.Error())
	}

	expected := `
# HELP nodegraph_recoveries_total Provider recovery chains by initial error kind and final outcome
# TYPE nodegraph_recoveries_total counter
nodegraph_recoveries_total{kind="quota_exhausted",outcome="exhausted"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "nodegraph_recoveries_total"); err != nil {
		t.Error(err)
	}
}

func TestDriver_UnknownChoiceReprompts(t *testing.T) {
	chooser := &ScriptedChooser{Decisions: []Decision{Use("nope"), Use("p3")}}
	attempt := &scriptedAttempt{errs: map[string]error{"p1": quota("p1")}}

	d := NewDriver(chooser, WithCatalog(testCatalog()))
	out, err := d.Run(context.Background(), Call{Family: model.FamilyOpenAI, Provider: "p1", Attempt: attempt.run})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out == nil || len(chooser.Prompts()) != 2 {
		t.Errorf("prompts = %d, want 2", len(chooser.Prompts()))
	}
	if !reflect.DeepEqual(attempt.calls, []string{"p1", "p3"}) {
		t.Errorf("attempts = %v", attempt.calls)
	}
}

func TestDriver_PersistFailureIsNotFatal(t *testing.T) {
	chooser := &ScriptedChooser{Decisions: []Decision{Use("p2")}}
	attempt := &scriptedAttempt{errs: map[string]error{"p1": quota("p1")}}

	d := NewDriver(chooser, WithCatalog(testCatalog()))
	_, err := d.Run(context.Background(), Call{
		Family:   model.FamilyOpenAI,
		Provider: "p1",
		Attempt:  attempt.run,
		Persist:  func(string) error { return errors.New("disk full") },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestDriver_ChooserBlocksUntilContextEnds(t *testing.T) {
	blocking := ChooserFunc(func(ctx context.Context, _ Prompt) (Decision, error) {
		<-ctx.Done()
		return Decision{}, ctx.Err()
	})
	attempt := &scriptedAttempt{errs: map[string]error{"p1": quota("p1")}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d := NewDriver(blocking, WithCatalog(testCatalog()))
	_, err := d.Run(ctx, Call{Family: model.FamilyOpenAI, Provider: "p1", Attempt: attempt.run})
	if !errors.Is(err, ErrAbandoned) {
		t.Fatalf("Run() error = %v, want ErrAbandoned", err)
	}
}

func TestDriver_NoAttempt(t *testing.T) {
	if _, err := NewDriver(nil).Run(context.Background(), Call{}); err == nil {
		t.Fatal("Run() without attempt succeeded")
	}
}

func TestPromptChooser(t *testing.T) {
	prompt := Prompt{
		NodeID:     "agent",
		NodeType:   graph.TypeAIAgent,
		Err:        &compute.Error{Kind: compute.KindQuotaExhausted, Message: "quota exceeded", Hint: "check billing"},
		Current:    "gpt-4o",
		Candidates: DefaultCatalog().Candidates(model.FamilyOpenAI, "", []string{"gpt-4o"}, nil),
		Excluded:   []string{"gpt-4o"},
	}

	tests := []struct {
		name  string
		input string
		want  Decision
	}{
		{"by number", "2\n", Use("gpt-3.5-turbo")},
		{"by name", "GPT-4\n", Use("gpt-4")},
		{"retry after bad answer", "9\ngpt-4o-mini\n", Use("gpt-4o-mini")},
		{"empty abandons", "\n", Abandon()},
		{"quit abandons", "q\n", Abandon()},
		{"eof abandons", "", Abandon()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := NewPromptChooser(strings.NewReader(tt.input), &out)
			got, err := c.Choose(context.Background(), prompt)
			if err != nil {
				t.Fatalf("Choose() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Choose() = %+v, want %+v", got, tt.want)
			}
			text := out.String()
			for _, want := range []string{"quota_exhausted", "check billing", "1) gpt-4o-mini"} {
				if !strings.Contains(text, want) {
					t.Errorf("prompt output missing %q:\n%s", want, text)
				}
			}
		})
	}
}
