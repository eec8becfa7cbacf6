package executor

import (
	"context"
	"encoding/json"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/recovery"
)

// providerCall executes chatgpt, gemini, deepseek and chat_model nodes: one
// prompt sent to the configured model.
type providerCall struct{ c *Context }

func newProviderCall(c *Context) Executor { return providerCall{c} }

func (e providerCall) Execute(ctx context.Context) Result {
	c := e.c
	var p compute.Provider
	return run(ctx, c, step{
		optional: true,
		validate: func() error {
			required := []string{"api_key", "api_url", "request_body"}
			if c.NodeType == graph.TypeChatModel {
				required = append([]string{"model_type"}, required...)
			}
			if err := requireConfig(c.Config, required...); err != nil {
				return err
			}
			var err error
			p, err = compute.NewProvider(c.Node())
			if err != nil {
				return invalidConfig("provider configuration", err)
			}
			return nil
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			prompt := derivePrompt(c.Config, input)
			return callProvider(ctx, c, p, c.Config, c.setConfig, func(ctx context.Context, p compute.Provider) (graph.Bag, error) {
				return c.Service.Chat(ctx, compute.ChatRequest{Provider: p, Prompt: prompt})
			})
		},
	})
}

// derivePrompt returns the configured prompt or, without one, a prompt
// built from the input's analysis or data.
func derivePrompt(cfg map[string]any, input graph.Bag) string {
	if p := str(cfg, "prompt"); p != "" {
		return p
	}
	switch {
	case input.Has(graph.FieldAnalysis):
		return "Please analyze the following data:\n" + indentJSON(input[graph.FieldAnalysis])
	case input.Has(graph.FieldData):
		return "Please process the following data:\n" + indentJSON(input[graph.FieldData])
	}
	return compute.DefaultPrompt
}

// callProvider runs call through the recovery driver. A substituted model is
// written back with set into the configuration cfg was read from.
func callProvider(
	ctx context.Context,
	c *Context,
	p compute.Provider,
	cfg map[string]any,
	set func(key string, value any) error,
	call func(context.Context, compute.Provider) (graph.Bag, error),
) (graph.Bag, error) {
	driver := c.Recovery
	if driver == nil {
		driver = recovery.NewDriver(nil, recovery.WithEmitter(c.Emitter), recovery.WithDriverLogger(c.logger()))
	}
	return driver.Run(ctx, recovery.Call{
		SessionID: c.SessionID,
		NodeID:    c.NodeID,
		NodeType:  c.NodeType,
		Family:    p.Family(),
		Provider:  p.Model,
		Attempt: func(ctx context.Context, m string) (graph.Bag, error) {
			if p.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.Timeout)
				defer cancel()
			}
			return call(ctx, p.WithModel(m))
		},
		Persist: func(m string) error {
			return persistModel(cfg, m, set)
		},
	})
}

// persistModel records model m as the configured model, updating the model
// of the request body template too when it names one.
func persistModel(cfg map[string]any, m string, set func(key string, value any) error) error {
	if err := set("model", m); err != nil {
		return err
	}
	switch body := cfg["request_body"].(type) {
	case map[string]any:
		if _, ok := body["model"]; !ok {
			return nil
		}
		updated := graph.Bag(body).Clone()
		updated["model"] = m
		return set("request_body", map[string]any(updated))
	case string:
		var decoded map[string]any
		if json.Unmarshal([]byte(body), &decoded) != nil {
			return nil
		}
		if _, ok := decoded["model"]; !ok {
			return nil
		}
		decoded["model"] = m
		return set("request_body", indentJSON(decoded))
	}
	return nil
}
