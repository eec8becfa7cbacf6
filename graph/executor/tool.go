package executor

import (
	"context"
	"net/http"
	"strings"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/tool"
)

const defaultToolType = tool.TypeHTTPRequest

// toolCall executes tool nodes directly. Run standalone, a tool node calls
// its tool once with the configured input; wired into an agent's tool port
// it is offered to the model instead.
type toolCall struct{ c *Context }

func newToolCall(c *Context) Executor { return toolCall{c} }

func (e toolCall) Execute(ctx context.Context) Result {
	c := e.c
	var (
		t        tool.Tool
		defaults map[string]interface{}
		toolType string
	)
	return run(ctx, c, step{
		optional: true,
		validate: func() error {
			toolType = strOr(c.Config, "tool_type", defaultToolType)
			if err := oneOf("tool_type", toolType, tool.TypeHTTPRequest); err != nil {
				return err
			}
			if err := requireConfig(c.Config, "url"); err != nil {
				return err
			}
			build := c.NewTool
			if build == nil {
				build = tool.FromConfig
			}
			var err error
			if t, defaults, err = build(c.Config); err != nil {
				return invalidConfig("tool configuration", err)
			}
			return nil
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			args := map[string]interface{}{}
			if _, ok := defaults["body"]; !ok && input.Has(graph.FieldData) && sendsBody(defaults) {
				args["body"] = input[graph.FieldData]
			}
			bound := tool.Bound{Tool: t, Defaults: defaults}
			out, err := bound.Call(ctx, args)
			if err != nil {
				return nil, err
			}
			return graph.Bag{graph.FieldToolResult: map[string]any{
				"tool_type": toolType,
				"name":      strOr(c.Config, "name", bound.Name()),
				"output":    out,
			}}, nil
		},
	})
}

// sendsBody reports whether the configured method carries a request body.
func sendsBody(defaults map[string]interface{}) bool {
	m, _ := defaults["method"].(string)
	switch strings.ToUpper(m) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
