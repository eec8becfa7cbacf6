package executor

import (
	"context"
	"fmt"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
)

// Vendor agent endpoints used when api_url is unset.
var defaultAgentURLs = map[graph.NodeType]string{
	graph.TypeGPTAgent: "https://api.openai.com/v1/responses",
}

// agentInput lists the fields an agent accepts as input.
var agentInput = []string{graph.FieldData, graph.FieldAnalysis, graph.FieldFilePath}

// aiAgent executes ai_agent nodes: the model comes from the provider node
// wired into the chat_model port.
type aiAgent struct{ c *Context }

func newAIAgent(c *Context) Executor { return aiAgent{c} }

func (e aiAgent) Execute(ctx context.Context) Result {
	c := e.c
	var (
		p        compute.Provider
		provider graph.Capability
		req      compute.AgentRequest
	)
	return run(ctx, c, step{
		requires: agentInput,
		upstream: graph.TypeParseFile,
		validate: func() error {
			var err error
			if provider, err = chatModelPort(c); err != nil {
				return err
			}
			if err := requireConfig(c.Config, "system_prompt"); err != nil {
				return err
			}
			if p, err = compute.NewProvider(provider.Node); err != nil {
				return invalidConfig("chat_model node configuration", err)
			}
			if p.APIKey == "" {
				return &ValidationError{
					Msg: fmt.Sprintf("chat_model node %s: %s: api_key", provider.Node.ID, ErrMissingConfig),
					Err: ErrMissingConfig,
				}
			}
			req = compute.AgentRequest{
				Type:         graph.TypeAIAgent,
				SystemPrompt: str(c.Config, "system_prompt"),
				Goal:         str(c.Config, "goal"),
				Temperature:  floatOr(c.Config, "temperature", compute.DefaultTemperature),
				MaxTokens:    intOr(c.Config, "max_tokens", compute.DefaultMaxTokens),
				OutputFormat: strOr(c.Config, "output_format", compute.DefaultOutputFormat),
			}
			return bindPorts(c, &req)
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req.Input = input
			return callProvider(ctx, c, p, provider.Node.Config, c.setPortConfig(graph.PortChatModel),
				func(ctx context.Context, p compute.Provider) (graph.Bag, error) {
					r := req
					r.Provider = p
					return c.Service.RunAgent(ctx, r)
				})
		},
	})
}

// vendorAgent executes gpt_agent and gemini_agent nodes, which carry their
// own model configuration.
type vendorAgent struct{ c *Context }

func newVendorAgent(c *Context) Executor { return vendorAgent{c} }

func (e vendorAgent) Execute(ctx context.Context) Result {
	c := e.c
	var (
		p   compute.Provider
		req compute.AgentRequest
	)
	return run(ctx, c, step{
		requires: agentInput,
		upstream: graph.TypeParseFile,
		validate: func() error {
			if err := requireConfig(c.Config, "api_key"); err != nil {
				return err
			}
			var err error
			if p, err = compute.NewProvider(c.Node()); err != nil {
				return invalidConfig("provider configuration", err)
			}
			if p.APIURL == "" {
				p.APIURL = defaultAgentURLs[c.NodeType]
			}
			req = compute.AgentRequest{
				Type:         c.NodeType,
				SystemPrompt: str(c.Config, "system_prompt"),
				Instructions: str(c.Config, "instructions"),
				Temperature:  floatOr(c.Config, "temperature", compute.DefaultTemperature),
				MaxTokens:    intOr(c.Config, "max_tokens", compute.DefaultMaxTokens),
				OutputFormat: strOr(c.Config, "output_format", compute.DefaultOutputFormat),
			}
			return bindPorts(c, &req)
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req.Input = input
			return callProvider(ctx, c, p, c.Config, c.setConfig,
				func(ctx context.Context, p compute.Provider) (graph.Bag, error) {
					r := req
					r.Provider = p
					return c.Service.RunAgent(ctx, r)
				})
		},
	})
}

// chatModelPort resolves the mandatory chat_model port of an ai_agent.
func chatModelPort(c *Context) (graph.Capability, error) {
	accepted := graph.ProviderTypes()
	capability, ok := c.Capability(graph.PortChatModel)
	if !ok {
		return graph.Capability{}, missingPort(graph.PortChatModel, accepted)
	}
	if !capability.Node.Type.IsProvider() {
		return graph.Capability{}, wrongPortType(graph.PortChatModel, capability.Node.Type, accepted)
	}
	return capability, nil
}

// bindPorts attaches the optional memory and tool ports to req.
func bindPorts(c *Context, req *compute.AgentRequest) error {
	if m, ok := c.Capability(graph.PortMemory); ok {
		if m.Node.Type != graph.TypeMemory {
			return wrongPortType(graph.PortMemory, m.Node.Type, []graph.NodeType{graph.TypeMemory})
		}
		cfg := m.Node.Config
		req.Memory = &compute.MemoryBinding{
			NodeID:     m.Node.ID,
			MemoryType: strOr(cfg, "memory_type", defaultMemoryType),
			Strategy:   strOr(cfg, "memory_strategy", "auto"),
			TTL:        intOr(cfg, "memory_ttl", intOr(cfg, "ttl", 0)),
			WorkflowID: str(cfg, "workflow_id"),
			SessionID:  strOr(cfg, "session_id", c.SessionID),
		}
	}

	if t, ok := c.Capability(graph.PortTool); ok {
		if t.Node.Type != graph.TypeTool {
			return wrongPortType(graph.PortTool, t.Node.Type, []graph.NodeType{graph.TypeTool})
		}
		cfg := t.Node.Config
		toolType := strOr(cfg, "tool_type", defaultToolType)
		req.Tool = &compute.ToolBinding{
			NodeID: t.Node.ID,
			Name:   strOr(cfg, "name", firstNonEmpty(t.Node.Label, toolType)),
			Type:   toolType,
			Config: graph.Bag(cfg).Clone(),
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
