// Package executor runs single nodes of a workflow graph.
//
// Every node type has exactly one Executor, created per invocation by the
// Registry from a Context. An execution validates the node's configuration
// and capability ports, resolves its input from the default upstream node,
// performs the operation through a compute.Service and commits the input
// merged with the operation's output. Provider calls go through a
// recovery.Driver.
//
// Executors return, never panic: every outcome is a Result.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/emit"
	"github.com/dshills/nodegraph-go/graph/recovery"
	"github.com/dshills/nodegraph-go/graph/tool"
)

// Executor performs one execution of one node.
type Executor interface {
	Execute(ctx context.Context) Result
}

// Func adapts a function to Executor.
type Func func(ctx context.Context) Result

// Execute implements Executor.
func (f Func) Execute(ctx context.Context) Result { return f(ctx) }

// Result is the outcome of an execution.
//
// On success Result holds the committed context bag. On failure Error is
// the message to show, and for failures classified at the compute boundary
// Kind and Hint are set.
type Result struct {
	Success bool
	Result  graph.Bag
	Error   string
	Kind    compute.ErrorKind
	Hint    string
}

// Context is everything an executor may see and do during one invocation.
// It is built per invocation and must not be retained.
type Context struct {
	SessionID string
	NodeID    string
	NodeType  graph.NodeType

	// Config is a snapshot of the node configuration.
	Config map[string]any

	Previous    graph.Bag
	HasPrevious bool
	Upstream    graph.Bag
	HasUpstream bool

	// Commit stores the node's new result.
	Commit     func(graph.Bag) error
	SetRunning func(bool)
	SetError   func(string)

	// SetConfig durably changes one key of this node's configuration.
	SetConfig func(key string, value any) error

	// SetPortConfig durably changes one key of the configuration of the
	// node wired into port.
	SetPortConfig func(port, key string, value any) error

	// ResolveCapability returns the node wired into one of this node's named
	// ports.
	ResolveCapability func(port string) (graph.Capability, bool)

	Service  compute.Service
	Recovery *recovery.Driver

	// NewTool builds the tool of a tool node. Nil uses tool.FromConfig.
	NewTool func(cfg map[string]any) (tool.Tool, map[string]interface{}, error)

	Logger  *slog.Logger
	Emitter emit.Emitter
	Now     func() time.Time
}

// Node returns the node described by the context.
func (c *Context) Node() graph.Node {
	return graph.Node{ID: c.NodeID, Type: c.NodeType, Config: c.Config}
}

// Input returns the bag the node operates on: the default upstream result
// or, without one, the node's own previous result.
func (c *Context) Input() (graph.Bag, bool) {
	if c.HasUpstream {
		return c.Upstream, true
	}
	if c.HasPrevious {
		return c.Previous, true
	}
	return nil, false
}

// Capability resolves port, reporting false when nothing is wired into it.
func (c *Context) Capability(port string) (graph.Capability, bool) {
	if c.ResolveCapability == nil {
		return graph.Capability{}, false
	}
	return c.ResolveCapability(port)
}

func (c *Context) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Context) commit(b graph.Bag) error {
	if c.Commit == nil {
		return nil
	}
	return c.Commit(b)
}

func (c *Context) setRunning(running bool) {
	if c.SetRunning != nil {
		c.SetRunning(running)
	}
}

func (c *Context) setError(msg string) {
	if c.SetError != nil {
		c.SetError(msg)
	}
}

func (c *Context) setConfig(key string, value any) error {
	if c.SetConfig == nil {
		return errors.New("node configuration is read-only")
	}
	return c.SetConfig(key, value)
}

func (c *Context) setPortConfig(port string) func(key string, value any) error {
	return func(key string, value any) error {
		if c.SetPortConfig == nil {
			return errors.New("node configuration is read-only")
		}
		return c.SetPortConfig(port, key, value)
	}
}

// fail turns err into a failed Result and reports it through the context.
// Local validation errors keep their text; everything else goes through
// compute.Classify.
func (c *Context) fail(err error) Result {
	r := Result{Error: err.Error()}

	var (
		ve *ValidationError
		f  *recovery.Failure
	)
	switch {
	case errors.As(err, &ve):
	case errors.As(err, &f) && f.Err != nil:
		r.Error = f.Error()
		r.Kind = f.Err.Kind
		r.Hint = f.Err.Hint
	default:
		ce := compute.Classify(err)
		r.Error = ce.Message
		r.Kind = ce.Kind
		r.Hint = ce.Hint
	}

	c.setError(r.Error)
	c.setRunning(false)
	return r
}

// step describes one execution performed by run.
type step struct {
	// source types have no input.
	source bool

	// optional input may be absent.
	optional bool

	// requires lists bag fields of which the input must carry at least one.
	requires []string

	// upstream names the node type to run first when input is missing.
	upstream graph.NodeType

	validate func() error
	op       func(ctx context.Context, input graph.Bag) (graph.Bag, error)
}

// run is the shared execution sequence: validate, resolve input, perform the
// operation, merge and commit.
func run(ctx context.Context, c *Context, s step) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			c.logger().Error("executor panic", "node", c.NodeID, "type", c.NodeType, "panic", p)
			res = c.fail(panicError(p))
		}
	}()

	if s.validate != nil {
		if err := s.validate(); err != nil {
			return c.fail(err)
		}
	}

	var input graph.Bag
	if !s.source {
		in, ok := c.Input()
		if err := checkInput(in, ok, s); err != nil {
			if !s.optional {
				return c.fail(err)
			}
		} else {
			input = in
		}
	}

	c.setRunning(true)
	out, err := s.op(ctx, input)
	if err != nil {
		return c.fail(err)
	}

	updated := graph.Merge(input, out)
	if err := c.commit(updated); err != nil {
		return c.fail(err)
	}
	c.setRunning(false)
	return Result{Success: true, Result: updated}
}

func checkInput(in graph.Bag, ok bool, s step) error {
	if !ok {
		return noInput(s.upstream)
	}
	if len(s.requires) == 0 {
		return nil
	}
	for _, field := range s.requires {
		if in.Has(field) {
			return nil
		}
	}
	return missingField(s.requires[0], s.upstream)
}
