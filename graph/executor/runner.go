package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/emit"
	"github.com/dshills/nodegraph-go/graph/recovery"
	"github.com/dshills/nodegraph-go/graph/tool"
)

// Runner executes nodes of one Session: it builds each invocation's Context
// from the session, keeps the node status current, emits lifecycle events
// and records metrics.
//
// Different nodes may run concurrently. A node that is already running is
// rejected with ErrNodeBusy.
type Runner struct {
	session  *graph.Session
	registry *Registry
	service  compute.Service
	driver   *recovery.Driver
	metrics  *graph.Metrics
	costs    *graph.CostTracker
	emitter  emit.Emitter
	logger   *slog.Logger
	newTool  func(cfg map[string]any) (tool.Tool, map[string]interface{}, error)
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecovery sets the driver used for provider calls. The default driver
// abandons every recovery.
func WithRecovery(d *recovery.Driver) RunnerOption {
	return func(r *Runner) {
		if d != nil {
			r.driver = d
		}
	}
}

// WithMetrics records execution metrics.
func WithMetrics(m *graph.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithCostTracker records the token usage reported by provider and agent
// nodes.
func WithCostTracker(ct *graph.CostTracker) RunnerOption {
	return func(r *Runner) { r.costs = ct }
}

// WithRunnerEmitter overrides the session's emitter for lifecycle events.
func WithRunnerEmitter(e emit.Emitter) RunnerOption {
	return func(r *Runner) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithRunnerLogger sets the logger handed to executors.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithToolFactory sets how tool nodes build their tool.
func WithToolFactory(f func(cfg map[string]any) (tool.Tool, map[string]interface{}, error)) RunnerOption {
	return func(r *Runner) { r.newTool = f }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a Runner executing session's nodes with registry's
// executors against service.
func NewRunner(session *graph.Session, registry *Registry, service compute.Service, opts ...RunnerOption) *Runner {
	r := &Runner{
		session:  session,
		registry: registry,
		service:  service,
		emitter:  session.Emitter(),
		logger:   slog.Default(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.driver == nil {
		r.driver = recovery.NewDriver(nil, recovery.WithEmitter(r.emitter), recovery.WithMetrics(r.metrics), recovery.WithDriverLogger(r.logger))
	}
	return r
}

// Run executes nodeID once. The returned error is set only when the node
// could not be started (unknown node, or ErrNodeBusy); execution failures
// are reported in the Result.
func (r *Runner) Run(ctx context.Context, nodeID string) (Result, error) {
	node, ok := r.session.Node(nodeID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, nodeID)
	}

	lock := r.lockFor(nodeID)
	if !lock.TryLock() {
		return Result{}, fmt.Errorf("%w: %s", ErrNodeBusy, nodeID)
	}
	defer r.unlock(nodeID, lock)

	c := r.context(ctx, node)
	ex := r.registry.Get(node.Type, c)

	r.emit(node, "node_start", nil)
	r.metrics.ExecutionStarted()
	start := r.now()

	res := r.execute(ctx, c, ex)

	d := r.now().Sub(start)
	status := "success"
	switch {
	case IsUnsupported(ex):
		status = "unsupported"
	case !res.Success:
		status = "failure"
	}
	r.metrics.ExecutionFinished(string(node.Type), status, d)
	if res.Success {
		r.recordCost(node, res.Result)
	}

	if !res.Success {
		meta := map[string]interface{}{"error": res.Error}
		if res.Kind != "" {
			meta["error_kind"] = string(res.Kind)
		}
		if res.Hint != "" {
			meta["hint"] = res.Hint
		}
		r.emit(node, "node_error", meta)
	}
	r.emit(node, "node_end", map[string]interface{}{
		"duration_ms": d.Milliseconds(),
		"status":      status,
	})
	return res, nil
}

func (r *Runner) execute(ctx context.Context, c *Context, ex Executor) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("executor panic", "node", c.NodeID, "type", c.NodeType, "panic", p)
			res = c.fail(panicError(p))
		}
	}()
	return ex.Execute(ctx)
}

// recordCost adds the usage a provider or agent node reported to the cost
// tracker. Agents report usage in their own agent_output, since the
// chat_model_response in their result may have been carried forward from
// upstream. Other node types are ignored so a call is counted once.
func (r *Runner) recordCost(n graph.Node, result graph.Bag) {
	if r.costs == nil {
		return
	}
	var field string
	switch {
	case n.Type.IsAgent():
		field = graph.FieldAgentOutput
	case n.Type.IsProvider():
		field = graph.FieldChatModelResponse
	default:
		return
	}
	resp, ok := result[field].(map[string]any)
	if !ok {
		return
	}
	usage, ok := resp["usage"].(map[string]any)
	if !ok {
		return
	}
	modelName, _ := resp["model"].(string)
	r.costs.RecordCall(modelName, tokenCount(usage["prompt_tokens"]), tokenCount(usage["completion_tokens"]), n.ID)
}

func tokenCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (r *Runner) lockFor(nodeID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[nodeID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[nodeID] = l
	}
	return l
}

// unlock releases a node's lock and forgets it once the node has left the
// session.
func (r *Runner) unlock(nodeID string, lock *sync.Mutex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock.Unlock()
	if _, ok := r.session.Node(nodeID); !ok && r.locks[nodeID] == lock {
		delete(r.locks, nodeID)
	}
}

func (r *Runner) context(ctx context.Context, node graph.Node) *Context {
	s := r.session
	id := node.ID
	c := &Context{
		SessionID: s.ID(),
		NodeID:    id,
		NodeType:  node.Type,
		Config:    node.Config,
		Service:   r.service,
		Recovery:  r.driver,
		NewTool:   r.newTool,
		Logger:    r.logger.With("node", id, "type", string(node.Type)),
		Emitter:   r.emitter,
		Now:       r.now,
	}
	c.Previous, c.HasPrevious = s.Result(id)
	c.Upstream, c.HasUpstream = s.DefaultUpstreamResult(id)

	var failed bool
	c.Commit = func(b graph.Bag) error {
		return s.SetResult(ctx, id, b)
	}
	c.SetRunning = func(running bool) {
		status := graph.StatusRunning
		if !running {
			if failed {
				return
			}
			status = graph.StatusCompleted
		}
		r.setStatus(id, status)
	}
	c.SetError = func(msg string) {
		failed = true
		r.setStatus(id, graph.StatusFailed)
	}
	c.SetConfig = func(key string, value any) error {
		return s.SetConfigValue(id, key, value)
	}
	c.SetPortConfig = func(port, key string, value any) error {
		capability, ok := s.ResolveCapability(id, port)
		if !ok {
			return fmt.Errorf("%w %q", ErrMissingPort, port)
		}
		return s.SetConfigValue(capability.Node.ID, key, value)
	}
	c.ResolveCapability = func(port string) (graph.Capability, bool) {
		return s.ResolveCapability(id, port)
	}
	return c
}

func (r *Runner) setStatus(id string, status graph.Status) {
	if err := r.session.SetStatus(id, status); err != nil {
		r.logger.Warn("failed to set node status", "node", id, "status", status, "error", err)
	}
}

func (r *Runner) emit(n graph.Node, msg string, meta map[string]interface{}) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(emit.Event{
		SessionID: r.session.ID(),
		NodeID:    n.ID,
		NodeType:  string(n.Type),
		Msg:       msg,
		Meta:      meta,
	})
}
