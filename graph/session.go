package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dshills/nodegraph-go/graph/emit"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ResultStore persists committed context bags beyond the lifetime of a
// process. Implementations live in graph/store.
type ResultStore interface {
	SaveResult(ctx context.Context, sessionID, nodeID string, result map[string]any) error
	LoadResults(ctx context.Context, sessionID string) (map[string]map[string]any, error)
	DeleteResult(ctx context.Context, sessionID, nodeID string) error
	ClearResults(ctx context.Context, sessionID string) error
}

// Capability is what a named port resolves to: the connected node's static
// configuration, plus its last result when it has been executed.
type Capability struct {
	Node      Node
	Result    Bag
	HasResult bool
}

// Session is the graph store for one editing session. It holds the nodes,
// the edges in insertion order, and the last execution result of each node.
//
// A Session is created when an editor opens a workflow and is reset when the
// user switches or reloads the workflow. It is safe for concurrent use;
// concurrent writers to the same node's result are last-write-wins unless
// the caller serializes them (executor.Runner does).
type Session struct {
	id string

	mu      sync.RWMutex
	nodes   map[string]*Node
	order   []string
	edges   []Edge
	results map[string]Bag

	store   ResultStore
	emitter emit.Emitter
	logger  *slog.Logger
}

// Option configures a Session.
type Option func(*Session) error

// WithSessionID sets the session identifier. By default a random UUID is used.
func WithSessionID(id string) Option {
	return func(s *Session) error {
		if id == "" {
			return errors.New("session id must not be empty")
		}
		s.id = id
		return nil
	}
}

// WithResultStore writes every committed result through to store.
func WithResultStore(store ResultStore) Option {
	return func(s *Session) error {
		s.store = store
		return nil
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(s *Session) error {
		if e == nil {
			return errors.New("emitter must not be nil")
		}
		s.emitter = e
		return nil
	}
}

// WithLogger sets the logger used for non-fatal persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) error {
		if l == nil {
			return errors.New("logger must not be nil")
		}
		s.logger = l
		return nil
	}
}

// NewSession creates an empty session.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		id:      uuid.NewString(),
		nodes:   make(map[string]*Node),
		results: make(map[string]Bag),
		emitter: emit.NewNullEmitter(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("invalid session option: %w", err)
		}
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Emitter returns the session's emitter.
func (s *Session) Emitter() emit.Emitter { return s.emitter }

// AddNode adds n to the graph. An empty ID is replaced by a generated one
// and an empty status becomes pending. The stored node is returned.
func (s *Session) AddNode(n Node) (Node, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n = normalizeNode(n)
	if err := validate.Struct(n); err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		return Node{}, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	stored := n.Clone()
	s.nodes[n.ID] = &stored
	s.order = append(s.order, n.ID)
	return stored.Clone(), nil
}

// RemoveNode deletes a node, every edge incident on it, and its result.
func (s *Session) RemoveNode(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(s.nodes, id)
	delete(s.results, id)
	for i, nid := range s.order {
		if nid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	s.edges = kept
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteResult(ctx, s.id, id); err != nil {
			s.storeFailed(id, "delete result", err)
		}
	}
	return nil
}

// Node returns a copy of the node with the given ID.
func (s *Session) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// Nodes returns copies of every node in insertion order.
func (s *Session) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// UpdateConfig replaces a node's whole configuration.
func (s *Session) UpdateConfig(id string, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Config = cloneMap(config)
	if n.Config == nil {
		n.Config = map[string]any{}
	}
	return nil
}

// SetConfigValue sets a single configuration key on a node. The change is
// durable for the session: later executions see it.
func (s *Session) SetConfigValue(id, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Config[key] = cloneValue(value)
	return nil
}

// SetStatus records a node's last-known status.
func (s *Session) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Status = status
	return nil
}

// Connect adds an edge. Both endpoints must exist, a node accepts at most one
// default-port edge, and each named target port accepts at most one edge.
// An empty edge ID is replaced by a generated one.
func (s *Session) Connect(e Edge) (Edge, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := validate.Struct(e); err != nil {
		return Edge{}, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.edges {
		if existing.ID == e.ID {
			return Edge{}, fmt.Errorf("%w: %s", ErrDuplicateEdge, e.ID)
		}
	}
	if err := checkEdge(e, s.nodes, s.edges); err != nil {
		return Edge{}, err
	}
	s.edges = append(s.edges, e)
	return e, nil
}

// Disconnect removes an edge by ID.
func (s *Session) Disconnect(edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.edges {
		if e.ID == edgeID {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
}

// Edges returns a copy of the edge list in insertion order.
func (s *Session) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Edge(nil), s.edges...)
}

// Result returns a copy of the last committed result for a node.
func (s *Session) Result(id string) (Bag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// SetResult commits a context bag for a node, replacing any previous one
// wholesale. With a ResultStore attached the bag is also persisted; a
// persistence failure is logged and emitted but does not fail the commit.
func (s *Session) SetResult(ctx context.Context, id string, result Bag) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	stored := result.Clone()
	if stored == nil {
		stored = Bag{}
	}
	s.results[id] = stored
	nodeType := string(n.Type)
	s.mu.Unlock()

	s.emitter.Emit(emit.Event{
		SessionID: s.id,
		NodeID:    id,
		NodeType:  nodeType,
		Msg:       "result_committed",
		Meta:      map[string]interface{}{"fields": len(stored)},
	})

	if s.store != nil {
		if err := s.store.SaveResult(ctx, s.id, id, stored.Clone()); err != nil {
			s.storeFailed(id, "save result", err)
		}
	}
	return nil
}

// Load replaces the session contents with wf and clears every result.
// The whole workflow is validated first; on error the session is unchanged.
func (s *Session) Load(ctx context.Context, wf Workflow) error {
	nodes := make(map[string]*Node, len(wf.Nodes))
	order := make([]string, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		n = normalizeNode(n)
		if err := validate.Struct(n); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrInvalidNode, n.ID, err)
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		stored := n.Clone()
		nodes[n.ID] = &stored
		order = append(order, n.ID)
	}

	edges := make([]Edge, 0, len(wf.Edges))
	seen := make(map[string]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if err := validate.Struct(e); err != nil {
			return fmt.Errorf("%w: edge %q: %v", ErrInvalidNode, e.ID, err)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateEdge, e.ID)
		}
		if err := checkEdge(e, nodes, edges); err != nil {
			return err
		}
		seen[e.ID] = true
		edges = append(edges, e)
	}

	s.mu.Lock()
	s.nodes = nodes
	s.order = order
	s.edges = edges
	s.results = make(map[string]Bag)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.ClearResults(ctx, s.id); err != nil {
			s.storeFailed("", "clear results", err)
		}
	}
	return nil
}

// Reset empties the session.
func (s *Session) Reset(ctx context.Context) error {
	return s.Load(ctx, Workflow{})
}

// Restore reloads persisted results for nodes currently in the session.
// Results for nodes that no longer exist are ignored.
func (s *Session) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	saved, err := s.store.LoadResults(ctx, s.id)
	if err != nil {
		return 0, fmt.Errorf("failed to restore session %s: %w", s.id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for id, r := range saved {
		if _, ok := s.nodes[id]; !ok {
			continue
		}
		s.results[id] = Bag(cloneMap(r))
		restored++
	}
	return restored, nil
}

// Snapshot returns the current graph definition.
func (s *Session) Snapshot() Workflow {
	return Workflow{ID: s.id, Nodes: s.Nodes(), Edges: s.Edges()}
}

func (s *Session) storeFailed(nodeID, op string, err error) {
	s.logger.Warn("session persistence failed", "session", s.id, "node", nodeID, "op", op, "error", err)
	s.emitter.Emit(emit.Event{
		SessionID: s.id,
		NodeID:    nodeID,
		Msg:       "store_error",
		Meta:      map[string]interface{}{"op": op, "error": err.Error()},
	})
}

func normalizeNode(n Node) Node {
	if n.Status == "" {
		n.Status = StatusPending
	}
	if n.Config == nil {
		n.Config = map[string]any{}
	}
	return n
}

func checkEdge(e Edge, nodes map[string]*Node, edges []Edge) error {
	if _, ok := nodes[e.Source]; !ok {
		return fmt.Errorf("%w: source %q of edge %s", ErrEdgeEndpoint, e.Source, e.ID)
	}
	if _, ok := nodes[e.Target]; !ok {
		return fmt.Errorf("%w: target %q of edge %s", ErrEdgeEndpoint, e.Target, e.ID)
	}
	for _, existing := range edges {
		if existing.Target != e.Target || existing.TargetPort != e.TargetPort {
			continue
		}
		if e.IsDefault() {
			return fmt.Errorf("%w: %s (edge %s)", ErrDuplicateDefaultInput, e.Target, existing.ID)
		}
		return fmt.Errorf("%w: %s port %q (edge %s)", ErrDuplicatePort, e.Target, e.TargetPort, existing.ID)
	}
	return nil
}
