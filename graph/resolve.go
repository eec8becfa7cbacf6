package graph

// DefaultUpstream returns the source node of the first edge, in edge-list
// order, that feeds nodeID's default port.
func (s *Session) DefaultUpstream(nodeID string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.edges {
		if e.Target == nodeID && e.IsDefault() {
			n, ok := s.nodes[e.Source]
			if !ok {
				return Node{}, false
			}
			return n.Clone(), true
		}
	}
	return Node{}, false
}

// DefaultUpstreamResult returns the stored result of nodeID's default
// upstream. It reports false when no default-port edge targets nodeID or
// when the upstream node has not produced a result yet.
//
// The lookup is evaluated against the current edges and results on every
// call; nothing is cached.
func (s *Session) DefaultUpstreamResult(nodeID string) (Bag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.edges {
		if e.Target == nodeID && e.IsDefault() {
			r, ok := s.results[e.Source]
			if !ok {
				return nil, false
			}
			return r.Clone(), true
		}
	}
	return nil, false
}

// ResolveCapability returns the node wired into nodeID's named port: its
// static configuration and, when it has one, its stored result.
func (s *Session) ResolveCapability(nodeID, port string) (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.edges {
		if e.Target != nodeID || e.TargetPort != port {
			continue
		}
		n, ok := s.nodes[e.Source]
		if !ok {
			return Capability{}, false
		}
		capability := Capability{Node: n.Clone()}
		if r, ok := s.results[e.Source]; ok {
			capability.Result = r.Clone()
			capability.HasResult = true
		}
		return capability, true
	}
	return Capability{}, false
}
