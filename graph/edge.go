package graph

// DefaultPort is the anonymous single-input channel. An edge whose
// TargetPort is empty carries the primary data-as-dependency input.
const DefaultPort = ""

// Named capability ports. Edges into these ports carry configuration as a
// dependency rather than data.
const (
	PortChatModel = "chat_model"
	PortMemory    = "memory"
	PortTool      = "tool"
)

// Edge is a directed wire between two nodes, optionally tagged with a named
// port on either end.
//
// Both endpoints must reference nodes present in the Session; the Session
// enforces this on Connect and Load. Cycles are not rejected: execution never
// follows more than one upstream hop per invocation.
type Edge struct {
	ID         string `json:"id" yaml:"id" validate:"required"`
	Source     string `json:"source" yaml:"source" validate:"required"`
	Target     string `json:"target" yaml:"target" validate:"required"`
	SourcePort string `json:"sourcePort,omitempty" yaml:"sourcePort,omitempty"`
	TargetPort string `json:"targetPort,omitempty" yaml:"targetPort,omitempty"`
}

// IsDefault reports whether the edge feeds the target's default port.
func (e Edge) IsDefault() bool {
	return e.TargetPort == DefaultPort
}
