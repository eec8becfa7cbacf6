package graph

import (
	"fmt"
	"sort"
)

// NodeType identifies the behavior variant of a node.
//
// The set is closed: every type returned by NodeTypes has an executor
// registered at startup. Nodes carrying any other type can still be loaded
// into a Session, they simply resolve to the unsupported executor.
type NodeType string

// Source readers.
const (
	TypeParseFile NodeType = "parse_file"
)

// Transforms and validators.
const (
	TypeEditData     NodeType = "edit_data"
	TypeFilterData   NodeType = "filter_data"
	TypeValidateData NodeType = "validate_data"
	TypeSmartEdit    NodeType = "smart_edit"
)

// Structure analysis and generation.
const (
	TypeAnalyzeStructure     NodeType = "analyze_xml_structure"
	TypeGenerateEditorConfig NodeType = "generate_editor_config"
	TypeGenerateWorkflow     NodeType = "generate_workflow"
)

// AI-provider callers. These also serve as the capability behind an agent's
// chat_model port.
const (
	TypeChatGPT   NodeType = "chatgpt"
	TypeGemini    NodeType = "gemini"
	TypeDeepSeek  NodeType = "deepseek"
	TypeChatModel NodeType = "chat_model"
)

// AI-agent callers.
const (
	TypeAIAgent     NodeType = "ai_agent"
	TypeGPTAgent    NodeType = "gpt_agent"
	TypeGeminiAgent NodeType = "gemini_agent"
)

// Memory operators, tools and exporters.
const (
	TypeMemory     NodeType = "memory"
	TypeTool       NodeType = "tool"
	TypeExportFile NodeType = "export_file"
)

var knownTypes = map[NodeType]bool{
	TypeParseFile:            true,
	TypeEditData:             true,
	TypeFilterData:           true,
	TypeValidateData:         true,
	TypeSmartEdit:            true,
	TypeAnalyzeStructure:     true,
	TypeGenerateEditorConfig: true,
	TypeGenerateWorkflow:     true,
	TypeChatGPT:              true,
	TypeGemini:               true,
	TypeDeepSeek:             true,
	TypeChatModel:            true,
	TypeAIAgent:              true,
	TypeGPTAgent:             true,
	TypeGeminiAgent:          true,
	TypeMemory:               true,
	TypeTool:                 true,
	TypeExportFile:           true,
}

// NodeTypes returns every known node type in lexical order.
func NodeTypes() []NodeType {
	types := make([]NodeType, 0, len(knownTypes))
	for t := range knownTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Known reports whether t belongs to the closed node type set.
func (t NodeType) Known() bool {
	return knownTypes[t]
}

// IsSource reports whether nodes of this type produce data without an
// upstream input.
func (t NodeType) IsSource() bool {
	return t == TypeParseFile
}

// IsProvider reports whether nodes of this type can be wired into an agent's
// chat_model port.
func (t NodeType) IsProvider() bool {
	switch t {
	case TypeChatGPT, TypeGemini, TypeDeepSeek, TypeChatModel:
		return true
	}
	return false
}

// IsAgent reports whether nodes of this type run an agent turn.
func (t NodeType) IsAgent() bool {
	return t == TypeAIAgent || t == TypeGPTAgent || t == TypeGeminiAgent
}

// ProviderTypes lists the node types accepted on a chat_model port.
func ProviderTypes() []NodeType {
	return []NodeType{TypeChatGPT, TypeGemini, TypeDeepSeek, TypeChatModel}
}

// ParseNodeType converts a string into a NodeType, rejecting unknown names.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(s)
	if !t.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownNodeType, s)
	}
	return t, nil
}

// Status is the last-known execution status of a node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Node is a configured unit of work in a workflow graph.
type Node struct {
	ID     string         `json:"id" yaml:"id" validate:"required"`
	Type   NodeType       `json:"type" yaml:"type" validate:"required"`
	Label  string         `json:"label,omitempty" yaml:"label,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Status Status         `json:"status,omitempty" yaml:"status,omitempty" validate:"omitempty,oneof=pending running completed failed"`
}

// Clone returns a copy of n whose Config can be mutated independently.
func (n Node) Clone() Node {
	out := n
	out.Config = cloneMap(n.Config)
	return out
}

// NodeError is a failed execution surfaced as an error, for callers that
// run nodes outside an editor (the CLI exits with it).
type NodeError struct {
	Message string

	// Code is the compute error kind when the failure was classified,
	// otherwise empty.
	Code string

	NodeID string
	Cause  error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
