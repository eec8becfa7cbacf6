package graph

// Bag is the context bag a node execution produces: a structurally open
// record of named fields. Each node type contributes and consumes a subset
// of fields; anything produced upstream stays visible downstream unless a
// nearer node overwrites the same name.
type Bag map[string]any

// Well-known bag fields.
const (
	FieldData              = "data"
	FieldSchema            = "schema"
	FieldFilePath          = "file_path"
	FieldFileType          = "file_type"
	FieldAnalysis          = "analysis"
	FieldEditorConfig      = "editor_config"
	FieldGeneratedWorkflow = "generated_workflow"
	FieldSmartEditResult   = "smart_edit_result"
	FieldChatModelResponse = "chat_model_response"
	FieldMemoryResult      = "memory_result"
	FieldValidation        = "validation"
	FieldAgentOutput       = "agent_output"
	FieldToolResult        = "tool_result"
	FieldExport            = "export"
	FieldError             = "error"
)

// Merge applies the context merge law: the result holds every field of
// source, overwritten by every field of output. A nil source is treated as
// empty. Neither argument is modified.
func Merge(source, output Bag) Bag {
	merged := make(Bag, len(source)+len(output))
	for k, v := range source {
		merged[k] = cloneValue(v)
	}
	for k, v := range output {
		merged[k] = cloneValue(v)
	}
	return merged
}

// Has reports whether field k is present and non-nil.
func (b Bag) Has(k string) bool {
	v, ok := b[k]
	return ok && v != nil
}

// String returns field k as a string, or "" when absent or not a string.
func (b Bag) String(k string) string {
	s, _ := b[k].(string)
	return s
}

// Clone returns a deep copy of b. Nested maps and slices are copied so the
// clone can be mutated without affecting b.
func (b Bag) Clone() Bag {
	if b == nil {
		return nil
	}
	return Bag(cloneMap(b))
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Bag:
		return Bag(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
