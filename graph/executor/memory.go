package executor

import (
	"context"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
)

const defaultMemoryType = "workflow"

var memoryOperations = []string{
	compute.MemoryStore,
	compute.MemoryRetrieve,
	compute.MemorySearch,
	compute.MemoryDelete,
}

// Result limits when a memory node leaves limit unset.
var defaultMemoryLimits = map[string]int{
	compute.MemoryRetrieve: 100,
	compute.MemorySearch:   10,
}

var timestampKeys = map[string]string{
	compute.MemoryStore:    "stored_at",
	compute.MemoryRetrieve: "retrieved_at",
	compute.MemorySearch:   "searched_at",
	compute.MemoryDelete:   "deleted_at",
}

// Sources of the value a store operation writes.
const (
	valueUpstream = "upstream"
	valueManual   = "manual"
)

type memory struct{ c *Context }

func newMemory(c *Context) Executor { return memory{c} }

func (e memory) Execute(ctx context.Context) Result {
	c := e.c
	var (
		req    compute.MemoryRequest
		source string
	)
	return run(ctx, c, step{
		optional: true,
		validate: func() error {
			req.Operation = strOr(c.Config, "operation", compute.MemoryStore)
			if err := oneOf("operation", req.Operation, memoryOperations...); err != nil {
				return err
			}
			req.MemoryType = strOr(c.Config, "memory_type", defaultMemoryType)
			req.Key = str(c.Config, "key")
			req.Query = str(c.Config, "query")
			req.WorkflowID = str(c.Config, "workflow_id")
			req.SessionID = strOr(c.Config, "session_id", c.SessionID)
			req.TTL = intOr(c.Config, "ttl", 0)
			req.Limit = intOr(c.Config, "limit", defaultMemoryLimits[req.Operation])

			var err error
			switch req.Operation {
			case compute.MemoryStore:
				if err := requireConfig(c.Config, "key"); err != nil {
					return err
				}
				if req.Metadata, err = object(c.Config, "metadata"); err != nil {
					return err
				}
				source = strOr(c.Config, "value_source", valueUpstream)
				if err := oneOf("value_source", source, valueUpstream, valueManual); err != nil {
					return err
				}
				if source == valueManual {
					if err := requireConfig(c.Config, "value"); err != nil {
						return err
					}
					if req.Value, err = jsonValue(c.Config, "value"); err != nil {
						return err
					}
				}
			case compute.MemorySearch:
				return requireConfig(c.Config, "query")
			}
			return nil
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			if req.Operation == compute.MemoryStore && source == valueUpstream {
				v, ok := upstreamValue(input)
				if !ok {
					return nil, noInput("")
				}
				req.Value = v
			}
			out, err := c.Service.Memory(ctx, req)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = graph.Bag{}
			}
			out[graph.FieldMemoryResult] = annotate(out[graph.FieldMemoryResult], req, c.now())
			return out, nil
		},
	})
}

// upstreamValue picks what a store operation saves from input: the
// analysis, else the data, else the whole bag.
func upstreamValue(input graph.Bag) (any, bool) {
	if len(input) == 0 {
		return nil, false
	}
	for _, f := range []string{graph.FieldAnalysis, graph.FieldData} {
		if input.Has(f) {
			return input[f], true
		}
	}
	return map[string]any(input.Clone()), true
}

func annotate(result any, req compute.MemoryRequest, now time.Time) map[string]any {
	r := map[string]any{}
	switch v := result.(type) {
	case map[string]any:
		for k, x := range v {
			r[k] = x
		}
	case graph.Bag:
		for k, x := range v {
			r[k] = x
		}
	case nil:
	default:
		r["value"] = v
	}
	if _, ok := r["operation"]; !ok {
		r["operation"] = req.Operation
	}
	r["memory_type"] = req.MemoryType
	switch req.Operation {
	case compute.MemorySearch:
		r["query"] = req.Query
	default:
		if req.Key != "" {
			r["key"] = req.Key
		}
	}
	r[timestampKeys[req.Operation]] = now.UTC().Format(time.RFC3339)
	return r
}
