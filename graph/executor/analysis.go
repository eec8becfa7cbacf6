package executor

import (
	"context"
	"io"
	"os"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
)

// sampleLimit caps the raw file sample sent with a structure analysis.
const sampleLimit = 8 << 10

type analyzeStructure struct{ c *Context }

func newAnalyzeStructure(c *Context) Executor { return analyzeStructure{c} }

func (e analyzeStructure) Execute(ctx context.Context) Result {
	c := e.c
	return run(ctx, c, step{
		requires: []string{graph.FieldData},
		upstream: graph.TypeParseFile,
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req := compute.AnalyzeRequest{
				Data:              input[graph.FieldData],
				Schema:            input[graph.FieldSchema],
				AdditionalContext: str(c.Config, "additional_context"),
			}
			if path := input.String(graph.FieldFilePath); path != "" && boolOr(c.Config, "include_sample", true) {
				sample, err := readSample(path)
				if err != nil {
					c.logger().Warn("file sample unavailable", "path", path, "error", err)
				}
				req.SampleContent = sample
			}
			return c.Service.AnalyzeStructure(ctx, req)
		},
	})
}

func readSample(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, sampleLimit))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type generateEditorConfig struct{ c *Context }

func newGenerateEditorConfig(c *Context) Executor { return generateEditorConfig{c} }

func (e generateEditorConfig) Execute(ctx context.Context) Result {
	c := e.c
	return run(ctx, c, step{
		requires: []string{graph.FieldAnalysis},
		upstream: graph.TypeAnalyzeStructure,
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			return c.Service.GenerateEditorConfig(ctx, compute.EditorConfigRequest{
				Structure:    input[graph.FieldAnalysis],
				EditorType:   strOr(c.Config, "editor_type", "form"),
				CustomFields: lines(c.Config, "custom_fields"),
			})
		},
	})
}

type generateWorkflow struct{ c *Context }

func newGenerateWorkflow(c *Context) Executor { return generateWorkflow{c} }

func (e generateWorkflow) Execute(ctx context.Context) Result {
	c := e.c
	return run(ctx, c, step{
		requires: []string{graph.FieldAnalysis},
		upstream: graph.TypeAnalyzeStructure,
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			return c.Service.GenerateWorkflow(ctx, compute.GenerateWorkflowRequest{
				Structure:    input[graph.FieldAnalysis],
				EditorConfig: input[graph.FieldEditorConfig],
				WorkflowType: strOr(c.Config, "workflow_type", "edit"),
				TargetFormat: str(c.Config, "target_format"),
				Description:  str(c.Config, "description"),
			})
		},
	})
}

type smartEdit struct{ c *Context }

func newSmartEdit(c *Context) Executor { return smartEdit{c} }

func (e smartEdit) Execute(ctx context.Context) Result {
	c := e.c
	return run(ctx, c, step{
		requires: []string{graph.FieldData},
		upstream: graph.TypeParseFile,
		validate: func() error {
			return requireConfig(c.Config, "instruction")
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req := compute.SmartEditRequest{
				Data:        input[graph.FieldData],
				Instruction: str(c.Config, "instruction"),
			}
			if boolOr(c.Config, "use_structure", true) {
				req.Structure = input[graph.FieldAnalysis]
			}
			if boolOr(c.Config, "use_editor_config", true) {
				req.EditorConfig = input[graph.FieldEditorConfig]
			}
			out, err := c.Service.SmartEdit(ctx, req)
			if err != nil {
				return nil, err
			}
			if r, ok := out[graph.FieldSmartEditResult].(map[string]any); ok {
				if edited, ok := r["edited_data"]; ok && edited != nil {
					out[graph.FieldData] = edited
				}
			}
			return out, nil
		},
	})
}
