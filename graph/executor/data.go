package executor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
)

// Edit operations accepted by edit_data nodes.
var editOperations = []string{"create", "update", "delete", "add_item", "remove_item"}

// Export formats accepted by export_file nodes.
var exportFormats = []string{"json", "yaml", "csv", "xml"}

type parseFile struct{ c *Context }

func newParseFile(c *Context) Executor { return parseFile{c} }

func (e parseFile) Execute(ctx context.Context) Result {
	c := e.c
	return run(ctx, c, step{
		source: true,
		validate: func() error {
			return requireConfig(c.Config, "file_path")
		},
		op: func(ctx context.Context, _ graph.Bag) (graph.Bag, error) {
			path := str(c.Config, "file_path")
			out, err := c.Service.ParseFile(ctx, compute.ParseFileRequest{FilePath: path})
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = graph.Bag{}
			}
			if !out.Has(graph.FieldFileType) {
				out[graph.FieldFileType] = strOr(c.Config, "file_type", fileType(path))
			}
			return out, nil
		},
	})
}

func fileType(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

type editData struct{ c *Context }

func newEditData(c *Context) Executor { return editData{c} }

func (e editData) Execute(ctx context.Context) Result {
	c := e.c
	var req compute.EditDataRequest
	return run(ctx, c, step{
		requires: []string{graph.FieldData},
		upstream: graph.TypeParseFile,
		validate: func() error {
			if err := requireConfig(c.Config, "operation", "path"); err != nil {
				return err
			}
			req.Operation = str(c.Config, "operation")
			req.Path = str(c.Config, "path")
			if err := oneOf("operation", req.Operation, editOperations...); err != nil {
				return err
			}
			var err error
			if req.ItemData, err = object(c.Config, "item_data"); err != nil {
				return err
			}
			if req.FilterCondition, err = object(c.Config, "filter_condition"); err != nil {
				return err
			}
			return nil
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req.Data = input[graph.FieldData]
			return c.Service.EditData(ctx, req)
		},
	})
}

type filterData struct{ c *Context }

func newFilterData(c *Context) Executor { return filterData{c} }

func (e filterData) Execute(ctx context.Context) Result {
	c := e.c
	var req compute.FilterDataRequest
	return run(ctx, c, step{
		requires: []string{graph.FieldData},
		upstream: graph.TypeParseFile,
		validate: func() error {
			if err := requireConfig(c.Config, "filter_condition"); err != nil {
				return err
			}
			cond, err := object(c.Config, "filter_condition")
			if err != nil {
				return err
			}
			req.FilterCondition = cond
			req.Path = str(c.Config, "path")
			return nil
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req.Data = input[graph.FieldData]
			return c.Service.FilterData(ctx, req)
		},
	})
}

type validateData struct{ c *Context }

func newValidateData(c *Context) Executor { return validateData{c} }

func (e validateData) Execute(ctx context.Context) Result {
	c := e.c
	var req compute.ValidateDataRequest
	return run(ctx, c, step{
		requires: []string{graph.FieldData},
		upstream: graph.TypeParseFile,
		validate: func() error {
			schema, err := object(c.Config, "schema")
			if err != nil {
				return err
			}
			req.Schema = schema
			req.RequiredFields = lines(c.Config, "required_fields")
			return nil
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req.Data = input[graph.FieldData]
			return c.Service.ValidateData(ctx, req)
		},
	})
}

type exportFile struct{ c *Context }

func newExportFile(c *Context) Executor { return exportFile{c} }

func (e exportFile) Execute(ctx context.Context) Result {
	c := e.c
	var req compute.ExportFileRequest
	return run(ctx, c, step{
		requires: []string{graph.FieldData},
		upstream: graph.TypeParseFile,
		validate: func() error {
			req.OutputFormat = strings.ToLower(strOr(c.Config, "output_format", "xml"))
			req.PrettyPrint = boolOr(c.Config, "pretty_print", true)
			req.SortBy = str(c.Config, "sort_by")
			req.OutputPath = str(c.Config, "output_path")
			return oneOf("output_format", req.OutputFormat, exportFormats...)
		},
		op: func(ctx context.Context, input graph.Bag) (graph.Bag, error) {
			req.Data = input[graph.FieldData]
			return c.Service.ExportFile(ctx, req)
		},
	})
}
