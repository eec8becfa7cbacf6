package compute

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/nodegraph-go/graph"
)

func books() map[string]any {
	return map[string]any{
		"library": map[string]any{
			"book": []any{
				map[string]any{"@attributes": map[string]any{"id": "1"}, "title": "Go", "year": float64(2015)},
				map[string]any{"@attributes": map[string]any{"id": "2"}, "title": "Rust", "year": float64(2018)},
				map[string]any{"@attributes": map[string]any{"id": "3"}, "title": "Zig", "year": float64(2018)},
			},
		},
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not *Error", err)
	}
	return ce.StatusCode
}

func TestNestedValue(t *testing.T) {
	data := books()
	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"library.book.1.title", "Rust", true},
		{"library.book.0.@attributes.id", "1", true},
		{"library.book.9", nil, false},
		{"library.shelf", nil, false},
		{"library.book.x", nil, false},
	}
	for _, tt := range tests {
		got, ok := nestedValue(data, tt.path)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("nestedValue(%q) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEditData(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		in := books()
		out, err := editData(EditDataRequest{
			Data:      in,
			Operation: "add_item",
			Path:      "library.book",
			ItemData:  map[string]any{"title": "Odin"},
		})
		if err != nil {
			t.Fatalf("editData() error = %v", err)
		}
		list, _ := nestedValue(out[graph.FieldData], "library.book")
		if n := len(list.([]any)); n != 4 {
			t.Errorf("list length = %d, want 4", n)
		}
		orig, _ := nestedValue(in, "library.book")
		if n := len(orig.([]any)); n != 3 {
			t.Errorf("input mutated: length = %d", n)
		}
		summary := out[FieldEditSummary].(map[string]any)
		if summary["operation"] != "create" {
			t.Errorf("operation = %v", summary["operation"])
		}
	})

	t.Run("update by attribute", func(t *testing.T) {
		in := books()
		out, err := editData(EditDataRequest{
			Data:            in,
			Operation:       "update",
			Path:            "library.book",
			ItemData:        map[string]any{"title": "Go 2"},
			FilterCondition: map[string]any{"@id": float64(1)},
		})
		if err != nil {
			t.Fatalf("editData() error = %v", err)
		}
		if got, _ := nestedValue(out[graph.FieldData], "library.book.0.title"); got != "Go 2" {
			t.Errorf("title = %v", got)
		}
		if got, _ := nestedValue(in, "library.book.0.title"); got != "Go" {
			t.Errorf("input mutated: title = %v", got)
		}
		if c := out[FieldEditSummary].(map[string]any)["updated_count"]; c != 1 {
			t.Errorf("updated_count = %v", c)
		}
	})

	t.Run("delete", func(t *testing.T) {
		out, err := editData(EditDataRequest{
			Data:            books(),
			Operation:       "remove_item",
			Path:            "library.book",
			FilterCondition: map[string]any{"year": float64(2018)},
		})
		if err != nil {
			t.Fatalf("editData() error = %v", err)
		}
		list, _ := nestedValue(out[graph.FieldData], "library.book")
		if n := len(list.([]any)); n != 1 {
			t.Errorf("list length = %d, want 1", n)
		}
		if c := out[FieldEditSummary].(map[string]any)["deleted_count"]; c != 2 {
			t.Errorf("deleted_count = %v", c)
		}
	})

	errTests := []struct {
		name   string
		req    EditDataRequest
		status int
	}{
		{"missing path", EditDataRequest{Data: books(), Operation: "create", Path: "nope", ItemData: map[string]any{"a": 1}}, http.StatusNotFound},
		{"not a list", EditDataRequest{Data: books(), Operation: "create", Path: "library", ItemData: map[string]any{"a": 1}}, http.StatusBadRequest},
		{"unknown operation", EditDataRequest{Data: books(), Operation: "merge", Path: "library.book"}, http.StatusBadRequest},
		{"update without condition", EditDataRequest{Data: books(), Operation: "update", Path: "library.book", ItemData: map[string]any{"a": 1}}, http.StatusBadRequest},
		{"no match", EditDataRequest{Data: books(), Operation: "delete", Path: "library.book", FilterCondition: map[string]any{"title": "C"}}, http.StatusNotFound},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := editData(tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := statusOf(t, err); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestFilterData(t *testing.T) {
	out, err := filterData(FilterDataRequest{
		Data:            books(),
		Path:            "library.book",
		FilterCondition: map[string]any{"year": "2018"},
	})
	if err != nil {
		t.Fatalf("filterData() error = %v", err)
	}
	if out[FieldFilterCount] != 2 || out[FieldFilterTotal] != 3 {
		t.Errorf("count/total = %v/%v", out[FieldFilterCount], out[FieldFilterTotal])
	}

	list := []any{map[string]any{"a": 1}, "scalar", map[string]any{"a": 2}}
	out, err = filterData(FilterDataRequest{Data: list, FilterCondition: map[string]any{"a": 2}})
	if err != nil {
		t.Fatalf("filterData() error = %v", err)
	}
	if out[FieldFilterCount] != 1 {
		t.Errorf("count = %v, want 1", out[FieldFilterCount])
	}
}

func TestValidateData(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}

	tests := []struct {
		name     string
		req      ValidateDataRequest
		valid    bool
		contains string
	}{
		{
			name:  "passes",
			req:   ValidateDataRequest{Data: map[string]any{"name": "x", "meta": map[string]any{"id": 1}}, Schema: schema, RequiredFields: []string{"meta.id"}},
			valid: true,
		},
		{
			name:     "missing required",
			req:      ValidateDataRequest{Data: map[string]any{"name": "x"}, RequiredFields: []string{"meta.id"}},
			contains: "missing required field: meta.id",
		},
		{
			name:     "schema violation",
			req:      ValidateDataRequest{Data: map[string]any{"name": float64(3)}, Schema: schema},
			contains: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := validateData(tt.req)
			if err != nil {
				t.Fatalf("validateData() error = %v", err)
			}
			v := out[graph.FieldValidation].(map[string]any)
			if v["valid"] != tt.valid {
				t.Errorf("valid = %v, want %v (errors %v)", v["valid"], tt.valid, v["errors"])
			}
			if tt.contains != "" {
				errs := v["errors"].([]string)
				if len(errs) == 0 || !strings.Contains(strings.Join(errs, "\n"), tt.contains) {
					t.Errorf("errors = %v, want one containing %q", errs, tt.contains)
				}
			}
		})
	}
}

func TestParseLocal(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	t.Run("json", func(t *testing.T) {
		out, ok, err := parseLocal(write("a.json", `{"items":[{"n":1}]}`))
		if !ok || err != nil {
			t.Fatalf("parseLocal() = %v, %v", ok, err)
		}
		if out[graph.FieldFileType] != "json" {
			t.Errorf("file_type = %v", out[graph.FieldFileType])
		}
		schema := out[graph.FieldSchema].(map[string]any)
		if schema["type"] != "object" {
			t.Errorf("schema = %v", schema)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		out, _, err := parseLocal(write("a.yaml", "name: demo\ncount: 2\n"))
		if err != nil {
			t.Fatalf("parseLocal() error = %v", err)
		}
		want := map[string]any{"name": "demo", "count": float64(2)}
		if !reflect.DeepEqual(out[graph.FieldData], want) {
			t.Errorf("data = %#v", out[graph.FieldData])
		}
	})

	t.Run("csv semicolon", func(t *testing.T) {
		out, _, err := parseLocal(write("a.csv", "id;name\n1;x\n2;y\n"))
		if err != nil {
			t.Fatalf("parseLocal() error = %v", err)
		}
		data := out[graph.FieldData].(map[string]any)
		if data["delimiter"] != ";" || data["row_count"] != 2 {
			t.Errorf("data = %#v", data)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, ok, _ := parseLocal(write("a.xml", "<a/>")); ok {
			t.Error("xml should need the backend")
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, ok, err := parseLocal(filepath.Join(dir, "none.json"))
		if !ok || err == nil {
			t.Fatalf("parseLocal() = %v, %v", ok, err)
		}
		if got := statusOf(t, err); got != http.StatusNotFound {
			t.Errorf("status = %d", got)
		}
	})
}

func TestEncodeExport(t *testing.T) {
	tests := []struct {
		name string
		req  ExportFileRequest
		want string
	}{
		{
			name: "json",
			req:  ExportFileRequest{Data: map[string]any{"a": 1}, OutputFormat: "json"},
			want: `{"a":1}`,
		},
		{
			name: "json sorted",
			req:  ExportFileRequest{Data: []any{map[string]any{"n": "b"}, map[string]any{"n": "a"}}, OutputFormat: "json", SortBy: "n"},
			want: `[{"n":"a"},{"n":"b"}]`,
		},
		{
			name: "csv from rows",
			req:  ExportFileRequest{Data: []any{map[string]any{"b": "x", "a": float64(1)}}, OutputFormat: "csv"},
			want: "a,b\n1,x\n",
		},
		{
			name: "csv with headers",
			req: ExportFileRequest{
				Data:         map[string]any{"headers": []any{"b", "a"}, "rows": []any{map[string]any{"a": "1", "b": "2"}}},
				OutputFormat: "csv",
			},
			want: "b,a\n2,1\n",
		},
		{
			name: "xml sorted by attribute",
			req: ExportFileRequest{
				Data: map[string]any{"Item": []any{
					map[string]any{"@attributes": map[string]any{"id": "2"}, "#text": "b"},
					map[string]any{"@attributes": map[string]any{"id": "1"}, "#text": "a"},
				}},
				OutputFormat: "xml",
				SortBy:       "@attributes.id",
			},
			want: `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<root><Item id="1">a</Item><Item id="2">b</Item></root>`,
		},
		{
			name: "xml top-level list",
			req:  ExportFileRequest{Data: []any{"x", "y"}, OutputFormat: "xml"},
			want: `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + `<root><item>x</item><item>y</item></root>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeExport(tt.req)
			if err != nil {
				t.Fatalf("encodeExport() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q\nwant %q", got, tt.want)
			}
		})
	}

	if _, err := encodeExport(ExportFileRequest{Data: 1, OutputFormat: "pdf"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}
