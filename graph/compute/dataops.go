package compute

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.yaml.in/yaml/v2"

	"github.com/dshills/nodegraph-go/graph"
)

// errLocal builds a classified error for an in-process operation, carrying
// the HTTP status the backend would have answered with.
func errLocal(status int, format string, args ...any) *Error {
	return &Error{Kind: KindGeneric, Message: fmt.Sprintf(format, args...), StatusCode: status}
}

// nestedValue follows a dot-separated path. A segment that is an integer
// indexes into a list.
func nestedValue(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case graph.Bag:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			current = v[i]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

// setNestedValue replaces the value at path, creating intermediate objects
// as needed. It reports false when a segment crosses a non-container.
func setNestedValue(data any, path string, value any) bool {
	keys := strings.Split(path, ".")
	current := data
	for i, key := range keys {
		last := i == len(keys)-1
		switch v := current.(type) {
		case map[string]any:
			if last {
				v[key] = value
				return true
			}
			next, ok := v[key]
			if !ok || next == nil {
				next = map[string]any{}
				v[key] = next
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return false
			}
			if last {
				v[idx] = value
				return true
			}
			current = v[idx]
		default:
			return false
		}
	}
	return false
}

// matchFilter reports whether every condition holds for item. A key
// written "@name" compares the item's "@attributes"."name" entry.
func matchFilter(item map[string]any, cond map[string]any) bool {
	for key, want := range cond {
		var got any
		var ok bool
		if strings.HasPrefix(key, "@") {
			attrs, isMap := item["@attributes"].(map[string]any)
			if !isMap {
				return false
			}
			got, ok = attrs[strings.TrimPrefix(key, "@")]
		} else {
			got, ok = item[key]
		}
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares decoded JSON values. XML attributes are always
// strings, so a number in a condition also matches its string form.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	switch a.(type) {
	case string, float64, int, bool:
	default:
		return false
	}
	switch b.(type) {
	case string, float64, int, bool:
	default:
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func targetList(data any, path string) ([]any, error) {
	v, ok := nestedValue(data, path)
	if !ok {
		return nil, errLocal(http.StatusNotFound, "path %q not found", path)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errLocal(http.StatusBadRequest, "path %q does not point to a list", path)
	}
	return list, nil
}

// editData applies create, update or delete to the list at req.Path. The
// input data is not modified.
func editData(req EditDataRequest) (graph.Bag, error) {
	data := cloneAny(req.Data)
	list, err := targetList(data, req.Path)
	if err != nil {
		return nil, err
	}

	summary := map[string]any{"operation": normalizeEditOperation(req.Operation)}
	switch normalizeEditOperation(req.Operation) {
	case "create":
		if len(req.ItemData) == 0 {
			return nil, errLocal(http.StatusBadRequest, "create requires item_data")
		}
		list = append(list, cloneAny(req.ItemData))
		summary["message"] = fmt.Sprintf("created a new item, the list now has %d items", len(list))

	case "update":
		if len(req.ItemData) == 0 {
			return nil, errLocal(http.StatusBadRequest, "update requires item_data")
		}
		if len(req.FilterCondition) == 0 {
			return nil, errLocal(http.StatusBadRequest, "update requires filter_condition")
		}
		updated := 0
		for _, it := range list {
			m, ok := it.(map[string]any)
			if !ok || !matchFilter(m, req.FilterCondition) {
				continue
			}
			for k, v := range req.ItemData {
				m[k] = cloneAny(v)
			}
			updated++
		}
		if updated == 0 {
			return nil, errLocal(http.StatusNotFound, "no item matches the filter condition")
		}
		summary["updated_count"] = updated
		summary["message"] = fmt.Sprintf("updated %d items", updated)

	case "delete":
		if len(req.FilterCondition) == 0 {
			return nil, errLocal(http.StatusBadRequest, "delete requires filter_condition")
		}
		kept := make([]any, 0, len(list))
		for _, it := range list {
			if m, ok := it.(map[string]any); ok && matchFilter(m, req.FilterCondition) {
				continue
			}
			kept = append(kept, it)
		}
		deleted := len(list) - len(kept)
		if deleted == 0 {
			return nil, errLocal(http.StatusNotFound, "no item matches the filter condition")
		}
		list = kept
		summary["deleted_count"] = deleted
		summary["message"] = fmt.Sprintf("deleted %d items", deleted)

	default:
		return nil, errLocal(http.StatusBadRequest, "unsupported edit operation %q", req.Operation)
	}

	if req.Path == "" {
		data = list
	} else if !setNestedValue(data, req.Path, list) {
		return nil, errLocal(http.StatusBadRequest, "path %q cannot be written", req.Path)
	}
	return graph.Bag{graph.FieldData: data, FieldEditSummary: summary}, nil
}

// filterData keeps the object items of the list at req.Path that match the
// condition. Without a path the data itself must be a list.
func filterData(req FilterDataRequest) (graph.Bag, error) {
	list, err := targetList(req.Data, req.Path)
	if err != nil {
		return nil, err
	}
	filtered := make([]any, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok && matchFilter(m, req.FilterCondition) {
			filtered = append(filtered, cloneAny(m))
		}
	}
	return graph.Bag{
		graph.FieldData:  filtered,
		FieldFilterCount: len(filtered),
		FieldFilterTotal: len(list),
	}, nil
}

// validateData checks required fields by nested path and, when a schema is
// given, validates the data against it as JSON Schema.
func validateData(req ValidateDataRequest) (graph.Bag, error) {
	errs := []string{}
	warnings := []string{}

	for _, field := range req.RequiredFields {
		if _, ok := nestedValue(req.Data, field); !ok {
			errs = append(errs, "missing required field: "+field)
		}
	}

	if len(req.Schema) > 0 {
		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(req.Schema), gojsonschema.NewGoLoader(req.Data))
		if err != nil {
			warnings = append(warnings, "schema could not be applied: "+err.Error())
		} else if !result.Valid() {
			for _, desc := range result.Errors() {
				errs = append(errs, desc.String())
			}
		}
	}

	valid := len(errs) == 0
	message := "validation passed"
	if !valid {
		message = fmt.Sprintf("validation failed: %d errors", len(errs))
	}
	return graph.Bag{graph.FieldValidation: map[string]any{
		"valid":    valid,
		"errors":   errs,
		"warnings": warnings,
		"message":  message,
	}}, nil
}

// Formats parseLocal reads without the backend.
var localParseFormats = map[string]string{
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".csv":  "csv",
	".tsv":  "csv",
}

// FileType infers a file_type tag from a path's extension.
func FileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := localParseFormats[ext]; ok {
		return f
	}
	switch ext {
	case ".xml":
		return "xml"
	case ".xlsx", ".xls":
		return "excel"
	}
	return strings.TrimPrefix(ext, ".")
}

// parseLocal reads JSON, YAML and CSV files. ok is false for formats that
// need the backend.
func parseLocal(path string) (graph.Bag, bool, error) {
	format, ok := localParseFormats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, true, errLocal(http.StatusNotFound, "file not found: %s", path)
		}
		return nil, true, errLocal(http.StatusInternalServerError, "failed to read %s: %v", path, err)
	}

	var data any
	switch format {
	case "json":
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, true, errLocal(http.StatusBadRequest, "invalid JSON in %s: %v", path, err)
		}
	case "yaml":
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, true, errLocal(http.StatusBadRequest, "invalid YAML in %s: %v", path, err)
		}
		data = graph.NormalizeYAML(v)
	case "csv":
		data, err = parseCSV(raw)
		if err != nil {
			return nil, true, errLocal(http.StatusBadRequest, "invalid CSV in %s: %v", path, err)
		}
	}

	return graph.Bag{
		graph.FieldData:     data,
		graph.FieldSchema:   inferSchema(data),
		graph.FieldFilePath: path,
		graph.FieldFileType: format,
	}, true, nil
}

func parseCSV(raw []byte) (map[string]any, error) {
	delimiter := detectDelimiter(raw)
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	headers := []any{}
	rows := []any{}
	if len(records) > 0 {
		for _, h := range records[0] {
			headers = append(headers, h)
		}
		for _, rec := range records[1:] {
			row := make(map[string]any, len(records[0]))
			for i, h := range records[0] {
				if i < len(rec) {
					row[h] = rec[i]
				} else {
					row[h] = ""
				}
			}
			rows = append(rows, row)
		}
	}
	return map[string]any{
		"format":    "csv",
		"delimiter": string(delimiter),
		"headers":   headers,
		"rows":      rows,
		"row_count": len(rows),
	}, nil
}

func detectDelimiter(raw []byte) rune {
	first := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		first = raw[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(first, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// inferSchema derives a JSON Schema from a sample value.
func inferSchema(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		props := make(map[string]any, len(t))
		for k, val := range t {
			props[k] = inferSchema(val)
		}
		return map[string]any{"type": "object", "properties": props}
	case []any:
		if len(t) == 0 {
			return map[string]any{"type": "array"}
		}
		return map[string]any{"type": "array", "items": inferSchema(t[0])}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64:
		if t == float64(int64(t)) {
			return map[string]any{"type": "integer"}
		}
		return map[string]any{"type": "number"}
	case string:
		return map[string]any{"type": "string"}
	}
	return map[string]any{"type": "null"}
}

// encodeExport renders data in the requested format.
func encodeExport(req ExportFileRequest) ([]byte, error) {
	data := cloneAny(req.Data)
	if req.SortBy != "" && req.OutputFormat != "xml" {
		sortItems(data, req.SortBy)
	}

	switch req.OutputFormat {
	case "json":
		if req.PrettyPrint {
			return json.MarshalIndent(data, "", "  ")
		}
		return json.Marshal(data)
	case "yaml", "yml":
		return yaml.Marshal(data)
	case "csv":
		return encodeCSV(data)
	case "xml":
		return encodeXML(data, req.PrettyPrint, req.SortBy)
	}
	return nil, errLocal(http.StatusBadRequest, "unsupported export format %q", req.OutputFormat)
}

// sortItems sorts the top-level list of data (or the first list found in a
// top-level object) by the value at key.
func sortItems(data any, key string) {
	var list []any
	switch v := data.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range sortedKeys(v) {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, _ := nestedValue(list[i], key)
		b, _ := nestedValue(list[j], key)
		return fmt.Sprint(a) < fmt.Sprint(b)
	})
}

func encodeCSV(data any) ([]byte, error) {
	var rows []any
	var headers []string
	switch v := data.(type) {
	case []any:
		rows = v
	case map[string]any:
		rows, _ = v["rows"].([]any)
		if hs, ok := v["headers"].([]any); ok {
			for _, h := range hs {
				headers = append(headers, fmt.Sprint(h))
			}
		}
	}
	if rows == nil {
		return nil, errLocal(http.StatusBadRequest, "csv export needs a list of rows")
	}
	if headers == nil {
		seen := map[string]bool{}
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				for k := range m {
					if !seen[k] {
						seen[k] = true
						headers = append(headers, k)
					}
				}
			}
		}
		sort.Strings(headers)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, r := range rows {
		m, _ := r.(map[string]any)
		rec := make([]string, len(headers))
		for i, h := range headers {
			if v, ok := m[h]; ok && v != nil {
				rec[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// encodeXML writes data under a <root> element. Objects map to child
// elements, "@attributes" to attributes, "#text" to character data and
// lists to repeated elements.
func encodeXML(data any, pretty bool, sortBy string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if pretty {
		enc.Indent("", "\t")
	}
	if err := writeXMLElement(enc, "root", data, sortBy); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type xmlChild struct {
	name  string
	value any
}

func writeXMLElement(enc *xml.Encoder, name string, v any, sortBy string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	var text string
	var children []xmlChild

	switch t := v.(type) {
	case map[string]any:
		if attrs, ok := t["@attributes"].(map[string]any); ok {
			for _, k := range sortedKeys(attrs) {
				start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: k}, Value: fmt.Sprint(attrs[k])})
			}
		}
		if s, ok := t["#text"]; ok && s != nil {
			text = fmt.Sprint(s)
		}
		for _, k := range sortedKeys(t) {
			if k == "@attributes" || k == "#text" {
				continue
			}
			if list, ok := t[k].([]any); ok {
				for _, it := range list {
					children = append(children, xmlChild{k, it})
				}
				continue
			}
			children = append(children, xmlChild{k, t[k]})
		}
	case []any:
		for _, it := range t {
			children = append(children, xmlChild{"item", it})
		}
	case nil:
	default:
		text = fmt.Sprint(t)
	}

	if sortBy != "" {
		sortXMLChildren(children, sortBy)
	}

	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := writeXMLElement(enc, c.name, c.value, ""); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// sortXMLChildren orders by an attribute for "@attributes.name", otherwise
// by element name.
func sortXMLChildren(children []xmlChild, sortBy string) {
	attr, byAttr := strings.CutPrefix(sortBy, "@attributes.")
	sort.SliceStable(children, func(i, j int) bool {
		if !byAttr {
			return children[i].name < children[j].name
		}
		return xmlAttr(children[i].value, attr) < xmlAttr(children[j].value, attr)
	})
}

func xmlAttr(v any, name string) string {
	m, _ := v.(map[string]any)
	attrs, _ := m["@attributes"].(map[string]any)
	if a, ok := attrs[name]; ok {
		return fmt.Sprint(a)
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(graph.Bag(t).Clone())
	case graph.Bag:
		return map[string]any(t.Clone())
	case []any:
		wrapped := graph.Bag{"v": t}.Clone()
		return wrapped["v"]
	}
	return v
}
