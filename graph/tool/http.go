package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/nodegraph-go/graph/model"
)

// HTTPTool makes HTTP requests.
//
// Input:
//   - url: target URL (required)
//   - method: GET, POST, PUT, PATCH or DELETE (default GET)
//   - headers: map or JSON object string
//   - body: string sent as is; any other value is sent as JSON
//
// Output: status_code, headers, body (string) and, when the body parses as
// JSON, json.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTP tool. Request timeouts come from ctx.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{}}
}

// NewHTTPToolWithTimeout creates an HTTP tool with a client-level timeout.
func NewHTTPToolWithTimeout(d time.Duration) *HTTPTool {
	return &HTTPTool{client: &http.Client{Timeout: d}}
}

// Name returns the tool identifier.
func (h *HTTPTool) Name() string {
	return TypeHTTPRequest
}

// Spec describes the tool to an LLM.
func (h *HTTPTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        TypeHTTPRequest,
		Description: "Send an HTTP request and return the status code, headers and body.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url":     map[string]interface{}{"type": "string", "description": "Target URL"},
				"method":  map[string]interface{}{"type": "string", "description": "HTTP method"},
				"headers": map[string]interface{}{"type": "object", "description": "Request headers"},
				"body":    map[string]interface{}{"type": "string", "description": "Request body"},
			},
			"required": []interface{}{"url"},
		},
	}
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Call executes an HTTP request with the provided parameters.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	body, isJSON, err := encodeBody(input["body"])
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	headers, err := decodeObject(input["headers"])
	if err != nil {
		return nil, fmt.Errorf("invalid headers: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, fmt.Sprint(value))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	result := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}
	var parsed interface{}
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		result["json"] = parsed
	}
	return result, nil
}

func encodeBody(v interface{}) (io.Reader, bool, error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		if b == "" {
			return nil, false, nil
		}
		return strings.NewReader(b), false, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(data), true, nil
	}
}
