package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/nodegraph-go/graph"
)

// Client is a Service backed by the backend REST API under /api/v1.
type Client struct {
	baseURL   string
	http      *http.Client
	retry     RetryPolicy
	logger    *slog.Logger
	exportDir string
	now       func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy sets the retry policy for transient backend failures.
func WithRetryPolicy(rp RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = rp }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithExportDir sets where exported files are written when the node names no
// output path. Default is the working directory.
func WithExportDir(dir string) ClientOption {
	return func(c *Client) { c.exportDir = dir }
}

// NewClient creates a client for the backend at baseURL, e.g.
// "http://localhost:8000". The /api/v1 prefix is appended when missing.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/api/v1") {
		base += "/api/v1"
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 5 * time.Minute},
		retry:   DefaultRetryPolicy(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Validate() != nil {
		c.retry = DefaultRetryPolicy()
	}
	return c
}

// ParseFile calls POST /files/parse.
func (c *Client) ParseFile(ctx context.Context, req ParseFileRequest) (graph.Bag, error) {
	q := url.Values{"file_path": {req.FilePath}}
	out, err := c.postJSON(ctx, "/files/parse", q, nil)
	if err != nil {
		return nil, err
	}
	return graph.Bag{
		graph.FieldData:     out["data"],
		graph.FieldSchema:   out["schema"],
		graph.FieldFilePath: firstNonEmpty(stringOf(out["file_path"]), req.FilePath),
	}, nil
}

// ExportFile calls POST /files/export and writes the returned file locally.
func (c *Client) ExportFile(ctx context.Context, req ExportFileRequest) (graph.Bag, error) {
	q := url.Values{"output_format": {req.OutputFormat}}
	if name := req.Filename(); name != "" {
		q.Set("filename", name)
	}
	q.Set("pretty_print", strconv.FormatBool(req.PrettyPrint))
	if req.SortBy != "" {
		q.Set("sort_by", req.SortBy)
	}

	content, err := c.do(ctx, "/files/export", q, req.Data)
	if err != nil {
		return nil, err
	}

	path := c.exportPath(req)
	if err := writeExport(path, content); err != nil {
		return nil, err
	}
	return exportResult(req, path), nil
}

// EditData calls POST /data/edit.
func (c *Client) EditData(ctx context.Context, req EditDataRequest) (graph.Bag, error) {
	req.Operation = normalizeEditOperation(req.Operation)
	out, err := c.postJSON(ctx, "/data/edit", nil, req)
	if err != nil {
		return nil, err
	}
	data := out["data"]
	delete(out, "data")
	delete(out, "success")
	return graph.Bag{graph.FieldData: data, FieldEditSummary: map[string]any(out)}, nil
}

// FilterData calls POST /data/filter.
func (c *Client) FilterData(ctx context.Context, req FilterDataRequest) (graph.Bag, error) {
	out, err := c.postJSON(ctx, "/data/filter", nil, req)
	if err != nil {
		return nil, err
	}
	return graph.Bag{
		graph.FieldData:  out["filtered_data"],
		FieldFilterCount: out["count"],
		FieldFilterTotal: out["total"],
	}, nil
}

// ValidateData calls POST /data/validate.
func (c *Client) ValidateData(ctx context.Context, req ValidateDataRequest) (graph.Bag, error) {
	out, err := c.postJSON(ctx, "/data/validate", nil, req)
	if err != nil {
		return nil, err
	}
	delete(out, "success")
	return graph.Bag{graph.FieldValidation: map[string]any(out)}, nil
}

// AnalyzeStructure calls POST /ai-workflow/analyze-xml-structure.
func (c *Client) AnalyzeStructure(ctx context.Context, req AnalyzeRequest) (graph.Bag, error) {
	out, err := c.postEnvelope(ctx, "/ai-workflow/analyze-xml-structure", req)
	if err != nil {
		return nil, err
	}
	return graph.Bag{graph.FieldAnalysis: unwrapField(out, "analysis")}, nil
}

// GenerateEditorConfig calls POST /ai-workflow/generate-editor-config.
func (c *Client) GenerateEditorConfig(ctx context.Context, req EditorConfigRequest) (graph.Bag, error) {
	out, err := c.postEnvelope(ctx, "/ai-workflow/generate-editor-config", req)
	if err != nil {
		return nil, err
	}
	return graph.Bag{graph.FieldEditorConfig: unwrapField(out, "editor_config")}, nil
}

// SmartEdit calls POST /ai-workflow/smart-edit.
func (c *Client) SmartEdit(ctx context.Context, req SmartEditRequest) (graph.Bag, error) {
	out, err := c.postEnvelope(ctx, "/ai-workflow/smart-edit", req)
	if err != nil {
		return nil, err
	}
	return graph.Bag{graph.FieldSmartEditResult: unwrapField(out, "result")}, nil
}

// GenerateWorkflow calls POST /ai-workflow/generate-workflow.
func (c *Client) GenerateWorkflow(ctx context.Context, req GenerateWorkflowRequest) (graph.Bag, error) {
	out, err := c.postEnvelope(ctx, "/ai-workflow/generate-workflow", req)
	if err != nil {
		return nil, err
	}
	return graph.Bag{graph.FieldGeneratedWorkflow: unwrapField(out, "workflow")}, nil
}

// Chat calls POST /chat-model/chat with the provider's request template.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (graph.Bag, error) {
	wire, err := chatWire(req.Provider, req.Prompt)
	if err != nil {
		return nil, err
	}
	out, err := c.postJSON(ctx, "/chat-model/chat", nil, wire)
	if err != nil {
		return nil, withProvider(err, req.Provider.Model)
	}
	return graph.Bag{graph.FieldChatModelResponse: chatResponse(req, out)}, nil
}

// RunAgent calls the agent endpoint matching req.Type.
func (c *Client) RunAgent(ctx context.Context, req AgentRequest) (graph.Bag, error) {
	var (
		path string
		body any
		err  error
	)
	switch req.Type {
	case graph.TypeGPTAgent:
		path, body = "/gpt-agent/execute", vendorAgentWire(req)
	case graph.TypeGeminiAgent:
		path, body = "/gemini-agent/execute", vendorAgentWire(req)
	default:
		path = "/ai-workflow/execute-ai-agent"
		body, err = aiAgentWire(req)
		if err != nil {
			return nil, err
		}
	}

	out, err := c.postEnvelope(ctx, path, body)
	if err != nil {
		return nil, withProvider(err, req.Provider.Model)
	}
	return agentResult(req, out), nil
}

// Memory calls POST /memory/{operation}.
func (c *Client) Memory(ctx context.Context, req MemoryRequest) (graph.Bag, error) {
	switch req.Operation {
	case MemoryStore, MemoryRetrieve, MemorySearch, MemoryDelete:
	default:
		return nil, fmt.Errorf("unsupported memory operation %q", req.Operation)
	}
	out, err := c.postEnvelope(ctx, "/memory/"+req.Operation, req)
	if err != nil {
		return nil, err
	}
	out["operation"] = req.Operation
	return graph.Bag{graph.FieldMemoryResult: map[string]any(out)}, nil
}

// ClearExpiredMemories calls POST /memory/clear-expired.
func (c *Client) ClearExpiredMemories(ctx context.Context) (int, error) {
	out, err := c.postEnvelope(ctx, "/memory/clear-expired", nil)
	if err != nil {
		return 0, err
	}
	n, _ := out["deleted_count"].(float64)
	return int(n), nil
}

// postEnvelope posts and unwraps the {"success", "message", "data"} envelope.
func (c *Client) postEnvelope(ctx context.Context, path string, body any) (graph.Bag, error) {
	out, err := c.postJSON(ctx, path, nil, body)
	if err != nil {
		return nil, err
	}
	if ok, present := out["success"].(bool); present && !ok {
		msg := stringOf(out["message"])
		if msg == "" {
			msg = stringOf(out["error"])
		}
		return nil, Classify(fmt.Errorf("%s", firstNonEmpty(msg, "backend reported failure")))
	}
	if data, ok := out["data"].(map[string]any); ok {
		return graph.Bag(data), nil
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, body any) (graph.Bag, error) {
	raw, err := c.do(ctx, path, query, body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: KindGeneric, Message: fmt.Sprintf("invalid response from %s: %v", path, err), Cause: err}
	}
	if out == nil {
		out = map[string]any{}
	}
	return graph.Bag(out), nil
}

// do sends the request, retrying transient failures per the retry policy.
// Every returned error is an *Error.
func (c *Client) do(ctx context.Context, path string, query url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindGeneric, Message: fmt.Sprintf("failed to encode request: %v", err), Cause: err}
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var last *Error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, c.retry.BaseDelay, c.retry.MaxDelay, nil)
			c.logger.Info("retrying backend request", "path", path, "attempt", attempt+1, "delay", delay, "error", last.Message)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, Classify(err)
			}
		}

		raw, err := c.send(ctx, endpoint, payload)
		if err == nil {
			return raw, nil
		}
		last = err
		if !c.retry.retryable(err) {
			break
		}
	}
	c.logger.Warn("backend request failed", "path", path, "kind", last.Kind, "status", last.StatusCode, "error", last.Message)
	return nil, last
}

func (c *Client) send(ctx context.Context, endpoint string, payload []byte) ([]byte, *Error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, Classify(err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Classify(ctx.Err())
		}
		return nil, Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, FromResponse(resp.StatusCode, raw)
	}
	return raw, nil
}

func (c *Client) exportPath(req ExportFileRequest) string {
	if req.OutputPath != "" {
		if filepath.Ext(req.OutputPath) == "" {
			return req.OutputPath + "." + req.OutputFormat
		}
		return req.OutputPath
	}
	name := fmt.Sprintf("export_%s.%s", c.now().Format("20060102_150405"), req.OutputFormat)
	return filepath.Join(c.exportDir, name)
}

func writeExport(path string, content []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func exportResult(req ExportFileRequest, path string) graph.Bag {
	return graph.Bag{
		graph.FieldData:     req.Data,
		graph.FieldFilePath: firstNonEmpty(req.OutputPath, path),
		FieldOutputFormat:   req.OutputFormat,
		FieldExported:       true,
		FieldExportPath:     path,
	}
}

func withProvider(err error, provider string) error {
	ce := Classify(err)
	if ce.Provider == "" {
		ce.Provider = provider
	}
	return ce
}

// unwrapField returns out[key] when present, otherwise out itself.
func unwrapField(out graph.Bag, key string) any {
	if v, ok := out[key]; ok {
		return v
	}
	return map[string]any(out)
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
