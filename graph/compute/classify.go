package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"

	"github.com/dshills/nodegraph-go/graph/model/google"
)

// ErrorKind is the classified category of a failed compute call.
type ErrorKind string

const (
	KindQuotaExhausted       ErrorKind = "quota_exhausted"
	KindModelUnavailable     ErrorKind = "model_unavailable"
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindRateLimited          ErrorKind = "rate_limited"
	KindGeneric              ErrorKind = "generic"
)

// Recoverable reports whether a failure of this kind can be retried against
// another provider.
func (k ErrorKind) Recoverable() bool {
	return k == KindQuotaExhausted || k == KindModelUnavailable
}

// Error is the structured form of every failure crossing the compute
// boundary.
type Error struct {
	Kind       ErrorKind
	Message    string
	Hint       string
	StatusCode int

	// Provider is the model the failing call targeted, when known.
	Provider string

	// Candidates optionally lists alternatives suggested by the backend.
	Candidates []string

	Cause error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

var hints = map[ErrorKind]string{
	KindQuotaExhausted:       "The account has no remaining quota. Check billing, or switch to another model.",
	KindModelUnavailable:     "The model does not exist or this key has no access to it. Choose another model.",
	KindAuthenticationFailed: "Check that the API key is correct and allowed for this organization and region.",
	KindRateLimited:          "Too many requests. Wait a moment and run the node again.",
}

// Backend error_type values and the kind each one maps to.
var errorTypes = map[string]ErrorKind{
	"insufficient_quota":    KindQuotaExhausted,
	"model_not_found":       KindModelUnavailable,
	"invalid_api_key":       KindAuthenticationFailed,
	"authentication_error":  KindAuthenticationFailed,
	"organization_required": KindAuthenticationFailed,
	"ip_not_authorized":     KindAuthenticationFailed,
	"region_not_supported":  KindAuthenticationFailed,
	"permission_denied":     KindAuthenticationFailed,
	"rate_limit":            KindRateLimited,
	"rate_limit_exceeded":   KindRateLimited,
	"slow_down":             KindRateLimited,
	"service_overloaded":    KindRateLimited,
	"resource_exhausted":    KindQuotaExhausted,
	"server_error":          KindGeneric,
}

// Classify converts any error returned by a Service into an *Error. It is
// the only place raw provider payloads and error text are inspected. A nil
// err yields nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		out := *ce
		if out.Hint == "" {
			out.Hint = hints[out.Kind]
		}
		return &out
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindGeneric, Message: "request timed out", Hint: "Increase the node timeout or try again.", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindGeneric, Message: "request canceled", Cause: err}
	}

	var oe *openai.Error
	if errors.As(err, &oe) {
		text := oe.Message
		if text == "" {
			text = err.Error()
		}
		return newError(classify(oe.Code, text, oe.StatusCode), text, oe.StatusCode, err)
	}

	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return newError(classify("", err.Error(), ae.StatusCode), err.Error(), ae.StatusCode, err)
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		text := ge.Message
		if text == "" {
			text = err.Error()
		}
		return newError(classify("", text, ge.Code), text, ge.Code, err)
	}

	var sf *google.SafetyFilterError
	if errors.As(err, &sf) {
		return &Error{Kind: KindGeneric, Message: sf.Error(), Hint: "The response was blocked by the provider's safety filter. Rephrase the input.", Cause: err}
	}

	return newError(classify("", err.Error(), 0), err.Error(), 0, err)
}

// FromResponse classifies a non-2xx backend response. The body is FastAPI's
// {"detail": ...}, where detail is free text or a JSON-encoded object
// carrying error_type, error_message, error_detail and suggestion.
func FromResponse(status int, body []byte) *Error {
	detail := decodeDetail(body)

	message := detail.ErrorMessage
	if detail.ErrorDetail != "" {
		if message != "" {
			message += ": "
		}
		message += detail.ErrorDetail
	}
	if message == "" {
		message = detail.Text
	}
	if message == "" {
		message = http.StatusText(status)
	}
	if detail.StatusCode != 0 {
		status = detail.StatusCode
	}

	e := newError(classify(detail.ErrorType, message, status), message, status, nil)
	if detail.Suggestion != "" {
		e.Hint = detail.Suggestion
	}
	e.Candidates = detail.Candidates
	return e
}

type responseDetail struct {
	ErrorType    string   `json:"error_type"`
	ErrorMessage string   `json:"error_message"`
	ErrorDetail  string   `json:"error_detail"`
	StatusCode   int      `json:"status_code"`
	Suggestion   string   `json:"suggestion"`
	Candidates   []string `json:"candidates"`

	Text string `json:"-"`
}

func decodeDetail(body []byte) responseDetail {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return responseDetail{Text: strings.TrimSpace(string(body))}
	}

	var d responseDetail
	if len(envelope.Detail) > 0 {
		var s string
		if json.Unmarshal(envelope.Detail, &s) == nil {
			if json.Unmarshal([]byte(s), &d) != nil || (d.ErrorType == "" && d.ErrorMessage == "") {
				d = responseDetail{}
				d.Text = s
			}
		} else if json.Unmarshal(envelope.Detail, &d) != nil {
			d.Text = string(envelope.Detail)
		}
	}
	if d.Text == "" && d.ErrorMessage == "" && d.ErrorDetail == "" {
		d.Text = envelope.Message
		if d.Text == "" {
			d.Text = envelope.Error
		}
	}
	return d
}

func newError(kind ErrorKind, message string, status int, cause error) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		Hint:       hints[kind],
		StatusCode: status,
		Cause:      cause,
	}
}

// classify maps an error type tag, message text and HTTP status to a kind.
// The type tag wins when known; status and text keywords follow. A bare 404
// is not a model error: data and file operations use it for missing paths.
func classify(errorType, text string, status int) ErrorKind {
	if k, ok := errorTypes[strings.ToLower(errorType)]; ok {
		return k
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "insufficient_quota"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "billing"),
		strings.Contains(lower, "credit balance"):
		return KindQuotaExhausted
	case strings.Contains(lower, "model_not_found"),
		strings.Contains(lower, "model") && (strings.Contains(lower, "does not exist") ||
			strings.Contains(lower, "not have access") ||
			strings.Contains(lower, "not found") ||
			strings.Contains(lower, "not_found")):
		return KindModelUnavailable
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		strings.Contains(lower, "invalid_api_key"),
		strings.Contains(lower, "incorrect api key"),
		strings.Contains(lower, "api key not valid"),
		strings.Contains(lower, "authentication"):
		return KindAuthenticationFailed
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "rate_limit"),
		strings.Contains(lower, "overloaded"):
		return KindRateLimited
	}
	return KindGeneric
}
