package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/nodegraph-go/graph"
)

var (
	// ErrMissingConfig reports required configuration fields that are unset.
	ErrMissingConfig = errors.New("missing required configuration")

	// ErrInvalidConfig reports a configuration value that cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoInput reports that no upstream result is available.
	ErrNoInput = errors.New("no input")

	// ErrMissingPort reports an unconnected mandatory capability port.
	ErrMissingPort = errors.New("missing capability port")

	// ErrPortType reports a capability port wired to a node of the wrong
	// type.
	ErrPortType = errors.New("capability port wired to wrong node type")

	// ErrNodeBusy is returned by Runner.Run while the node is already
	// executing.
	ErrNodeBusy = errors.New("node is already executing")
)

// ValidationError is a local failure detected before any external call.
// It always requires user action before the node is run again.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return e.Err }

func missingConfig(keys ...string) error {
	return &ValidationError{
		Msg: fmt.Sprintf("%s: %s", ErrMissingConfig, strings.Join(keys, ", ")),
		Err: ErrMissingConfig,
	}
}

func invalidConfig(key string, err error) error {
	return &ValidationError{
		Msg: fmt.Sprintf("invalid %s: %v", key, err),
		Err: ErrInvalidConfig,
	}
}

func noInput(upstream graph.NodeType) error {
	msg := "no input: connect and run an upstream node first"
	if upstream != "" {
		msg = fmt.Sprintf("no input: connect and run an upstream %s node first", upstream)
	}
	return &ValidationError{Msg: msg, Err: ErrNoInput}
}

func missingField(field string, upstream graph.NodeType) error {
	msg := fmt.Sprintf("no input: upstream result has no %q field", field)
	if upstream != "" {
		msg = fmt.Sprintf("no input: upstream result has no %q field, run an upstream %s node first", field, upstream)
	}
	return &ValidationError{Msg: msg, Err: ErrNoInput}
}

func missingPort(port string, accepted []graph.NodeType) error {
	return &ValidationError{
		Msg: fmt.Sprintf("%s %q: connect a %s node", ErrMissingPort, port, orList(accepted)),
		Err: ErrMissingPort,
	}
}

func wrongPortType(port string, got graph.NodeType, accepted []graph.NodeType) error {
	return &ValidationError{
		Msg: fmt.Sprintf("capability port %q is wired to a %s node: connect a %s node", port, got, orList(accepted)),
		Err: ErrPortType,
	}
}

func panicError(p any) error {
	return fmt.Errorf("executor panic: %v", p)
}

// orList renders "a, b or c".
func orList(types []graph.NodeType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}
