package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into a short OpenTelemetry span.
//
// Standard attributes: nodegraph.session_id, nodegraph.node_id and
// nodegraph.node_type. Meta entries are added as attributes; well-known keys
// are mapped into the nodegraph.* namespace. An "error" meta entry marks the
// span as failed.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter backed by tracer. A nil tracer uses the
// global provider.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	if tracer == nil {
		tracer = otel.Tracer("github.com/dshills/nodegraph-go")
	}
	return &OTelEmitter{tracer: tracer}
}

// Emit records event as a span.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("nodegraph.session_id", event.SessionID),
		attribute.String("nodegraph.node_id", event.NodeID),
	)
	if event.NodeType != "" {
		span.SetAttributes(attribute.String("nodegraph.node_type", event.NodeType))
	}

	o.addMetadataAttributes(span, event.Meta)

	if msg, ok := event.Error(); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// Flush forces the global tracer provider to export pending spans, when it
// supports flushing.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := key
		switch key {
		case "duration_ms":
			attrKey = "nodegraph.node.duration_ms"
		case "provider":
			attrKey = "nodegraph.llm.provider"
		case "error_kind":
			attrKey = "nodegraph.error.kind"
		case "tokens":
			attrKey = "nodegraph.llm.tokens"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case []string:
			span.SetAttributes(attribute.StringSlice(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
