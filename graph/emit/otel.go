package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by recording each event as an
// OpenTelemetry span.
//
// Each event becomes an instant span named after the event type with the
// workflow id, sequence number, node id and all Meta fields attached as
// attributes. node_failed events set error status on the span.
//
// Setup:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("pathweaver"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter recording spans on the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span. Events represent
// points in time; node durations arrive in Meta["duration_ms"].
func (o *OTelEmitter) Emit(event Event) {
	if o.tracer == nil {
		return
	}

	_, span := o.tracer.Start(context.Background(), string(event.Type))
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow.id", event.WorkflowID),
		attribute.Int("workflow.seq", event.Seq),
		attribute.String("workflow.node", event.NodeID),
	)
	if event.Msg != "" {
		span.SetAttributes(attribute.String("workflow.msg", event.Msg))
	}

	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute("workflow.meta."+key, value))
	}

	if event.Type == NodeFailed {
		msg, _ := event.Meta["error"].(string)
		span.SetStatus(codes.Error, msg)
	}
}

// metaAttribute converts an arbitrary meta value to a span attribute.
func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
