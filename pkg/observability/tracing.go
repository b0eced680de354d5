package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "iris"

const (
	AttrMeetingID = "meeting_id"
	AttrStage     = "stage"
	AttrProvider  = "provider"
)

const (
	SpanPipeline   = "iris.pipeline"
	SpanDetect     = "iris.stage.detect_language"
	SpanTranscribe = "iris.stage.transcribe"
	SpanAnalyze    = "iris.stage.analyze"
	SpanChat       = "iris.chat"
)

type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

func (t *Tracer) Start(ctx context.Context, name, meetingID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String(AttrMeetingID, meetingID),
		),
	)
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
