package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/molbridge/molbridge/pkg/server"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startSessionSpan opens the span covering one session's lifetime.
func startSessionSpan(ctx context.Context, sessionID, remoteAddr string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "molbridge.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("molbridge.session_id", sessionID),
			attribute.String("net.peer.addr", remoteAddr),
		),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
