package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "greenlight"

// StartDispatchSpan starts a span for routing one proposed action.
func StartDispatchSpan(ctx context.Context, eventID, tenantID, correlationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("tenant.id", tenantID),
			attribute.String("correlation.id", correlationID),
		),
	)
}

// StartDecisionSpan starts a span for recording an approval decision.
func StartDecisionSpan(ctx context.Context, approvalID, outcome string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision",
		trace.WithAttributes(
			attribute.String("approval.id", approvalID),
			attribute.String("decision.outcome", outcome),
		),
	)
}

// StartRelaySpan starts a span for one outbox relay batch.
func StartRelaySpan(ctx context.Context, batch int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "relay",
		trace.WithAttributes(attribute.Int("relay.batch", batch)),
	)
}
