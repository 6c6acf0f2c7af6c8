package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "greenlight"

// Metrics holds all Greenlight metric instruments.
type Metrics struct {
	ActionsRouted      metric.Int64Counter
	DecisionsRecorded  metric.Int64Counter
	EventsPublished    metric.Int64Counter
	EventsDeadLettered metric.Int64Counter
	ApprovalsExpired   metric.Int64Counter
	DispatchDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ActionsRouted, err = meter.Int64Counter("greenlight.actions.routed",
		metric.WithDescription("Candidate actions routed into an approval tier"))
	if err != nil {
		return nil, err
	}

	m.DecisionsRecorded, err = meter.Int64Counter("greenlight.decisions.recorded",
		metric.WithDescription("Terminal approval decisions recorded"))
	if err != nil {
		return nil, err
	}

	m.EventsPublished, err = meter.Int64Counter("greenlight.events.published",
		metric.WithDescription("Events published to the bus by the outbox relay"))
	if err != nil {
		return nil, err
	}

	m.EventsDeadLettered, err = meter.Int64Counter("greenlight.events.dead_lettered",
		metric.WithDescription("Events moved to the dead-letter queue"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsExpired, err = meter.Int64Counter("greenlight.approvals.expired",
		metric.WithDescription("Pending approvals expired by the sweeper"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("greenlight.dispatch.duration_seconds",
		metric.WithDescription("Time to route one proposed action"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
