package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the genie instruments.
type Metrics struct {
	ChatDuration        metric.Float64Histogram
	ChatFailures        metric.Int64Counter
	ModelCallDuration   metric.Float64Histogram
	OrchestratorSteps   metric.Int64Counter
	StepCeilingHits     metric.Int64Counter
	CapabilityCalls     metric.Int64Counter
	CapabilityErrors    metric.Int64Counter
	FanoutDelivered     metric.Int64Counter
	FanoutDropped       metric.Int64Counter
	ActiveOrchestrators metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ChatDuration, err = meter.Float64Histogram("genie.chat.duration",
		metric.WithDescription("End-to-end chat request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ChatFailures, err = meter.Int64Counter("genie.chat.failures",
		metric.WithDescription("Chat requests that ended in an error response"),
	); err != nil {
		return nil, err
	}
	if m.ModelCallDuration, err = meter.Float64Histogram("genie.model.duration",
		metric.WithDescription("Model provider round-trip duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.OrchestratorSteps, err = meter.Int64Counter("genie.orchestrator.steps",
		metric.WithDescription("Decide-act iterations executed"),
	); err != nil {
		return nil, err
	}
	if m.StepCeilingHits, err = meter.Int64Counter("genie.orchestrator.ceiling",
		metric.WithDescription("Turns aborted at the step ceiling"),
	); err != nil {
		return nil, err
	}
	if m.CapabilityCalls, err = meter.Int64Counter("genie.capability.calls",
		metric.WithDescription("Capability invocations"),
	); err != nil {
		return nil, err
	}
	if m.CapabilityErrors, err = meter.Int64Counter("genie.capability.errors",
		metric.WithDescription("Capability invocations that returned error text"),
	); err != nil {
		return nil, err
	}
	if m.FanoutDelivered, err = meter.Int64Counter("genie.fanout.delivered",
		metric.WithDescription("Notifications enqueued to stream subscribers"),
	); err != nil {
		return nil, err
	}
	if m.FanoutDropped, err = meter.Int64Counter("genie.fanout.dropped",
		metric.WithDescription("Notifications dropped for full subscriber queues"),
	); err != nil {
		return nil, err
	}
	if m.ActiveOrchestrators, err = meter.Int64UpDownCounter("genie.orchestrator.active",
		metric.WithDescription("Agent runs currently executing"),
	); err != nil {
		return nil, err
	}
	return m, nil
}
