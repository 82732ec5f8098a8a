package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the dashboard's instruments.
type Metrics struct {
	RequestDuration   metric.Float64Histogram
	CallbacksReceived metric.Int64Counter
	UpsertDuration    metric.Float64Histogram
	UpsertErrors      metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("dashboard.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CallbacksReceived, err = meter.Int64Counter("dashboard.callback.received",
		metric.WithDescription("Callbacks received, by result"),
	)
	if err != nil {
		return nil, err
	}

	m.UpsertDuration, err = meter.Float64Histogram("dashboard.task.upsert.duration",
		metric.WithDescription("Task upsert duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.UpsertErrors, err = meter.Int64Counter("dashboard.task.upsert.errors",
		metric.WithDescription("Failed task upserts"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
