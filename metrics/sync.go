/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Sync modes.
const (
	ModeGateway  = "gateway"
	ModeDownload = "download"
)

// Sync provides OpenTelemetry metrics for synchronization runs. Instruments
// that fail to initialize degrade to no-ops.
type Sync struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSync creates Sync metrics on the named meter.
func NewSync(meterName string) *Sync {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	runs, err := meter.Int64Counter("checkout.sync.runs",
		metric.WithDescription("The number of synchronization runs"),
		metric.WithUnit("{runs}"))
	if err != nil {
		slog.Warn("Failed to create sync run counter, metrics will be disabled", "error", err, "meter", meterName)
		runs = noop.Int64Counter{}
	}

	duration, err := meter.Float64Histogram("checkout.sync.duration",
		metric.WithDescription("Wall time of synchronization runs"),
		metric.WithUnit("s"))
	if err != nil {
		slog.Warn("Failed to create sync duration histogram, metrics will be disabled", "error", err, "meter", meterName)
		duration = noop.Float64Histogram{}
	}

	return &Sync{runs: runs, duration: duration}
}

// RecordRun records one run in mode, its outcome, and its duration.
func (s *Sync) RecordRun(ctx context.Context, mode string, err error, elapsed time.Duration, attrs ...attribute.KeyValue) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	base := append([]attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	}, attrs...)

	s.runs.Add(ctx, 1, metric.WithAttributes(base...))
	s.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(base...))
}
