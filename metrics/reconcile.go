/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes instrumentation for checkout runs: OpenTelemetry
// instruments for synchronization and Prometheus counters for directory
// reconciliation, which the binary can dump to a node-exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcomes.
const (
	OutcomeReused    = "reused"
	OutcomeRecreated = "recreated"
)

var (
	reconcileCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_workdir_reconcile_total",
			Help: "Existing working directories reconciled, by outcome",
		},
		[]string{"outcome", "reason"},
	)

	credentialCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_credential_cleanup_failures_total",
			Help: "Failures to remove the injected auth config entry",
		},
	)
)

// RecordReconcile counts a reconciliation outcome. reason is empty for reuse.
func RecordReconcile(outcome, reason string) {
	reconcileCounter.With(prometheus.Labels{"outcome": outcome, "reason": reason}).Inc()
}

// ReconcileCount returns the current count for outcome and reason.
func ReconcileCount(outcome, reason string) prometheus.Counter {
	return reconcileCounter.With(prometheus.Labels{"outcome": outcome, "reason": reason})
}

// RecordCredentialCleanupFailure counts a failed auth entry removal.
func RecordCredentialCleanupFailure() {
	credentialCleanupFailures.Inc()
}

// WriteTextfile writes every registered Prometheus metric to path in the
// text exposition format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
