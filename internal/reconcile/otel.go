package reconcile

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/poisonednumber/scanner-map-client/internal/reconcile"

var (
	pollCount      metric.Int64Counter
	resolvedCount  metric.Int64Counter
	abandonedCount metric.Int64Counter
)

// registerMetrics creates the reconciler counters on the global meter,
// which is a no-op when OTel is not configured.
func registerMetrics(r *Reconciler) {
	m := otel.Meter(instrumentationName)

	pollCount, _ = m.Int64Counter(
		"reconcile.polls",
		metric.WithDescription("Detail polls issued for pending transcriptions"),
	)
	resolvedCount, _ = m.Int64Counter(
		"reconcile.resolved",
		metric.WithDescription("Pending transcriptions upgraded to final text"),
	)
	abandonedCount, _ = m.Int64Counter(
		"reconcile.abandoned",
		metric.WithDescription("Watches abandoned after the attempt cap"),
	)
}
