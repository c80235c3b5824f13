package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/poisonednumber/scanner-map-client/internal/store"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// registerMetrics wires observable gauges for store size and visible marker
// count. Metric failures never block the store; the global meter is a no-op
// when OTel is not configured.
func registerMetrics(s *Store) {
	m := meter()

	size, err := m.Int64ObservableGauge(
		"store.calls",
		metric.WithDescription("Calls currently tracked by the store"),
	)
	if err != nil {
		return
	}
	visible, err := m.Int64ObservableGauge(
		"store.markers.visible",
		metric.WithDescription("Markers currently rendered on the map"),
	)
	if err != nil {
		return
	}

	_, _ = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(size, int64(s.Len()))
			o.ObserveInt64(visible, int64(s.VisibleCount()))
			return nil
		},
		size, visible,
	)
}
