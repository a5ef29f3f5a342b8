package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments from the global meter delegate to the provider installed at
// startup, so creating them at init is safe.
var lookups, _ = otel.Meter("github.com/orgspace/edge-gateway/internal/cache").
	Int64Counter("gateway.cache.lookups", metric.WithDescription("cache lookups by cache and result"))

func recordLookup(ctx context.Context, name string, hit bool) {
	if lookups == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", name),
		attribute.String("result", result),
	))
}
