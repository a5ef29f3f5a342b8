package gateway

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var rejections, _ = otel.Meter("github.com/orgspace/edge-gateway/internal/gateway").
	Int64Counter("gateway.requests.rejected", metric.WithDescription("rejected requests by kind"))

func recordRejection(ctx context.Context, kind Kind) {
	if rejections == nil {
		return
	}

	rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
