package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	strategyProxy = "proxy"
	strategyQueue = "queue"

	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

var dispatches, _ = otel.Meter("github.com/orgspace/edge-gateway/internal/dispatch").
	Int64Counter("gateway.dispatch", metric.WithDescription("dispatched requests by strategy and outcome"))

func recordDispatch(ctx context.Context, strategy, outcome string) {
	if dispatches == nil {
		return
	}

	dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}
