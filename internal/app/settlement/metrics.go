package settlement

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cryptoxhq/cryptox/internal/domain/ledger"
	"github.com/cryptoxhq/cryptox/internal/infra/telemetry"
)

var (
	settlementCounter  metric.Int64Counter
	settlementDuration metric.Float64Histogram
	orderCounter       metric.Int64Counter
	metricsOnce        sync.Once
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("settlement")
		counter, err := meter.Int64Counter("cryptox_settlements_total",
			metric.WithDescription("Total settlement attempts by kind and result"),
			metric.WithUnit("{settlement}"))
		if err == nil {
			settlementCounter = counter
		}
		duration, err := meter.Float64Histogram("settlement.duration",
			metric.WithDescription("Settlement operation duration"),
			metric.WithUnit("ms"))
		if err == nil {
			settlementDuration = duration
		}
		orders, err := meter.Int64Counter("cryptox_orders_total",
			metric.WithDescription("Orders persisted by side, kind and status"),
			metric.WithUnit("{order}"))
		if err == nil {
			orderCounter = orders
		}
	})
}

func recordSettlement(ctx context.Context, kind, symbol, result string, elapsed time.Duration) {
	ensureMetrics()
	attrs := telemetry.SettlementAttributes(telemetry.Environment(), kind, symbol, result)
	if settlementCounter != nil {
		settlementCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if settlementDuration != nil {
		settlementDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func recordOrder(ctx context.Context, order ledger.Order) {
	ensureMetrics()
	if orderCounter == nil {
		return
	}
	attrs := telemetry.OrderAttributes(telemetry.Environment(),
		order.Symbol, string(order.Side), string(order.Kind), string(order.Status))
	orderCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
