// Package telemetry provides OpenTelemetry initialization and semantic
// conventions for CryptoX observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for CryptoX-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrSymbol captures the tradable instrument symbol (e.g. BTC-USD).
	AttrSymbol = attribute.Key("symbol")
	// AttrOrderSide labels order telemetry with BUY/SELL intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderKind distinguishes limit vs market orders in execution metrics.
	AttrOrderKind = attribute.Key("order.kind")
	// AttrOrderStatus captures the recorded lifecycle state (NEW, FILLED, REJECTED).
	AttrOrderStatus = attribute.Key("order.status")
	// AttrSettlementKind labels settlement counters by economic event class
	// (spot, exchange, payment).
	AttrSettlementKind = attribute.Key("settlement.kind")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrErrorCode categorizes rejections by settlement error code.
	AttrErrorCode = attribute.Key("error.code")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Settlement kind values.
const (
	SettlementKindSpot     = "spot"
	SettlementKindExchange = "exchange"
	SettlementKindPayment  = "payment"
)

// SettlementAttributes returns common attributes for settlement metrics.
func SettlementAttributes(environment, kind, symbol, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrSettlementKind.String(kind),
		AttrSymbol.String(symbol),
		AttrResult.String(result),
	}
}

// OrderAttributes returns attributes for order-related metrics.
func OrderAttributes(environment, symbol, side, kind, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrSymbol.String(symbol),
		AttrOrderSide.String(side),
		AttrOrderKind.String(kind),
		AttrOrderStatus.String(status),
	}
}
