// Package notify delivers post-settlement receipts. Delivery is best effort:
// the settlement engine fires receipts after commit and only logs failures.
package notify

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
)

// Kind labels the settlement event a receipt describes.
type Kind string

const (
	KindBuy      Kind = "buy"
	KindSell     Kind = "sell"
	KindExchange Kind = "exchange"
	KindDeposit  Kind = "deposit"
)

// Receipt summarises one settled event for the account holder.
type Receipt struct {
	UserID    int64
	Kind      Kind
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	AmountUSD decimal.Decimal
	Reference string
}

// Notifier delivers receipts to an external channel (mail, push, etc).
type Notifier interface {
	Notify(ctx context.Context, receipt Receipt) error
}

// LogNotifier writes receipts to the process log. It stands in for a real
// delivery channel in development and tests.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier returns a notifier backed by logger. A nil logger silently
// drops receipts.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, receipt Receipt) error {
	if n.logger == nil {
		return nil
	}
	n.logger.Printf("receipt: user=%d kind=%s symbol=%s qty=%s price=%s usd=%s ref=%s",
		receipt.UserID, receipt.Kind, receipt.Symbol,
		receipt.Quantity.String(), receipt.Price.String(), receipt.AmountUSD.String(),
		receipt.Reference)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
