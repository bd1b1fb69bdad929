// Package pricing maintains reference prices for tradable assets. Quotes are
// produced by the built-in random walk simulator or an external HTTP feed and
// consumed by the settlement engine and the websocket tick stream.
package pricing

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/errs"
)

// QuoteSymbol is the cash leg every pair is quoted against.
const QuoteSymbol = "USD"

// Quote is a point-in-time reference price for one asset in USD.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// Oracle supplies reference prices to settlement.
type Oracle interface {
	// Price returns the current USD reference price for symbol. USD itself
	// always prices at 1.
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Snapshot returns every known quote sorted by symbol.
	Snapshot() []Quote
}

// Board is the in-memory quote table. Writers swap a fresh snapshot map so
// readers never take a lock on the settlement hot path.
type Board struct {
	snapshot atomic.Pointer[map[string]Quote]
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	b := &Board{}
	empty := make(map[string]Quote)
	b.snapshot.Store(&empty)
	return b
}

// Price implements Oracle.
func (b *Board) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == QuoteSymbol {
		return decimal.NewFromInt(1), nil
	}
	current := *b.snapshot.Load()
	quote, ok := current[normalized]
	if !ok || !quote.Price.IsPositive() {
		return decimal.Decimal{}, errs.New("pricing.Price", errs.CodePriceUnavailable,
			errs.WithSymbol(normalized),
			errs.WithMessage("no reference price"))
	}
	return quote.Price, nil
}

// Snapshot implements Oracle.
func (b *Board) Snapshot() []Quote {
	current := *b.snapshot.Load()
	quotes := make([]Quote, 0, len(current))
	for _, quote := range current {
		quotes = append(quotes, quote)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes
}

// Put records a quote, replacing any previous price for the symbol.
func (b *Board) Put(quote Quote) {
	quote.Symbol = strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if quote.Symbol == "" || quote.Symbol == QuoteSymbol {
		return
	}
	if quote.At.IsZero() {
		quote.At = time.Now().UTC()
	}
	for {
		old := b.snapshot.Load()
		next := make(map[string]Quote, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[quote.Symbol] = quote
		if b.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

var _ Oracle = (*Board)(nil)
