// Package settlement orchestrates economic events against the wallet ledger.
// Every operation resolves prices through the oracle, mutates balances inside
// a single storage transaction, and records the order/trade audit trail.
package settlement

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/errs"
	"github.com/cryptoxhq/cryptox/internal/app/notify"
	"github.com/cryptoxhq/cryptox/internal/app/pricing"
	"github.com/cryptoxhq/cryptox/internal/domain/ledger"
	"github.com/cryptoxhq/cryptox/internal/infra/telemetry"
)

// Config carries the tunable settlement parameters.
type Config struct {
	// FeeBps is the taker fee in basis points, charged once per economic event.
	FeeBps int64
	// Tolerance absorbs decimal rounding drift in sufficiency checks.
	Tolerance decimal.Decimal
	// OrderThrottle is the per-user settlement rate in events per second.
	OrderThrottle float64
	// OrderBurst is the per-user burst allowance.
	OrderBurst int
}

// Engine is the single settlement entry point for spot trades, cross-asset
// exchanges, and payment-driven fulfillment.
type Engine struct {
	store    ledger.Store
	oracle   pricing.Oracle
	notifier notify.Notifier
	validate *validator.Validate
	logger   *log.Logger

	feeRate   decimal.Decimal
	tolerance decimal.Decimal
	throttle  *userThrottle
}

// NewEngine wires a settlement engine. notifier may be nil to disable
// receipts; a nil logger disables informational logging.
func NewEngine(store ledger.Store, oracle pricing.Oracle, notifier notify.Notifier, cfg Config, logger *log.Logger) *Engine {
	return &Engine{
		store:     store,
		oracle:    oracle,
		notifier:  notifier,
		validate:  validator.New(),
		logger:    logger,
		feeRate:   decimal.New(cfg.FeeBps, -4),
		tolerance: cfg.Tolerance,
		throttle:  newUserThrottle(cfg.OrderThrottle, cfg.OrderBurst),
	}
}

// SpotRequest describes one spot trade on a <BASE>-USD pair.
type SpotRequest struct {
	UserID     int64       `validate:"required,gt=0"`
	Pair       string      `validate:"required"`
	Side       ledger.Side `validate:"required,oneof=BUY SELL"`
	Kind       ledger.Kind `validate:"required,oneof=MARKET LIMIT"`
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
}

// SpotResult reports the recorded order, the fill if any, and the post-trade
// balances.
type SpotResult struct {
	Order    ledger.Order
	Trade    *ledger.Trade
	Filled   bool
	Price    decimal.Decimal
	FeeUSD   decimal.Decimal
	Balances map[string]decimal.Decimal
}

// ExchangeRequest converts amount of FromSymbol into ToSymbol through USD.
type ExchangeRequest struct {
	UserID         int64  `validate:"required,gt=0"`
	FromSymbol     string `validate:"required"`
	ToSymbol       string `validate:"required"`
	Amount         decimal.Decimal
	MaxSlippagePct decimal.Decimal
}

// ExchangeResult reports both audit legs and the realized conversion.
type ExchangeResult struct {
	SellOrder   ledger.Order
	SellTrade   ledger.Trade
	BuyOrder    ledger.Order
	BuyTrade    ledger.Trade
	ReceivedQty decimal.Decimal
	Rate        decimal.Decimal
	FeeUSD      decimal.Decimal
	Balances    map[string]decimal.Decimal
}

// PaymentEventRequest fulfils one verified payment-provider confirmation.
type PaymentEventRequest struct {
	EventID      string `validate:"required"`
	UserID       int64  `validate:"required,gt=0"`
	TargetSymbol string `validate:"required"`
	AmountUSD    decimal.Decimal
}

// PaymentResult reports the credit, or that the event had already been
// settled (a successful no-op).
type PaymentResult struct {
	AlreadyProcessed bool
	CreditedQty      decimal.Decimal
	Price            decimal.Decimal
	Order            *ledger.Order
	Balances         map[string]decimal.Decimal
}

// ExecuteSpot settles a spot BUY or SELL on a <BASE>-USD pair. Non-marketable
// limit orders are recorded as NEW without touching the ledger.
func (e *Engine) ExecuteSpot(ctx context.Context, req SpotRequest) (SpotResult, error) {
	const op = "settlement.ExecuteSpot"
	start := time.Now()

	if err := e.validateSpot(op, req); err != nil {
		recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, string(errs.CodeOf(err)), time.Since(start))
		return SpotResult{}, err
	}
	base, err := splitPair(op, req.Pair)
	if err != nil {
		recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, string(errs.CodeOf(err)), time.Since(start))
		return SpotResult{}, err
	}
	if !e.throttle.allow(req.UserID) {
		err := errs.New(op, errs.CodeThrottled, errs.WithHTTP(http.StatusTooManyRequests),
			errs.WithMessage("order rate limit exceeded"))
		recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, string(errs.CodeThrottled), time.Since(start))
		return SpotResult{}, err
	}

	refPrice, err := e.oracle.Price(ctx, base)
	if err != nil {
		recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, string(errs.CodeOf(err)), time.Since(start))
		return SpotResult{}, err
	}

	now := time.Now().UTC()

	if req.Kind == ledger.KindLimit && !marketable(req.Side, refPrice, req.LimitPrice) {
		order := ledger.Order{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			Symbol:    req.Pair,
			Side:      req.Side,
			Kind:      req.Kind,
			Quantity:  req.Quantity,
			Price:     req.LimitPrice,
			Status:    ledger.StatusNew,
			CreatedAt: now,
		}
		if err := e.store.InsertOrder(ctx, order); err != nil {
			serr := e.storageErr(op, err)
			recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, string(errs.CodeStorage), time.Since(start))
			return SpotResult{}, serr
		}
		balances, err := e.Balances(ctx, req.UserID)
		if err != nil {
			return SpotResult{}, err
		}
		recordOrder(ctx, order)
		recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, "unfilled", time.Since(start))
		return SpotResult{
			Order:    order,
			Trade:    nil,
			Filled:   false,
			Price:    req.LimitPrice,
			FeeUSD:   decimal.Zero,
			Balances: balances,
		}, nil
	}

	// Market orders fill at the reference price. A marketable limit order
	// fills at its own limit price, the worst price the caller agreed to.
	execPrice := refPrice
	if req.Kind == ledger.KindLimit {
		execPrice = req.LimitPrice
	}
	notional := req.Quantity.Mul(execPrice)
	fee := notional.Mul(e.feeRate)

	order := ledger.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    req.Pair,
		Side:      req.Side,
		Kind:      req.Kind,
		Quantity:  req.Quantity,
		Price:     execPrice,
		Status:    ledger.StatusFilled,
		CreatedAt: now,
	}
	trade := ledger.Trade{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		UserID:    req.UserID,
		Symbol:    req.Pair,
		Price:     execPrice,
		Quantity:  req.Quantity,
		CreatedAt: now,
	}

	err = e.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if req.Side == ledger.SideBuy {
			required := notional.Add(fee)
			usd, err := tx.BalanceForUpdate(ctx, req.UserID, pricing.QuoteSymbol)
			if err != nil {
				return err
			}
			if usd.Add(e.tolerance).LessThan(required) {
				return errs.New(op, errs.CodeInsufficientFunds,
					errs.WithHTTP(http.StatusUnprocessableEntity),
					errs.WithSymbol(pricing.QuoteSymbol),
					errs.WithMessage("insufficient USD for buy"))
			}
			if _, err := tx.AdjustBalance(ctx, req.UserID, pricing.QuoteSymbol, required.Neg()); err != nil {
				return err
			}
			if _, err := tx.AdjustBalance(ctx, req.UserID, base, req.Quantity); err != nil {
				return err
			}
		} else {
			held, err := tx.BalanceForUpdate(ctx, req.UserID, base)
			if err != nil {
				return err
			}
			if held.Add(e.tolerance).LessThan(req.Quantity) {
				return errs.New(op, errs.CodeInsufficientFunds,
					errs.WithHTTP(http.StatusUnprocessableEntity),
					errs.WithSymbol(base),
					errs.WithMessage("insufficient holdings for sell"))
			}
			if _, err := tx.AdjustBalance(ctx, req.UserID, base, req.Quantity.Neg()); err != nil {
				return err
			}
			if _, err := tx.AdjustBalance(ctx, req.UserID, pricing.QuoteSymbol, notional.Sub(fee)); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		serr := e.storageErr(op, err)
		recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, string(errs.CodeOf(serr)), time.Since(start))
		return SpotResult{}, serr
	}

	balances, err := e.Balances(ctx, req.UserID)
	if err != nil {
		return SpotResult{}, err
	}

	e.sendReceipt(ctx, notify.Receipt{
		UserID:    req.UserID,
		Kind:      receiptKind(req.Side),
		Symbol:    base,
		Quantity:  req.Quantity,
		Price:     execPrice,
		AmountUSD: notional,
		Reference: order.ID,
	})

	recordOrder(ctx, order)
	recordSettlement(ctx, telemetry.SettlementKindSpot, req.Pair, "success", time.Since(start))
	return SpotResult{
		Order:    order,
		Trade:    &trade,
		Filled:   true,
		Price:    execPrice,
		FeeUSD:   fee,
		Balances: balances,
	}, nil
}

// ExecuteExchange converts between two non-USD assets through USD, charging
// the fee once on the gross USD notional. Both legs are persisted as
// independently auditable order/trade pairs.
func (e *Engine) ExecuteExchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error) {
	const op = "settlement.ExecuteExchange"
	start := time.Now()

	from := strings.ToUpper(strings.TrimSpace(req.FromSymbol))
	to := strings.ToUpper(strings.TrimSpace(req.ToSymbol))
	pairLabel := from + "/" + to

	if err := e.validateExchange(op, req, from, to); err != nil {
		recordSettlement(ctx, telemetry.SettlementKindExchange, pairLabel, string(errs.CodeOf(err)), time.Since(start))
		return ExchangeResult{}, err
	}
	if !e.throttle.allow(req.UserID) {
		err := errs.New(op, errs.CodeThrottled, errs.WithHTTP(http.StatusTooManyRequests),
			errs.WithMessage("order rate limit exceeded"))
		recordSettlement(ctx, telemetry.SettlementKindExchange, pairLabel, string(errs.CodeThrottled), time.Since(start))
		return ExchangeResult{}, err
	}

	priceFrom, err := e.oracle.Price(ctx, from)
	if err != nil {
		recordSettlement(ctx, telemetry.SettlementKindExchange, pairLabel, string(errs.CodeOf(err)), time.Since(start))
		return ExchangeResult{}, err
	}
	priceTo, err := e.oracle.Price(ctx, to)
	if err != nil {
		recordSettlement(ctx, telemetry.SettlementKindExchange, pairLabel, string(errs.CodeOf(err)), time.Since(start))
		return ExchangeResult{}, err
	}

	grossUSD := req.Amount.Mul(priceFrom)
	fee := grossUSD.Mul(e.feeRate)
	netUSD := grossUSD.Sub(fee)
	quoted := netUSD.Div(priceTo)

	now := time.Now().UTC()
	sellOrder := ledger.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    from + "-" + pricing.QuoteSymbol,
		Side:      ledger.SideSell,
		Kind:      ledger.KindMarket,
		Quantity:  req.Amount,
		Price:     priceFrom,
		Status:    ledger.StatusFilled,
		CreatedAt: now,
	}
	sellTrade := ledger.Trade{
		ID:        uuid.NewString(),
		OrderID:   sellOrder.ID,
		UserID:    req.UserID,
		Symbol:    sellOrder.Symbol,
		Price:     priceFrom,
		Quantity:  req.Amount,
		CreatedAt: now,
	}
	buyOrder := ledger.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    to + "-" + pricing.QuoteSymbol,
		Side:      ledger.SideBuy,
		Kind:      ledger.KindMarket,
		Quantity:  quoted,
		Price:     priceTo,
		Status:    ledger.StatusFilled,
		CreatedAt: now,
	}
	buyTrade := ledger.Trade{
		ID:        uuid.NewString(),
		OrderID:   buyOrder.ID,
		UserID:    req.UserID,
		Symbol:    buyOrder.Symbol,
		Price:     priceTo,
		Quantity:  quoted,
		CreatedAt: now,
	}

	err = e.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		held, err := tx.BalanceForUpdate(ctx, req.UserID, from)
		if err != nil {
			return err
		}
		if held.Add(e.tolerance).LessThan(req.Amount) {
			return errs.New(op, errs.CodeInsufficientFunds,
				errs.WithHTTP(http.StatusUnprocessableEntity),
				errs.WithSymbol(from),
				errs.WithMessage("insufficient holdings for exchange"))
		}

		// Re-quote the receive leg against the freshest price so the
		// slippage guard compares two distinct quotes.
		currentTo, err := e.oracle.Price(ctx, to)
		if err != nil {
			return err
		}
		received := netUSD.Div(currentTo)
		if req.MaxSlippagePct.IsPositive() {
			minReceive := quoted.Mul(decimal.NewFromInt(1).Sub(req.MaxSlippagePct.Div(decimal.NewFromInt(100))))
			if received.LessThan(minReceive) {
				return errs.New(op, errs.CodeSlippage,
					errs.WithHTTP(http.StatusUnprocessableEntity),
					errs.WithSymbol(to),
					errs.WithMessage("quoted receive amount below slippage guard"))
			}
		}
		buyOrder.Quantity = received
		buyOrder.Price = currentTo
		buyTrade.Quantity = received
		buyTrade.Price = currentTo

		if _, err := tx.AdjustBalance(ctx, req.UserID, from, req.Amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, req.UserID, to, received); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, sellOrder); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, sellTrade); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, buyOrder); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, buyTrade)
	})
	if err != nil {
		serr := e.storageErr(op, err)
		recordSettlement(ctx, telemetry.SettlementKindExchange, pairLabel, string(errs.CodeOf(serr)), time.Since(start))
		return ExchangeResult{}, serr
	}

	balances, err := e.Balances(ctx, req.UserID)
	if err != nil {
		return ExchangeResult{}, err
	}

	e.sendReceipt(ctx, notify.Receipt{
		UserID:    req.UserID,
		Kind:      notify.KindExchange,
		Symbol:    pairLabel,
		Quantity:  req.Amount,
		Price:     priceFrom,
		AmountUSD: grossUSD,
		Reference: sellOrder.ID,
	})

	recordOrder(ctx, sellOrder)
	recordOrder(ctx, buyOrder)
	recordSettlement(ctx, telemetry.SettlementKindExchange, pairLabel, "success", time.Since(start))
	rate := decimal.Zero
	if req.Amount.IsPositive() {
		rate = buyTrade.Quantity.Div(req.Amount)
	}
	return ExchangeResult{
		SellOrder:   sellOrder,
		SellTrade:   sellTrade,
		BuyOrder:    buyOrder,
		BuyTrade:    buyTrade,
		ReceivedQty: buyTrade.Quantity,
		Rate:        rate,
		FeeUSD:      fee,
		Balances:    balances,
	}, nil
}

// FulfillPaymentEvent credits a wallet for one verified payment confirmation.
// The guard insert and the credit share a transaction, so a redelivered event
// either finds the guard row (no-op) or retries a fully rolled back attempt.
func (e *Engine) FulfillPaymentEvent(ctx context.Context, req PaymentEventRequest) (PaymentResult, error) {
	const op = "settlement.FulfillPaymentEvent"
	start := time.Now()

	// Providers hand the target over either as a bare symbol or a -USD pair.
	target := strings.ToUpper(strings.TrimSpace(req.TargetSymbol))
	target = strings.TrimSuffix(target, "-"+pricing.QuoteSymbol)
	if err := e.validatePayment(op, req, target); err != nil {
		recordSettlement(ctx, telemetry.SettlementKindPayment, target, string(errs.CodeOf(err)), time.Since(start))
		return PaymentResult{}, err
	}

	// Check the guard before pricing. A redelivered event must remain a
	// benign no-op even when the asset has no quote anymore; the
	// transactional guard claim below stays the authoritative decision.
	processed, err := e.store.PaymentEventProcessed(ctx, req.EventID)
	if err != nil {
		serr := e.storageErr(op, err)
		recordSettlement(ctx, telemetry.SettlementKindPayment, target, string(errs.CodeOf(serr)), time.Since(start))
		return PaymentResult{}, serr
	}
	if processed {
		return e.duplicatePayment(ctx, req, target, decimal.Zero, start)
	}

	price, err := e.oracle.Price(ctx, target)
	if err != nil {
		recordSettlement(ctx, telemetry.SettlementKindPayment, target, string(errs.CodeOf(err)), time.Since(start))
		return PaymentResult{}, err
	}
	quantity := req.AmountUSD.Div(price)
	now := time.Now().UTC()

	order := ledger.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    target + "-" + pricing.QuoteSymbol,
		Side:      ledger.SideBuy,
		Kind:      ledger.KindMarket,
		Quantity:  quantity,
		Price:     price,
		Status:    ledger.StatusFilled,
		CreatedAt: now,
	}
	trade := ledger.Trade{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		UserID:    req.UserID,
		Symbol:    order.Symbol,
		Price:     price,
		Quantity:  quantity,
		CreatedAt: now,
	}

	duplicate := false
	err = e.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		claimed, err := tx.InsertPaymentGuard(ctx, req.EventID)
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}
		if _, err := tx.AdjustBalance(ctx, req.UserID, target, quantity); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, ledger.Payment{
			EventID:   req.EventID,
			UserID:    req.UserID,
			Symbol:    target,
			AmountUSD: req.AmountUSD,
			Status:    "succeeded",
			CreatedAt: now,
		})
	})
	if err != nil {
		serr := e.storageErr(op, err)
		recordSettlement(ctx, telemetry.SettlementKindPayment, target, string(errs.CodeOf(serr)), time.Since(start))
		return PaymentResult{}, serr
	}

	if duplicate {
		return e.duplicatePayment(ctx, req, target, price, start)
	}

	balances, err := e.Balances(ctx, req.UserID)
	if err != nil {
		return PaymentResult{}, err
	}

	e.sendReceipt(ctx, notify.Receipt{
		UserID:    req.UserID,
		Kind:      notify.KindDeposit,
		Symbol:    target,
		Quantity:  quantity,
		Price:     price,
		AmountUSD: req.AmountUSD,
		Reference: req.EventID,
	})

	recordOrder(ctx, order)
	recordSettlement(ctx, telemetry.SettlementKindPayment, target, "success", time.Since(start))
	return PaymentResult{
		AlreadyProcessed: false,
		CreditedQty:      quantity,
		Price:            price,
		Order:            &order,
		Balances:         balances,
	}, nil
}

// duplicatePayment acknowledges a redelivered payment event without side
// effects. Price is zero when the event was short-circuited before pricing.
func (e *Engine) duplicatePayment(ctx context.Context, req PaymentEventRequest, target string, price decimal.Decimal, start time.Time) (PaymentResult, error) {
	if e.logger != nil {
		e.logger.Printf("payment event already processed: event=%s user=%d", req.EventID, req.UserID)
	}
	recordSettlement(ctx, telemetry.SettlementKindPayment, target, string(errs.CodeDuplicateEvent), time.Since(start))
	balances, err := e.Balances(ctx, req.UserID)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{
		AlreadyProcessed: true,
		CreditedQty:      decimal.Zero,
		Price:            price,
		Order:            nil,
		Balances:         balances,
	}, nil
}

// Balances returns the user's wallet snapshot; USD is always present.
func (e *Engine) Balances(ctx context.Context, userID int64) (map[string]decimal.Decimal, error) {
	balances, err := e.store.Balances(ctx, userID)
	if err != nil {
		return nil, e.storageErr("settlement.Balances", err)
	}
	return balances, nil
}

// OrderHistory returns the user's most recent orders.
func (e *Engine) OrderHistory(ctx context.Context, userID int64, limit int) ([]ledger.Order, error) {
	orders, err := e.store.ListOrders(ctx, userID, limit)
	if err != nil {
		return nil, e.storageErr("settlement.OrderHistory", err)
	}
	return orders, nil
}

// TradeHistory returns the user's most recent trades.
func (e *Engine) TradeHistory(ctx context.Context, userID int64, limit int) ([]ledger.Trade, error) {
	trades, err := e.store.ListTrades(ctx, userID, limit)
	if err != nil {
		return nil, e.storageErr("settlement.TradeHistory", err)
	}
	return trades, nil
}

func (e *Engine) validateSpot(op string, req SpotRequest) error {
	if err := e.validate.Struct(&req); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage(err.Error()))
	}
	if !req.Quantity.IsPositive() {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("quantity must be positive"))
	}
	if req.Kind == ledger.KindLimit && !req.LimitPrice.IsPositive() {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("limit price must be positive"))
	}
	return nil
}

func (e *Engine) validateExchange(op string, req ExchangeRequest, from, to string) error {
	if err := e.validate.Struct(&req); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage(err.Error()))
	}
	if from == to {
		return errs.New(op, errs.CodeInvalidPair, errs.WithHTTP(http.StatusBadRequest),
			errs.WithSymbol(from),
			errs.WithMessage("from and to symbols must differ"))
	}
	if !req.Amount.IsPositive() {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("amount must be positive"))
	}
	if req.MaxSlippagePct.IsNegative() {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("max slippage must be >= 0"))
	}
	return nil
}

func (e *Engine) validatePayment(op string, req PaymentEventRequest, target string) error {
	if err := e.validate.Struct(&req); err != nil {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage(err.Error()))
	}
	if target == "" || target == pricing.QuoteSymbol {
		return errs.New(op, errs.CodeInvalidPair, errs.WithHTTP(http.StatusBadRequest),
			errs.WithSymbol(target),
			errs.WithMessage("target symbol must be a non-USD asset"))
	}
	if !req.AmountUSD.IsPositive() {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("usd amount must be positive"))
	}
	return nil
}

// sendReceipt is fire and forget: notifier failures are logged, never
// surfaced to the settlement caller.
func (e *Engine) sendReceipt(ctx context.Context, receipt notify.Receipt) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, receipt); err != nil && e.logger != nil {
		e.logger.Printf("receipt delivery failed: user=%d kind=%s: %v", receipt.UserID, receipt.Kind, err)
	}
}

// storageErr keeps settlement error codes intact and wraps everything else as
// a retryable storage failure.
func (e *Engine) storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errs.CodeOf(err) != "" {
		return err
	}
	return errs.New(op, errs.CodeStorage, errs.WithHTTP(http.StatusServiceUnavailable),
		errs.WithCause(err))
}

// splitPair validates a <BASE>-USD pair and returns the base symbol.
func splitPair(op, pair string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(pair))
	base, quote, found := strings.Cut(normalized, "-")
	if !found || quote != pricing.QuoteSymbol || base == "" || base == pricing.QuoteSymbol {
		return "", errs.New(op, errs.CodeInvalidPair, errs.WithHTTP(http.StatusBadRequest),
			errs.WithSymbol(normalized),
			errs.WithMessage("pair must be <BASE>-USD"))
	}
	return base, nil
}

// marketable reports whether a limit order crosses the reference price.
func marketable(side ledger.Side, reference, limit decimal.Decimal) bool {
	if side == ledger.SideBuy {
		return reference.LessThanOrEqual(limit)
	}
	return reference.GreaterThanOrEqual(limit)
}

func receiptKind(side ledger.Side) notify.Kind {
	if side == ledger.SideBuy {
		return notify.KindBuy
	}
	return notify.KindSell
}
