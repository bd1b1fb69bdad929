// Package httpserver exposes the HTTP API for trades, payments, balances, and
// the websocket tick stream.
package httpserver

import (
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/errs"
	"github.com/cryptoxhq/cryptox/internal/app/payments"
	"github.com/cryptoxhq/cryptox/internal/app/pricing"
	"github.com/cryptoxhq/cryptox/internal/app/settlement"
	"github.com/cryptoxhq/cryptox/internal/domain/ledger"
)

const (
	spotTradePath      = "/trades/spot"
	exchangeTradePath  = "/trades/exchange"
	paymentFulfillPath = "/payments/fulfill"
	paymentWebhookPath = "/payments/webhook"
	balancesPath       = "/balances"
	ordersPath         = "/orders"
	tradesPath         = "/trades"
	healthPath         = "/healthz"
	ticksPath          = "/ws"

	signatureHeader = "Stripe-Signature"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	engine       *settlement.Engine
	gateway      *payments.Gateway
	board        *pricing.Board
	ticks        TickSource
	logger       *log.Logger
	maxBodyBytes int64
}

// TickSource delivers live price ticks to websocket subscribers.
type TickSource interface {
	Subscribe() (<-chan pricing.Quote, func())
}

// NewHandler assembles the API routes. ticks may be nil, which disables the
// websocket stream; a nil logger disables informational logging.
func NewHandler(engine *settlement.Engine, gateway *payments.Gateway, board *pricing.Board, ticks TickSource, maxBodyBytes int64, logger *log.Logger) http.Handler {
	server := &httpServer{
		engine:       engine,
		gateway:      gateway,
		board:        board,
		ticks:        ticks,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
	mux := http.NewServeMux()

	mux.Handle(spotTradePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.executeSpot,
	}))
	mux.Handle(exchangeTradePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.executeExchange,
	}))
	mux.Handle(paymentFulfillPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.fulfillPayment,
	}))
	mux.Handle(paymentWebhookPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.handleWebhook,
	}))
	mux.Handle(balancesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getBalances,
	}))
	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getOrders,
	}))
	mux.Handle(tradesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getTrades,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	if ticks != nil {
		mux.Handle(ticksPath, server.methodHandlers(map[string]handlerFunc{
			http.MethodGet: server.streamTicks,
		}))
	}

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

type spotTradePayload struct {
	UserID     int64           `json:"userId"`
	Pair       string          `json:"pair"`
	Side       string          `json:"side"`
	Kind       string          `json:"kind"`
	Quantity   decimal.Decimal `json:"qty"`
	LimitPrice decimal.Decimal `json:"limitPrice"`
}

type exchangePayload struct {
	UserID         int64           `json:"userId"`
	FromSymbol     string          `json:"from"`
	ToSymbol       string          `json:"to"`
	Amount         decimal.Decimal `json:"amount"`
	MaxSlippagePct decimal.Decimal `json:"maxSlippagePct"`
}

type fulfillPayload struct {
	EventID      string          `json:"eventId"`
	UserID       int64           `json:"userId"`
	TargetSymbol string          `json:"targetSymbol"`
	AmountUSD    decimal.Decimal `json:"usdAmount"`
}

func (s *httpServer) executeSpot(w http.ResponseWriter, r *http.Request) {
	s.limitRequestBody(w, r)
	var payload spotTradePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := s.engine.ExecuteSpot(r.Context(), settlement.SpotRequest{
		UserID:     payload.UserID,
		Pair:       strings.ToUpper(strings.TrimSpace(payload.Pair)),
		Side:       ledger.Side(strings.ToUpper(strings.TrimSpace(payload.Side))),
		Kind:       ledger.Kind(strings.ToUpper(strings.TrimSpace(payload.Kind))),
		Quantity:   payload.Quantity,
		LimitPrice: payload.LimitPrice,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":    result.Order,
		"trade":    result.Trade,
		"filled":   result.Filled,
		"price":    result.Price,
		"feeUsd":   result.FeeUSD,
		"balances": result.Balances,
	})
}

func (s *httpServer) executeExchange(w http.ResponseWriter, r *http.Request) {
	s.limitRequestBody(w, r)
	var payload exchangePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := s.engine.ExecuteExchange(r.Context(), settlement.ExchangeRequest{
		UserID:         payload.UserID,
		FromSymbol:     payload.FromSymbol,
		ToSymbol:       payload.ToSymbol,
		Amount:         payload.Amount,
		MaxSlippagePct: payload.MaxSlippagePct,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sellOrder":   result.SellOrder,
		"sellTrade":   result.SellTrade,
		"buyOrder":    result.BuyOrder,
		"buyTrade":    result.BuyTrade,
		"receivedQty": result.ReceivedQty,
		"rate":        result.Rate,
		"feeUsd":      result.FeeUSD,
		"balances":    result.Balances,
	})
}

func (s *httpServer) fulfillPayment(w http.ResponseWriter, r *http.Request) {
	s.limitRequestBody(w, r)
	var payload fulfillPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := s.engine.FulfillPaymentEvent(r.Context(), settlement.PaymentEventRequest{
		EventID:      strings.TrimSpace(payload.EventID),
		UserID:       payload.UserID,
		TargetSymbol: payload.TargetSymbol,
		AmountUSD:    payload.AmountUSD,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if result.AlreadyProcessed {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "already_processed",
			"balances": result.Balances,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"creditedQty": result.CreditedQty,
		"price":       result.Price,
		"order":       result.Order,
		"balances":    result.Balances,
	})
}

// handleWebhook verifies and settles a provider delivery. Transient failures
// return 503 so the provider redelivers; everything else is acknowledged.
func (s *httpServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		writeError(w, http.StatusInternalServerError, "payment gateway not configured")
		return
	}
	s.limitRequestBody(w, r)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	ack, err := s.gateway.HandleEvent(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *httpServer) getBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	balances, err := s.engine.Balances(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (s *httpServer) getOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	orders, err := s.engine.OrderHistory(r.Context(), userID, queryLimit(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []ledger.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *httpServer) getTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	trades, err := s.engine.TradeHistory(r.Context(), userID, queryLimit(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if trades == nil {
		trades = []ledger.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func queryUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("userId"))
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "userId query parameter required")
		return 0, false
	}
	return userID, true
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

// writeEngineError maps settlement error envelopes onto HTTP statuses.
func (s *httpServer) writeEngineError(w http.ResponseWriter, err error) {
	var envelope *errs.E
	if errors.As(err, &envelope) {
		status := envelope.HTTP
		if status == 0 {
			status = defaultStatus(envelope.Code)
		}
		message := envelope.Message
		if message == "" {
			message = string(envelope.Code)
		}
		writeJSON(w, status, map[string]string{
			"status": "error",
			"code":   string(envelope.Code),
			"error":  message,
		})
		return
	}
	if s.logger != nil {
		s.logger.Printf("unhandled settlement error: %v", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func defaultStatus(code errs.Code) int {
	switch code {
	case errs.CodeInvalid, errs.CodeInvalidPair:
		return http.StatusBadRequest
	case errs.CodeInsufficientFunds, errs.CodeSlippage:
		return http.StatusUnprocessableEntity
	case errs.CodePriceUnavailable, errs.CodeStorage:
		return http.StatusServiceUnavailable
	case errs.CodeThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *httpServer) limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
