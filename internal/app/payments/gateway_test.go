package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/errs"
	"github.com/cryptoxhq/cryptox/internal/app/pricing"
	"github.com/cryptoxhq/cryptox/internal/app/settlement"
	"github.com/cryptoxhq/cryptox/internal/domain/ledger"
)

const testSecret = "whsec_test"

// memLedger is the minimal in-memory store the gateway tests need.
type memLedger struct {
	balances map[string]decimal.Decimal
	guards   map[string]bool
	orders   int
	fail     bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances: make(map[string]decimal.Decimal),
		guards:   make(map[string]bool),
	}
}

func (m *memLedger) EnsureAsset(context.Context, string) (int64, error) { return 1, nil }

func (m *memLedger) AdjustBalance(_ context.Context, userID int64, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	if m.fail {
		return decimal.Zero, fmt.Errorf("connection refused")
	}
	key := fmt.Sprintf("%d/%s", userID, symbol)
	next := m.balances[key].Add(delta)
	m.balances[key] = next
	return next, nil
}

func (m *memLedger) BalanceForUpdate(_ context.Context, userID int64, symbol string) (decimal.Decimal, error) {
	return m.balances[fmt.Sprintf("%d/%s", userID, symbol)], nil
}

func (m *memLedger) InsertOrder(context.Context, ledger.Order) error {
	m.orders++
	return nil
}

func (m *memLedger) InsertTrade(context.Context, ledger.Trade) error { return nil }

func (m *memLedger) InsertPaymentGuard(_ context.Context, eventID string) (bool, error) {
	if m.guards[eventID] {
		return false, nil
	}
	m.guards[eventID] = true
	return true, nil
}

func (m *memLedger) PaymentEventProcessed(_ context.Context, eventID string) (bool, error) {
	return m.guards[eventID], nil
}

func (m *memLedger) InsertPayment(context.Context, ledger.Payment) error { return nil }

func (m *memLedger) WithTransaction(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	saved := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		saved[k] = v
	}
	savedGuards := make(map[string]bool, len(m.guards))
	for k, v := range m.guards {
		savedGuards[k] = v
	}
	if err := fn(ctx, m); err != nil {
		m.balances = saved
		m.guards = savedGuards
		return err
	}
	return nil
}

func (m *memLedger) Balances(_ context.Context, userID int64) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{"USD": decimal.Zero}
	prefix := fmt.Sprintf("%d/", userID)
	for key, balance := range m.balances {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = balance
		}
	}
	return out, nil
}

func (m *memLedger) ListOrders(context.Context, int64, int) ([]ledger.Order, error) { return nil, nil }
func (m *memLedger) ListTrades(context.Context, int64, int) ([]ledger.Trade, error) { return nil, nil }

var _ ledger.Store = (*memLedger)(nil)

func testGateway(t *testing.T, store ledger.Store) *Gateway {
	t.Helper()
	board := pricing.NewBoard()
	board.Put(pricing.Quote{Symbol: "BTC", Price: decimal.NewFromInt(50000)})
	engine := settlement.NewEngine(store, board, nil, settlement.Config{
		FeeBps:        10,
		Tolerance:     decimal.RequireFromString("0.000000000001"),
		OrderThrottle: 1000,
		OrderBurst:    1000,
	}, nil)
	return NewGateway(engine, testSecret, 5*time.Minute, nil)
}

func signPayload(t *testing.T, payload []byte, at time.Time) string {
	t.Helper()
	timestamp := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func succeededEvent(eventID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": %q,
			"status": "succeeded",
			"amount": 10000,
			"metadata": {"userId": "1", "coin": "BTC-USD", "amountUsd": "100"}
		}}
	}`, eventID))
}

func TestHandleEventSettlesSucceededPayment(t *testing.T) {
	store := newMemLedger()
	gateway := testGateway(t, store)
	payload := succeededEvent("pi_100")

	ack, err := gateway.HandleEvent(context.Background(), payload, signPayload(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("HandleEvent returned error: %v", err)
	}
	if !ack.Received || ack.Fulfillment != "" {
		t.Fatalf("expected clean ack, got %+v", ack)
	}
	// 100 USD at 50000 = 0.002 BTC.
	if got := store.balances["1/BTC"]; !got.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("expected 0.002 BTC credited, got %s", got)
	}
}

func TestHandleEventRedeliveryIsNoOp(t *testing.T) {
	store := newMemLedger()
	gateway := testGateway(t, store)
	payload := succeededEvent("pi_dup")
	header := signPayload(t, payload, time.Now())

	for i := 0; i < 2; i++ {
		ack, err := gateway.HandleEvent(context.Background(), payload, header)
		if err != nil {
			t.Fatalf("delivery %d returned error: %v", i+1, err)
		}
		if !ack.Received {
			t.Fatalf("delivery %d not acknowledged", i+1)
		}
	}
	if got := store.balances["1/BTC"]; !got.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("expected single credit of 0.002 BTC, got %s", got)
	}
}

func TestHandleEventRedeliveryAcksWithoutQuote(t *testing.T) {
	store := newMemLedger()
	gateway := testGateway(t, store)
	payload := succeededEvent("pi_unquoted")
	header := signPayload(t, payload, time.Now())

	if _, err := gateway.HandleEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}

	// Same ledger, but BTC has dropped off the board. The redelivery must
	// still acknowledge instead of asking the provider to retry forever.
	engine := settlement.NewEngine(store, pricing.NewBoard(), nil, settlement.Config{
		FeeBps:        10,
		Tolerance:     decimal.RequireFromString("0.000000000001"),
		OrderThrottle: 1000,
		OrderBurst:    1000,
	}, nil)
	unquoted := NewGateway(engine, testSecret, 5*time.Minute, nil)

	ack, err := unquoted.HandleEvent(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("redelivery returned error: %v", err)
	}
	if !ack.Received {
		t.Fatal("expected acknowledgment")
	}
	if got := store.balances["1/BTC"]; !got.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("expected single credit of 0.002 BTC, got %s", got)
	}
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	gateway := testGateway(t, newMemLedger())
	payload := succeededEvent("pi_bad_sig")

	_, err := gateway.HandleEvent(context.Background(), payload, "t=123,v1=deadbeef")
	if errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestHandleEventRejectsStaleTimestamp(t *testing.T) {
	gateway := testGateway(t, newMemLedger())
	payload := succeededEvent("pi_stale")

	header := signPayload(t, payload, time.Now().Add(-time.Hour))
	_, err := gateway.HandleEvent(context.Background(), payload, header)
	if errs.CodeOf(err) != errs.CodeInvalid {
		t.Fatalf("expected invalid_request for stale signature, got %v", err)
	}
}

func TestHandleEventIgnoresOtherEventTypes(t *testing.T) {
	store := newMemLedger()
	gateway := testGateway(t, store)
	payload := []byte(`{"id":"evt_2","type":"payment_intent.created","data":{"object":{"id":"pi_x","status":"requires_payment_method"}}}`)

	ack, err := gateway.HandleEvent(context.Background(), payload, signPayload(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("HandleEvent returned error: %v", err)
	}
	if !ack.Received {
		t.Fatal("expected acknowledgment")
	}
	if len(store.guards) != 0 {
		t.Fatal("expected no guard row for ignored event type")
	}
}

func TestHandleEventAcksMetadataFailures(t *testing.T) {
	store := newMemLedger()
	gateway := testGateway(t, store)
	payload := []byte(`{
		"id": "evt_3",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_nometa", "status": "succeeded", "amount": 0, "metadata": {}}}
	}`)

	ack, err := gateway.HandleEvent(context.Background(), payload, signPayload(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("expected ack, got error: %v", err)
	}
	if !ack.Received || ack.Fulfillment != "error" {
		t.Fatalf("expected error-marked ack, got %+v", ack)
	}
}

func TestHandleEventSignalsTransientStorageFailure(t *testing.T) {
	store := newMemLedger()
	store.fail = true
	gateway := testGateway(t, store)
	payload := succeededEvent("pi_transient")

	_, err := gateway.HandleEvent(context.Background(), payload, signPayload(t, payload, time.Now()))
	if errs.CodeOf(err) != errs.CodeStorage {
		t.Fatalf("expected storage_unavailable for retry, got %v", err)
	}

	// Provider retry after recovery settles normally.
	store.fail = false
	ack, err := gateway.HandleEvent(context.Background(), payload, signPayload(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if !ack.Received || ack.Fulfillment != "" {
		t.Fatalf("expected clean ack on retry, got %+v", ack)
	}
}

func TestExtractFallsBackToChargeAmount(t *testing.T) {
	gateway := testGateway(t, newMemLedger())
	req, err := gateway.extract(PaymentIntent{
		ID:          "pi_cents",
		Status:      "succeeded",
		AmountCents: 2550,
		Metadata:    map[string]string{"userId": "7"},
	})
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}
	if !req.AmountUSD.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("expected 25.50 USD from cents, got %s", req.AmountUSD)
	}
	if req.TargetSymbol != "BTC-USD" {
		t.Fatalf("expected default symbol BTC-USD, got %s", req.TargetSymbol)
	}
}
