package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/errs"
)

func TestBoardPriceUSDAlwaysOne(t *testing.T) {
	board := NewBoard()
	price, err := board.Price(context.Background(), "usd")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected USD price 1, got %s", price)
	}
}

func TestBoardPriceUnknownSymbol(t *testing.T) {
	board := NewBoard()
	_, err := board.Price(context.Background(), "BTC")
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
	if errs.CodeOf(err) != errs.CodePriceUnavailable {
		t.Fatalf("expected price_unavailable, got %s", errs.CodeOf(err))
	}
}

func TestBoardPutAndSnapshot(t *testing.T) {
	board := NewBoard()
	board.Put(Quote{Symbol: "eth", Price: decimal.NewFromInt(2000)})
	board.Put(Quote{Symbol: "BTC", Price: decimal.NewFromInt(30000)})
	board.Put(Quote{Symbol: "USD", Price: decimal.NewFromInt(2)}) // ignored

	price, err := board.Price(context.Background(), "eth")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected 2000, got %s", price)
	}

	snapshot := board.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(snapshot))
	}
	if snapshot[0].Symbol != "BTC" || snapshot[1].Symbol != "ETH" {
		t.Fatalf("expected sorted snapshot, got %v", snapshot)
	}
}

func TestSimulatorSeedsBoard(t *testing.T) {
	board := NewBoard()
	NewSimulator(board, []string{"BTC", "DOGE"}, time.Second, nil)

	price, err := board.Price(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected seeded BTC price, got %s", price)
	}
	price, err = board.Price(context.Background(), "DOGE")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected fallback seed 100, got %s", price)
	}
}

func TestSimulatorStepPublishesTicks(t *testing.T) {
	board := NewBoard()
	sim := NewSimulator(board, []string{"BTC", "ETH"}, time.Second, nil)
	ticks, cancel := sim.Subscribe()
	defer cancel()

	sim.step(time.Now().UTC())

	received := 0
	for received < 2 {
		select {
		case quote := <-ticks:
			if !quote.Price.GreaterThanOrEqual(priceFloor) {
				t.Fatalf("tick price below floor: %s", quote.Price)
			}
			received++
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for ticks, got %d", received)
		}
	}
}

func TestSimulatorUnsubscribeClosesChannel(t *testing.T) {
	sim := NewSimulator(NewBoard(), []string{"BTC"}, time.Second, nil)
	ticks, cancel := sim.Subscribe()
	cancel()
	cancel() // idempotent
	if _, open := <-ticks; open {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestSimulatorPriceFloor(t *testing.T) {
	board := NewBoard()
	sim := NewSimulator(board, []string{"XRP"}, time.Second, nil)
	sim.mu.Lock()
	sim.current["XRP"] = decimal.NewFromFloat(0.001)
	sim.mu.Unlock()

	sim.step(time.Now().UTC())

	price, err := board.Price(context.Background(), "XRP")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if price.LessThan(priceFloor) {
		t.Fatalf("expected price clamped to floor, got %s", price)
	}
}

func TestFeedPullUpdatesBoard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"btc","price":"31250.50"},{"symbol":"BAD","price":"nope"}]`))
	}))
	defer srv.Close()

	board := NewBoard()
	feed := NewFeed(board, srv.URL, time.Minute, time.Second, nil)
	if err := feed.pull(context.Background()); err != nil {
		t.Fatalf("pull returned error: %v", err)
	}

	price, err := board.Price(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	want, _ := decimal.NewFromString("31250.50")
	if !price.Equal(want) {
		t.Fatalf("expected %s, got %s", want, price)
	}
}

func TestFeedPullRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	feed := NewFeed(NewBoard(), srv.URL, time.Minute, time.Second, nil)
	if err := feed.pull(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestFeedPullRejectsEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	feed := NewFeed(NewBoard(), srv.URL, time.Minute, time.Second, nil)
	if err := feed.pull(context.Background()); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
