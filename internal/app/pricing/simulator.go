package pricing

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// startingPrices seeds the simulator for well-known assets. Unknown symbols
// start at 100.
var startingPrices = map[string]decimal.Decimal{
	"BTC": decimal.NewFromInt(30000),
	"ETH": decimal.NewFromInt(2000),
	"BNB": decimal.NewFromInt(400),
	"LTC": decimal.NewFromInt(75),
	"XRP": decimal.NewFromFloat(0.6),
}

var priceFloor = decimal.NewFromFloat(0.01)

// Simulator random-walks a set of symbols on a fixed interval, publishing each
// step into the Board and to tick subscribers.
type Simulator struct {
	board    *Board
	symbols  []string
	interval time.Duration
	logger   *log.Logger
	rng      *rand.Rand

	mu          sync.Mutex
	current     map[string]decimal.Decimal
	subscribers map[uint64]chan Quote
	nextSubID   uint64
}

// NewSimulator seeds a simulator for the given symbols. A nil logger disables
// informational logging.
func NewSimulator(board *Board, symbols []string, interval time.Duration, logger *log.Logger) *Simulator {
	sim := &Simulator{
		board:       board,
		symbols:     append([]string(nil), symbols...),
		interval:    interval,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		current:     make(map[string]decimal.Decimal, len(symbols)),
		subscribers: make(map[uint64]chan Quote),
		nextSubID:   0,
	}
	now := time.Now().UTC()
	for _, symbol := range sim.symbols {
		price, ok := startingPrices[symbol]
		if !ok {
			price = decimal.NewFromInt(100)
		}
		sim.current[symbol] = price
		board.Put(Quote{Symbol: symbol, Price: price, At: now})
	}
	return sim
}

// Subscribe registers a tick listener. Slow listeners drop ticks rather than
// stalling the simulator. The returned cancel func must be called to release
// the channel.
func (s *Simulator) Subscribe() (<-chan Quote, func()) {
	ch := make(chan Quote, 64)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Run ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Printf("price simulator started: symbols=%d interval=%s", len(s.symbols), s.interval)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Printf("price simulator stopped")
			}
			return ctx.Err()
		case <-ticker.C:
			s.step(time.Now().UTC())
		}
	}
}

// step advances every symbol one random-walk increment. BTC moves in a wider
// band than the rest, and prices never fall below the floor.
func (s *Simulator) step(now time.Time) {
	s.mu.Lock()
	quotes := make([]Quote, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		band := 5.0
		if symbol == "BTC" {
			band = 50.0
		}
		drift := decimal.NewFromFloat((s.rng.Float64() - 0.5) * band)
		next := s.current[symbol].Add(drift)
		if next.LessThan(priceFloor) {
			next = priceFloor
		}
		s.current[symbol] = next
		quotes = append(quotes, Quote{Symbol: symbol, Price: next, At: now})
	}
	s.mu.Unlock()

	for _, quote := range quotes {
		s.board.Put(quote)
		s.publish(quote)
	}
}

func (s *Simulator) publish(quote Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- quote:
		default:
		}
	}
}
