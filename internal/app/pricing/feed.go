package pricing

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const feedMaxReconnectInterval = time.Minute

// feedQuote is the wire shape served by the external price feed.
type feedQuote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Feed periodically pulls quotes from an external HTTP endpoint into the
// Board, retrying transient failures with exponential backoff. It overrides
// whatever the simulator last wrote, so operators can point the service at a
// real market data source.
type Feed struct {
	board    *Board
	url      string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger
}

// NewFeed configures a feed poller. A nil logger disables informational
// logging.
func NewFeed(board *Board, url string, interval, timeout time.Duration, logger *log.Logger) *Feed {
	return &Feed{
		board:    board,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. Consecutive failures widen the retry
// interval; a successful pull resets it.
func (f *Feed) Run(ctx context.Context) error {
	if f.logger != nil {
		f.logger.Printf("price feed started: url=%s interval=%s", f.url, f.interval)
	}
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		wait := f.interval
		if err := f.pull(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if f.logger != nil {
				f.logger.Printf("price feed pull: %v", err)
			}
			wait = backoffCfg.NextBackOff()
			if wait == backoff.Stop {
				wait = feedMaxReconnectInterval
			}
		} else {
			backoffCfg.Reset()
		}

		select {
		case <-ctx.Done():
			if f.logger != nil {
				f.logger.Printf("price feed stopped")
			}
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (f *Feed) pull(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var quotes []feedQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return fmt.Errorf("decode feed payload: %w", err)
	}

	now := time.Now().UTC()
	accepted := 0
	for _, raw := range quotes {
		price, perr := decimal.NewFromString(raw.Price)
		if perr != nil || !price.IsPositive() {
			continue
		}
		f.board.Put(Quote{Symbol: raw.Symbol, Price: price, At: now})
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf("feed payload carried no usable quotes")
	}
	return nil
}
