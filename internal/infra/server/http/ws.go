package httpserver

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/cryptoxhq/cryptox/internal/app/pricing"
)

// tickMessage is the wire format pushed to websocket subscribers on every
// price step. Prices are rounded to cents for display.
type tickMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// streamTicks upgrades the connection, replays the current board snapshot,
// then forwards live ticks until the client goes away.
func (s *httpServer) streamTicks(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("websocket accept: %v", err)
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")

	ctx := r.Context()

	// Reads are discarded; a read error means the peer is gone.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				cancelRead()
				return
			}
		}
	}()

	for _, quote := range s.board.Snapshot() {
		if err := writeTick(ctx, conn, quote); err != nil {
			return
		}
	}

	ticks, cancel := s.ticks.Subscribe()
	defer cancel()

	for {
		select {
		case <-readCtx.Done():
			return
		case quote, ok := <-ticks:
			if !ok {
				return
			}
			if err := writeTick(ctx, conn, quote); err != nil {
				return
			}
		}
	}
}

func writeTick(ctx context.Context, conn *websocket.Conn, quote pricing.Quote) error {
	payload, err := json.Marshal(tickMessage{
		Type:   "tick",
		Symbol: quote.Symbol,
		Price:  quote.Price.Round(2).InexactFloat64(),
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
