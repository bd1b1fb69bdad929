// Package payments is the boundary for inbound payment-provider events. It
// verifies webhook signatures, extracts settlement parameters from event
// metadata, and hands verified confirmations to the settlement engine.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/errs"
	"github.com/cryptoxhq/cryptox/internal/app/settlement"
)

// eventPaymentSucceeded is the only provider event class that triggers a
// credit; everything else is acknowledged and dropped.
const eventPaymentSucceeded = "payment_intent.succeeded"

// Event is the provider's webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object PaymentIntent `json:"object"`
	} `json:"data"`
}

// PaymentIntent is the provider's payment object. AmountCents is the charge
// in the smallest currency unit; Metadata carries the values this service
// attached when creating the intent.
type PaymentIntent struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	AmountCents int64             `json:"amount"`
	Metadata    map[string]string `json:"metadata"`
}

// Ack is the response body returned to the provider.
type Ack struct {
	Received    bool   `json:"received"`
	Fulfillment string `json:"fulfillment,omitempty"`
}

// Gateway verifies and settles provider webhook deliveries.
type Gateway struct {
	engine *settlement.Engine
	secret []byte
	skew   time.Duration
	logger *log.Logger
	now    func() time.Time
}

// NewGateway wires a webhook gateway. skew bounds how stale a signed
// timestamp may be; zero disables the staleness check.
func NewGateway(engine *settlement.Engine, secret string, skew time.Duration, logger *log.Logger) *Gateway {
	return &Gateway{
		engine: engine,
		secret: []byte(secret),
		skew:   skew,
		logger: logger,
		now:    time.Now,
	}
}

// HandleEvent verifies the signature, parses the event, and settles a
// succeeded payment. The returned error is reserved for cases the provider
// should retry (bad signature, transient storage or pricing failure);
// non-transient fulfillment failures are acknowledged with an error marker so
// redelivery storms never build up.
func (g *Gateway) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (Ack, error) {
	const op = "payments.HandleEvent"

	if err := g.VerifySignature(payload, signatureHeader); err != nil {
		return Ack{}, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Ack{}, errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("malformed event payload"), errs.WithCause(err))
	}

	if event.Type != eventPaymentSucceeded || event.Data.Object.Status != "succeeded" {
		return Ack{Received: true, Fulfillment: ""}, nil
	}

	req, err := g.extract(event.Data.Object)
	if err != nil {
		if g.logger != nil {
			g.logger.Printf("webhook fulfillment rejected: event=%s: %v", event.Data.Object.ID, err)
		}
		return Ack{Received: true, Fulfillment: "error"}, nil
	}

	if _, err := g.engine.FulfillPaymentEvent(ctx, req); err != nil {
		if transient(err) {
			return Ack{}, err
		}
		if g.logger != nil {
			g.logger.Printf("webhook fulfillment failed: event=%s: %v", req.EventID, err)
		}
		return Ack{Received: true, Fulfillment: "error"}, nil
	}
	return Ack{Received: true, Fulfillment: ""}, nil
}

// VerifySignature checks the provider signature header, formatted as
// "t=<unix>,v1=<hex hmac>" where the MAC covers "<unix>.<payload>".
func (g *Gateway) VerifySignature(payload []byte, header string) error {
	const op = "payments.VerifySignature"

	if len(g.secret) == 0 {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusInternalServerError),
			errs.WithMessage("webhook secret not configured"))
	}

	timestamp, signatures := parseSignatureHeader(header)
	if timestamp == "" || len(signatures) == 0 {
		return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
			errs.WithMessage("missing or malformed signature header"))
	}

	if g.skew > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
				errs.WithMessage("invalid signature timestamp"))
		}
		age := g.now().Sub(time.Unix(unix, 0))
		if age > g.skew || age < -g.skew {
			return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
				errs.WithMessage("signature timestamp outside tolerance"))
		}
	}

	expected := computeSignature(g.secret, timestamp, payload)
	for _, candidate := range signatures {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return errs.New(op, errs.CodeInvalid, errs.WithHTTP(http.StatusBadRequest),
		errs.WithMessage("signature mismatch"))
}

// extract pulls the settlement parameters from intent metadata, falling back
// to the charged amount when the metadata omits the USD value.
func (g *Gateway) extract(intent PaymentIntent) (settlement.PaymentEventRequest, error) {
	meta := intent.Metadata

	userID, err := strconv.ParseInt(strings.TrimSpace(meta["userId"]), 10, 64)
	if err != nil || userID <= 0 {
		return settlement.PaymentEventRequest{}, fmt.Errorf("metadata userId missing or invalid")
	}

	symbol := strings.ToUpper(strings.TrimSpace(meta["coin"]))
	if symbol == "" {
		symbol = "BTC-USD"
	}

	amountUSD := decimal.Zero
	if raw := strings.TrimSpace(meta["amountUsd"]); raw != "" {
		amountUSD, err = decimal.NewFromString(raw)
		if err != nil {
			return settlement.PaymentEventRequest{}, fmt.Errorf("metadata amountUsd invalid: %w", err)
		}
	} else if intent.AmountCents > 0 {
		amountUSD = decimal.New(intent.AmountCents, -2)
	}
	if !amountUSD.IsPositive() {
		return settlement.PaymentEventRequest{}, fmt.Errorf("usd amount missing or non-positive")
	}

	return settlement.PaymentEventRequest{
		EventID:      intent.ID,
		UserID:       userID,
		TargetSymbol: symbol,
		AmountUSD:    amountUSD,
	}, nil
}

// transient reports whether the provider should redeliver the event.
func transient(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeStorage, errs.CodePriceUnavailable:
		return true
	default:
		return false
	}
}

func parseSignatureHeader(header string) (timestamp string, signatures []string) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}

func computeSignature(secret []byte, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
