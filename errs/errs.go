// Package errs provides structured error types and helpers for CryptoX services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a settlement-specific error category.
type Code string

const (
	// CodeInsufficientFunds indicates the wallet balance cannot cover the operation.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeInvalidPair indicates an unsupported or malformed symbol pair.
	CodeInvalidPair Code = "invalid_pair"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodePriceUnavailable indicates the oracle has no quote for the asset.
	CodePriceUnavailable Code = "price_unavailable"
	// CodeSlippage indicates the quoted receive amount fell below the guard threshold.
	CodeSlippage Code = "slippage_exceeded"
	// CodeDuplicateEvent indicates a payment event was already settled. A successful no-op.
	CodeDuplicateEvent Code = "duplicate_event"
	// CodeThrottled indicates the caller exceeded the order rate limit.
	CodeThrottled Code = "throttled"
	// CodeStorage indicates the storage layer is unavailable; safe to retry.
	CodeStorage Code = "storage_unavailable"
)

// E captures structured error information produced across the CryptoX stack.
type E struct {
	Op      string
	Code    Code
	HTTP    int
	Symbol  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		HTTP:    0,
		Symbol:  "",
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithSymbol records the asset symbol the failure relates to.
func WithSymbol(symbol string) Option {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	return func(e *E) {
		e.Symbol = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Symbol != "" {
		parts = append(parts, "symbol="+e.Symbol)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target shares this envelope's code, making envelopes
// comparable with errors.Is against sentinels built by NewSentinel.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// NewSentinel returns a bare envelope usable as an errors.Is target.
func NewSentinel(code Code) *E {
	return &E{Op: "", Code: code, HTTP: 0, Symbol: "", Message: "", cause: nil}
}

// CodeOf extracts the settlement error code from err, unwrapping as needed,
// or "" when err carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// Codes returns the canonical sorted list of error codes.
func Codes() []string {
	codes := []string{
		string(CodeDuplicateEvent),
		string(CodeInsufficientFunds),
		string(CodeInvalid),
		string(CodeInvalidPair),
		string(CodePriceUnavailable),
		string(CodeSlippage),
		string(CodeStorage),
		string(CodeThrottled),
	}
	sort.Strings(codes)
	return codes
}
