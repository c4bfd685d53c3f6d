package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InvalidIntentError is returned when an order intent fails local validation.
// The intent never reaches the network.
type InvalidIntentError struct {
	Field  string
	Reason string
}

func (e *InvalidIntentError) Error() string {
	return "invalid intent [" + e.Field + "]: " + e.Reason
}

// SigningError is returned when a request cannot be signed (malformed
// credential or a payload that cannot be canonicalized). Fatal to the call.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return "signing [" + e.Op + "]: " + e.Err.Error()
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// APIError is a terminal rejection from the exchange. Carries the exchange
// error code and message. Never retried.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s msg=%s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) IsRetriable() bool {
	return false
}

// DataIntegrityError marks a fault in state the system trusted: a crossed
// book, a sequence gap, a fill beyond order size. The caller logs it loudly
// and resolves by resync, never by silent correction.
type DataIntegrityError struct {
	Kind   string // "crossed_book", "sequence_gap", "over_fill"
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return "data integrity fault [" + e.Kind + "]: " + e.Detail
}

var (
	// ErrAmbiguousOutcome is returned when a state-mutating call timed out and
	// the exchange may or may not have acted on it. Resolution belongs to the
	// reconciler, not to a blind retry.
	ErrAmbiguousOutcome = errors.New("ambiguous outcome: exchange state unknown")

	// ErrUnknownOrder is returned for operations on a client order id the
	// ledger has never seen.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInvalidState is returned when an operation is not legal for the
	// order's current state (e.g. canceling a filled order).
	ErrInvalidState = errors.New("invalid order state")

	// ErrNoLiquidity is returned by book queries when a side is empty.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrTerminalState is returned when a non-idempotent event is applied to
	// an order already in a terminal state.
	ErrTerminalState = errors.New("order in terminal state")

	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrMarketNotFound is returned when a market id resolves to nothing.
	ErrMarketNotFound = errors.New("market not found")
)
