package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides and lifecycle states.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	// Time-in-force variants accepted by the CLOB.
	TifGTC = "GTC" // good till canceled
	TifGTD = "GTD" // good till date (requires Expiration)
	TifFOK = "FOK" // fill or kill
	TifFAK = "FAK" // fill and kill (immediate or cancel)

	StatePending         = "PENDING"          // submitted locally, no exchange ack yet
	StateOpen            = "OPEN"             // acked by the exchange
	StatePartiallyFilled = "PARTIALLY_FILLED" // acked, some size matched
	StateFilled          = "FILLED"           // terminal
	StateCanceled        = "CANCELED"         // terminal
	StateRejected        = "REJECTED"         // terminal
	StateExpired         = "EXPIRED"          // terminal
	StateLost            = "LOST"             // terminal, diagnostic: reconciler could not establish truth
)

// OrderIntent is what a caller asks for. Validated against the market's tick
// size and minimum order size before anything touches the network.
type OrderIntent struct {
	Market     string          // condition id
	TokenID    string          // outcome token the order trades
	Side       string          // SideBuy or SideSell
	Price      decimal.Decimal // limit price, 0 < price < 1
	Size       decimal.Decimal // shares
	TIF        string          // defaults to TifGTC
	Expiration time.Time       // required for TifGTD, zero otherwise
}

// Order is the ledger's view of one submission. It is owned exclusively by
// the ledger: state changes only through event application, never by direct
// mutation, and never to a terminal state without exchange confirmation
// (REJECTED on local validation failure being the one exception).
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string // empty until the exchange acks
	Market          string
	TokenID         string
	Side            string
	Price           decimal.Decimal
	Size            decimal.Decimal
	FilledSize      decimal.Decimal
	AvgFillPrice    decimal.Decimal
	State           string
	TIF             string
	Expiration      time.Time // set for TifGTD only
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen checks if the order is still active on the exchange.
func (o *Order) IsOpen() bool {
	return o.State == StateOpen || o.State == StatePartiallyFilled
}

// IsTerminal reports whether the order can accept no further lifecycle events.
func (o *Order) IsTerminal() bool {
	switch o.State {
	case StateFilled, StateCanceled, StateRejected, StateExpired, StateLost:
		return true
	}
	return false
}

// Remaining returns the unfilled portion of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}
