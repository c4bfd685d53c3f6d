package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates order lifecycle events. An Order is the fold of its
// event history; nothing else mutates it.
type EventType string

const (
	EventSubmit EventType = "SUBMIT"
	EventAck    EventType = "ACK"
	EventFill   EventType = "FILL"
	EventCancel EventType = "CANCEL"
	EventReject EventType = "REJECT"
	EventExpire EventType = "EXPIRE"
	EventLost   EventType = "LOST"
)

// OrderEvent is one entry in the append-only order log. Only the fields
// relevant to its Type are set.
type OrderEvent struct {
	ClientOrderID string
	Type          EventType
	At            time.Time

	// EventSubmit
	Market     string
	TokenID    string
	Side       string
	TIF        string
	Price      decimal.Decimal
	Size       decimal.Decimal
	Expiration time.Time

	// EventAck
	ExchangeOrderID string

	// EventFill. TradeID deduplicates fills replayed by reconciliation.
	TradeID   string
	FillPrice decimal.Decimal
	FillSize  decimal.Decimal

	// EventReject / EventLost
	Reason string
}

// NewOrderFromSubmit builds the initial PENDING order from a submit event.
func NewOrderFromSubmit(ev OrderEvent) *Order {
	return &Order{
		ClientOrderID: ev.ClientOrderID,
		Market:        ev.Market,
		TokenID:       ev.TokenID,
		Side:          ev.Side,
		Price:         ev.Price,
		Size:          ev.Size,
		TIF:           ev.TIF,
		Expiration:    ev.Expiration,
		State:         StatePending,
		CreatedAt:     ev.At,
		UpdatedAt:     ev.At,
	}
}

// ApplyEvent folds a single event into the order. Events that would violate
// lifecycle invariants return an error and leave the order untouched:
// non-idempotent events after a terminal state, and fills beyond order size.
// Idempotent repeats (a duplicate ack with the same exchange id, a cancel on
// an already canceled order) are accepted as no-ops.
func ApplyEvent(o *Order, ev OrderEvent) error {
	switch ev.Type {
	case EventSubmit:
		// Replayed submit for an existing order is a duplicate, not a new order.
		return nil

	case EventAck:
		if o.IsTerminal() {
			if o.ExchangeOrderID == ev.ExchangeOrderID {
				return nil // idempotent repeat
			}
			return fmt.Errorf("ack %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		if o.ExchangeOrderID != "" {
			if o.ExchangeOrderID == ev.ExchangeOrderID {
				return nil // duplicate ack coalesces
			}
			return &DataIntegrityError{
				Kind:   "ack_conflict",
				Detail: fmt.Sprintf("order %s acked as %s and %s", o.ClientOrderID, o.ExchangeOrderID, ev.ExchangeOrderID),
			}
		}
		o.ExchangeOrderID = ev.ExchangeOrderID
		if o.State == StatePending {
			o.State = StateOpen
		}

	case EventFill:
		if o.IsTerminal() && o.State != StateFilled {
			return fmt.Errorf("fill %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		newFilled := o.FilledSize.Add(ev.FillSize)
		if newFilled.GreaterThan(o.Size) {
			return &DataIntegrityError{
				Kind: "over_fill",
				Detail: fmt.Sprintf("order %s filled %s of %s, rejected fill of %s",
					o.ClientOrderID, o.FilledSize, o.Size, ev.FillSize),
			}
		}
		if o.State == StateFilled {
			// Already complete; a further fill would push beyond size and is
			// caught above, anything else is a replay of a known fill.
			return fmt.Errorf("fill %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		// Volume-weighted average entry across fills.
		notional := o.AvgFillPrice.Mul(o.FilledSize).Add(ev.FillPrice.Mul(ev.FillSize))
		o.FilledSize = newFilled
		if o.FilledSize.IsPositive() {
			o.AvgFillPrice = notional.Div(o.FilledSize)
		}
		if o.FilledSize.Equal(o.Size) {
			o.State = StateFilled
		} else {
			o.State = StatePartiallyFilled
		}

	case EventCancel:
		if o.State == StateCanceled {
			return nil
		}
		if o.IsTerminal() {
			return fmt.Errorf("cancel %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		o.State = StateCanceled

	case EventReject:
		if o.State == StateRejected {
			return nil
		}
		if o.IsTerminal() {
			return fmt.Errorf("reject %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		o.State = StateRejected

	case EventExpire:
		if o.State == StateExpired {
			return nil
		}
		if o.IsTerminal() {
			return fmt.Errorf("expire %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		o.State = StateExpired

	case EventLost:
		if o.State == StateLost {
			return nil
		}
		if o.IsTerminal() {
			return fmt.Errorf("lost %s: %w", o.ClientOrderID, ErrTerminalState)
		}
		o.State = StateLost

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	o.UpdatedAt = ev.At
	return nil
}
