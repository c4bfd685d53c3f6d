package feed

import (
	"time"

	"polytrader/internal/domain"
)

// Type discriminates events on the market data feed.
type Type int

const (
	// TypeSnapshot carries a full book for one token.
	TypeSnapshot Type = iota + 1
	// TypeDelta carries the level changes of one sequence step.
	TypeDelta
	// TypeResync signals that stream continuity was lost (fresh connection,
	// reconnect) and the consumer must take a new REST snapshot before
	// trusting further deltas.
	TypeResync
)

// Event is a single message from the streaming feed, normalized for the book
// keeper.
type Event struct {
	Type    Type
	TokenID string
	Seq     uint64
	At      time.Time

	// TypeSnapshot
	Bids []domain.PriceLevel
	Asks []domain.PriceLevel

	// TypeDelta: level changes sharing this event's sequence number.
	Changes []domain.LevelChange
}
