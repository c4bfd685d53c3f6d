package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSnapshot is a full view of one token's bid/ask ladder at a sequence
// point. Bids are ordered descending by price, asks ascending.
type BookSnapshot struct {
	TokenID   string
	Seq       uint64
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// LevelChange is one level update within a delta. Size zero removes the
// level.
type LevelChange struct {
	Side  string // SideBuy updates bids, SideSell updates asks
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookDelta is an incremental book update: one feed sequence number covering
// one or more level changes applied atomically.
type BookDelta struct {
	TokenID string
	Seq     uint64
	Changes []LevelChange
	At      time.Time
}
