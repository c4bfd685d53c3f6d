package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeOrder is the exchange's view of one of our orders, as reported by
// the open-orders endpoint. Input to reconciliation; the exchange is
// authoritative for everything here.
type ExchangeOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	TokenID         string
	Market          string
	Side            string
	Price           decimal.Decimal
	OriginalSize    decimal.Decimal
	SizeMatched     decimal.Decimal
	Status          string // "live", "matched", "delayed", "unmatched", "canceled"
	CreatedAt       time.Time
}

// ExchangeFill is one matched trade from the fill-history endpoint.
type ExchangeFill struct {
	TradeID       string
	OrderID       string // exchange order id of our side
	ClientOrderID string
	TokenID       string
	Market        string
	Side          string
	Price         decimal.Decimal
	Size          decimal.Decimal
	FeeRateBps    decimal.Decimal
	MatchedAt     time.Time
}
