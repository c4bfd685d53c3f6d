package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is one outcome leg of a binary market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"` // "Yes" / "No"
}

// Market holds the metadata needed to validate and route orders for one
// condition. Immutable after discovery; cached for the session.
type Market struct {
	ConditionID string          `json:"condition_id"`
	Question    string          `json:"question"`
	Tokens      []Token         `json:"tokens"` // two complementary outcome tokens
	TickSize    decimal.Decimal `json:"tick_size"`
	MinSize     decimal.Decimal `json:"min_size"`
	NegRisk     bool            `json:"neg_risk"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// HasToken reports whether tokenID is one of the market's outcome tokens.
func (m *Market) HasToken(tokenID string) bool {
	for _, t := range m.Tokens {
		if t.TokenID == tokenID {
			return true
		}
	}
	return false
}

// Outcome returns the outcome label for a token id, or "" if unknown.
func (m *Market) Outcome(tokenID string) string {
	for _, t := range m.Tokens {
		if t.TokenID == tokenID {
			return t.Outcome
		}
	}
	return ""
}

// ValidateIntent checks an order intent against this market's rules. Returns
// an *InvalidIntentError on the first violation; a valid intent returns nil.
func (m *Market) ValidateIntent(intent OrderIntent) error {
	if intent.TokenID == "" || !m.HasToken(intent.TokenID) {
		return &InvalidIntentError{Field: "token_id", Reason: "token does not belong to market " + m.ConditionID}
	}
	if intent.Side != SideBuy && intent.Side != SideSell {
		return &InvalidIntentError{Field: "side", Reason: "must be BUY or SELL"}
	}
	switch intent.TIF {
	case "", TifGTC, TifFOK, TifFAK:
	case TifGTD:
		if intent.Expiration.IsZero() {
			return &InvalidIntentError{Field: "expiration", Reason: "GTD order requires an expiration"}
		}
	default:
		return &InvalidIntentError{Field: "tif", Reason: "unsupported time-in-force " + intent.TIF}
	}
	// Outcome share prices live strictly inside (0, 1).
	if !intent.Price.IsPositive() || intent.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &InvalidIntentError{Field: "price", Reason: "price must be within (0, 1)"}
	}
	if m.TickSize.IsPositive() && !intent.Price.Mod(m.TickSize).IsZero() {
		return &InvalidIntentError{Field: "price", Reason: "price " + intent.Price.String() + " is not a multiple of tick size " + m.TickSize.String()}
	}
	if !intent.Size.IsPositive() {
		return &InvalidIntentError{Field: "size", Reason: "size must be positive"}
	}
	if intent.Size.LessThan(m.MinSize) {
		return &InvalidIntentError{Field: "size", Reason: "size " + intent.Size.String() + " below market minimum " + m.MinSize.String()}
	}
	return nil
}
