package domain

import "context"

// ExchangeWorker defines the interface for exchange WebSocket connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// EventStore persists the order event log. Append must be durable before the
// event is applied in memory; Load replays the full log on startup.
type EventStore interface {
	Append(ev OrderEvent) error
	Load() ([]OrderEvent, error)
}

// MarketCache persists discovered market metadata across sessions.
type MarketCache interface {
	SaveMarket(m *Market) error
	GetMarket(conditionID string) (*Market, error)
}
