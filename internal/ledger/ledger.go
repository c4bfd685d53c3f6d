package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
	"polytrader/internal/infra"
)

// Ledger is the authoritative local record of every order this client has
// submitted: an append-only event log whose fold is the current order state.
// Events are made durable before they are applied in memory, so a crash
// between a submission and its ack still leaves a traceable PENDING order
// for the reconciler to resolve on restart.
//
// One mutex serializes event application. It is held around the in-memory
// fold and the local disk append, never around a network call.
type Ledger struct {
	mu     sync.RWMutex
	store  domain.EventStore
	orders map[string]*record
	byExch map[string]string // exchange order id -> client order id
	tape   []fill
	logger *slog.Logger
}

// record tracks one order plus its fill dedup set.
type record struct {
	order *domain.Order
	seen  map[string]struct{} // applied trade ids
}

// fill is one entry on the ledger-wide fill tape, kept in log order so
// position math replays deterministically.
type fill struct {
	market  string
	tokenID string
	side    string
	price   decimal.Decimal
	size    decimal.Decimal
}

// New builds a ledger on the given store and replays its event log.
func New(store domain.EventStore) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		orders: make(map[string]*record),
		byExch: make(map[string]string),
		logger: slog.Default().With("module", "ledger"),
	}

	events, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("replay event log: %w", err)
	}
	for _, ev := range events {
		if err := l.fold(ev); err != nil {
			// A bad historical event means the log and the fold disagree;
			// surface it loudly instead of trading on corrupt state.
			return nil, fmt.Errorf("replay %s/%s: %w", ev.ClientOrderID, ev.Type, err)
		}
	}
	l.logger.Info("ledger replayed", slog.Int("events", len(events)), slog.Int("orders", len(l.orders)))
	return l, nil
}

// Append validates, persists, and applies one event. Duplicate events
// (a fill with an already-applied trade id, a repeated ack) coalesce to
// no-ops without touching the store.
func (l *Ledger) Append(ev domain.OrderEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dup, err := l.check(ev)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	// Durable before visible.
	if err := l.store.Append(ev); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}
	if err := l.fold(ev); err != nil {
		// check() accepted it; a fold failure here is a bug.
		return fmt.Errorf("fold after persist: %w", err)
	}

	if ev.Type == domain.EventFill {
		infra.GlobalMetrics.RecordFill()
	}
	return nil
}

// check dry-runs an event against current state. Returns dup=true when the
// event is an idempotent repeat that should be silently dropped.
func (l *Ledger) check(ev domain.OrderEvent) (dup bool, err error) {
	rec, exists := l.orders[ev.ClientOrderID]

	if ev.Type == domain.EventSubmit {
		if exists {
			return true, nil // same client order id never yields two orders
		}
		return false, nil
	}

	if !exists {
		return false, fmt.Errorf("%s for %s: %w", ev.Type, ev.ClientOrderID, domain.ErrUnknownOrder)
	}

	// Idempotent repeats are dropped without re-logging.
	switch ev.Type {
	case domain.EventAck:
		if rec.order.ExchangeOrderID != "" && rec.order.ExchangeOrderID == ev.ExchangeOrderID {
			return true, nil
		}
	case domain.EventFill:
		if ev.TradeID != "" {
			if _, ok := rec.seen[ev.TradeID]; ok {
				return true, nil
			}
		}
	case domain.EventCancel:
		if rec.order.State == domain.StateCanceled {
			return true, nil
		}
	case domain.EventReject:
		if rec.order.State == domain.StateRejected {
			return true, nil
		}
	case domain.EventExpire:
		if rec.order.State == domain.StateExpired {
			return true, nil
		}
	case domain.EventLost:
		if rec.order.State == domain.StateLost {
			return true, nil
		}
	}

	// Fold onto a copy so invariant violations leave state untouched.
	probe := *rec.order
	if err := domain.ApplyEvent(&probe, ev); err != nil {
		return false, err
	}
	return false, nil
}

// fold applies one event to in-memory state. Caller holds the lock.
func (l *Ledger) fold(ev domain.OrderEvent) error {
	if ev.Type == domain.EventSubmit {
		if _, exists := l.orders[ev.ClientOrderID]; exists {
			return nil
		}
		l.orders[ev.ClientOrderID] = &record{
			order: domain.NewOrderFromSubmit(ev),
			seen:  make(map[string]struct{}),
		}
		return nil
	}

	rec, exists := l.orders[ev.ClientOrderID]
	if !exists {
		return fmt.Errorf("%s: %w", ev.ClientOrderID, domain.ErrUnknownOrder)
	}

	if ev.Type == domain.EventFill && ev.TradeID != "" {
		if _, ok := rec.seen[ev.TradeID]; ok {
			return nil
		}
	}

	if err := domain.ApplyEvent(rec.order, ev); err != nil {
		return err
	}

	switch ev.Type {
	case domain.EventAck:
		l.byExch[ev.ExchangeOrderID] = ev.ClientOrderID
	case domain.EventFill:
		if ev.TradeID != "" {
			rec.seen[ev.TradeID] = struct{}{}
		}
		l.tape = append(l.tape, fill{
			market:  rec.order.Market,
			tokenID: rec.order.TokenID,
			side:    rec.order.Side,
			price:   ev.FillPrice,
			size:    ev.FillSize,
		})
	}
	return nil
}

// Get returns a copy of the order for a client order id.
func (l *Ledger) Get(clientOrderID string) (domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.orders[clientOrderID]
	if !ok {
		return domain.Order{}, false
	}
	return *rec.order, true
}

// GetByExchangeID resolves an exchange order id to a copy of the order.
func (l *Ledger) GetByExchangeID(exchangeOrderID string) (domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cid, ok := l.byExch[exchangeOrderID]
	if !ok {
		return domain.Order{}, false
	}
	rec, ok := l.orders[cid]
	if !ok {
		return domain.Order{}, false
	}
	return *rec.order, true
}

// HasFill reports whether a trade id has already been applied.
func (l *Ledger) HasFill(clientOrderID, tradeID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.orders[clientOrderID]
	if !ok {
		return false
	}
	_, seen := rec.seen[tradeID]
	return seen
}

// OpenOrders returns copies of every non-terminal order, PENDING included.
func (l *Ledger) OpenOrders() []domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Order
	for _, rec := range l.orders {
		if !rec.order.IsTerminal() {
			out = append(out, *rec.order)
		}
	}
	return out
}

// Position derives net exposure for one token from the ledger's fill tape.
// Read-only; never triggers a network call.
func (l *Ledger) Position(market, tokenID, outcome string) domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos := domain.Position{Market: market, TokenID: tokenID, Outcome: outcome}
	for _, f := range l.tape {
		if f.tokenID != tokenID {
			continue
		}
		pos.ApplyFill(f.side, f.price, f.size)
	}
	return pos
}
