package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
)

type memStore struct {
	events  []domain.OrderEvent
	failing bool
}

func (m *memStore) Append(ev domain.OrderEvent) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) Load() ([]domain.OrderEvent, error) {
	return m.events, nil
}

func submitEvent(id string) domain.OrderEvent {
	return domain.OrderEvent{
		ClientOrderID: id,
		Type:          domain.EventSubmit,
		At:            time.Now(),
		Market:        "0xcond",
		TokenID:       "tok-yes",
		Side:          domain.SideBuy,
		TIF:           domain.TifGTC,
		Price:         decimal.RequireFromString("0.42"),
		Size:          decimal.RequireFromString("100"),
	}
}

func TestLedgerLifecycle(t *testing.T) {
	store := &memStore{}
	l, err := New(store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.Append(submitEvent("c1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := l.Append(domain.OrderEvent{ClientOrderID: "c1", Type: domain.EventAck, ExchangeOrderID: "x1", At: time.Now()}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	o, ok := l.Get("c1")
	if !ok {
		t.Fatal("order not found")
	}
	if o.State != domain.StateOpen {
		t.Errorf("state = %s, want OPEN", o.State)
	}
	if o.ExchangeOrderID != "x1" {
		t.Errorf("exchange id = %q, want x1", o.ExchangeOrderID)
	}

	if _, ok := l.GetByExchangeID("x1"); !ok {
		t.Error("lookup by exchange id failed")
	}
	if len(store.events) != 2 {
		t.Errorf("persisted %d events, want 2", len(store.events))
	}
}

func TestLedgerDuplicateSubmitCoalesces(t *testing.T) {
	l, _ := New(&memStore{})

	if err := l.Append(submitEvent("c1")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := l.Append(submitEvent("c1")); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if got := len(l.OpenOrders()); got != 1 {
		t.Errorf("open orders = %d, want 1", got)
	}
}

func TestLedgerFillDedupByTradeID(t *testing.T) {
	store := &memStore{}
	l, _ := New(store)
	l.Append(submitEvent("c1"))
	l.Append(domain.OrderEvent{ClientOrderID: "c1", Type: domain.EventAck, ExchangeOrderID: "x1", At: time.Now()})

	f := domain.OrderEvent{
		ClientOrderID: "c1",
		Type:          domain.EventFill,
		TradeID:       "t1",
		FillPrice:     decimal.RequireFromString("0.42"),
		FillSize:      decimal.RequireFromString("40"),
		At:            time.Now(),
	}
	if err := l.Append(f); err != nil {
		t.Fatalf("fill: %v", err)
	}
	before := len(store.events)
	if err := l.Append(f); err != nil {
		t.Fatalf("replayed fill: %v", err)
	}
	if len(store.events) != before {
		t.Error("replayed fill was persisted again")
	}

	o, _ := l.Get("c1")
	if !o.FilledSize.Equal(decimal.RequireFromString("40")) {
		t.Errorf("filled = %s, want 40", o.FilledSize)
	}
	if !l.HasFill("c1", "t1") {
		t.Error("HasFill(t1) = false")
	}
	if l.HasFill("c1", "t2") {
		t.Error("HasFill(t2) = true")
	}
}

func TestLedgerPersistBeforeApply(t *testing.T) {
	store := &memStore{}
	l, _ := New(store)
	l.Append(submitEvent("c1"))

	store.failing = true
	err := l.Append(domain.OrderEvent{ClientOrderID: "c1", Type: domain.EventAck, ExchangeOrderID: "x1", At: time.Now()})
	if err == nil {
		t.Fatal("expected persist error")
	}

	o, _ := l.Get("c1")
	if o.State != domain.StatePending {
		t.Errorf("state mutated to %s despite persist failure", o.State)
	}
}

func TestLedgerReplayRebuildsState(t *testing.T) {
	store := &memStore{}
	l, _ := New(store)
	l.Append(submitEvent("c1"))
	l.Append(domain.OrderEvent{ClientOrderID: "c1", Type: domain.EventAck, ExchangeOrderID: "x1", At: time.Now()})
	l.Append(domain.OrderEvent{
		ClientOrderID: "c1", Type: domain.EventFill, TradeID: "t1",
		FillPrice: decimal.RequireFromString("0.42"), FillSize: decimal.RequireFromString("100"), At: time.Now(),
	})

	l2, err := New(store)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	o, ok := l2.Get("c1")
	if !ok {
		t.Fatal("order lost across replay")
	}
	if o.State != domain.StateFilled {
		t.Errorf("replayed state = %s, want FILLED", o.State)
	}
	if got := len(l2.OpenOrders()); got != 0 {
		t.Errorf("open orders after fill = %d, want 0", got)
	}
	// Dedup set must survive replay too.
	if !l2.HasFill("c1", "t1") {
		t.Error("fill dedup set not rebuilt on replay")
	}
}

func TestLedgerUnknownOrderEvent(t *testing.T) {
	l, _ := New(&memStore{})
	err := l.Append(domain.OrderEvent{ClientOrderID: "ghost", Type: domain.EventFill, FillSize: decimal.NewFromInt(1), At: time.Now()})
	if !errors.Is(err, domain.ErrUnknownOrder) {
		t.Errorf("err = %v, want ErrUnknownOrder", err)
	}
}

func TestLedgerOverFillNotPersisted(t *testing.T) {
	store := &memStore{}
	l, _ := New(store)
	l.Append(submitEvent("c1"))
	l.Append(domain.OrderEvent{ClientOrderID: "c1", Type: domain.EventAck, ExchangeOrderID: "x1", At: time.Now()})
	before := len(store.events)

	err := l.Append(domain.OrderEvent{
		ClientOrderID: "c1", Type: domain.EventFill, TradeID: "t1",
		FillPrice: decimal.RequireFromString("0.42"), FillSize: decimal.RequireFromString("150"), At: time.Now(),
	})
	var integrity *domain.DataIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want DataIntegrityError", err)
	}
	if integrity.Kind != "over_fill" {
		t.Errorf("kind = %s, want over_fill", integrity.Kind)
	}
	if len(store.events) != before {
		t.Error("invalid event reached the store")
	}
}

func TestLedgerPosition(t *testing.T) {
	l, _ := New(&memStore{})

	buy := submitEvent("c1")
	l.Append(buy)
	l.Append(domain.OrderEvent{ClientOrderID: "c1", Type: domain.EventAck, ExchangeOrderID: "x1", At: time.Now()})
	l.Append(domain.OrderEvent{
		ClientOrderID: "c1", Type: domain.EventFill, TradeID: "t1",
		FillPrice: decimal.RequireFromString("0.40"), FillSize: decimal.RequireFromString("60"), At: time.Now(),
	})

	sell := submitEvent("c2")
	sell.Side = domain.SideSell
	l.Append(sell)
	l.Append(domain.OrderEvent{ClientOrderID: "c2", Type: domain.EventAck, ExchangeOrderID: "x2", At: time.Now()})
	l.Append(domain.OrderEvent{
		ClientOrderID: "c2", Type: domain.EventFill, TradeID: "t2",
		FillPrice: decimal.RequireFromString("0.50"), FillSize: decimal.RequireFromString("20"), At: time.Now(),
	})

	pos := l.Position("0xcond", "tok-yes", "Yes")
	if !pos.NetSize.Equal(decimal.RequireFromString("40")) {
		t.Errorf("net = %s, want 40", pos.NetSize)
	}
	if !pos.AvgEntryPrice.Equal(decimal.RequireFromString("0.40")) {
		t.Errorf("avg entry = %s, want 0.40 (reducing fills keep basis)", pos.AvgEntryPrice)
	}
}
