package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
	"polytrader/internal/ledger"
)

func submitToLedger(t *testing.T, led *ledger.Ledger, clientID string, createdAt time.Time) {
	t.Helper()
	err := led.Append(domain.OrderEvent{
		ClientOrderID: clientID,
		Type:          domain.EventSubmit,
		At:            createdAt,
		Market:        "0xcond",
		TokenID:       "tok-yes",
		Side:          domain.SideBuy,
		TIF:           domain.TifGTC,
		Price:         decimal.RequireFromString("0.42"),
		Size:          decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func ackToLedger(t *testing.T, led *ledger.Ledger, clientID, exchID string) {
	t.Helper()
	err := led.Append(domain.OrderEvent{
		ClientOrderID:   clientID,
		Type:            domain.EventAck,
		At:              time.Now(),
		ExchangeOrderID: exchID,
	})
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestReconcilerRecoversPendingFromFills(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	submitToLedger(t, led, "c1", time.Now())

	// The place call timed out but the order actually matched in full.
	transport := &fakeTransport{
		trades: []domain.ExchangeFill{{
			TradeID:       "t1",
			OrderID:       "x1",
			ClientOrderID: "c1",
			Price:         decimal.RequireFromString("0.42"),
			Size:          decimal.RequireFromString("100"),
			MatchedAt:     time.Now(),
		}},
	}
	r := NewReconciler(transport, led, time.Minute, time.Minute)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	o, _ := led.Get("c1")
	if o.State != domain.StateFilled {
		t.Errorf("state = %s, want FILLED", o.State)
	}
	if o.ExchangeOrderID != "x1" {
		t.Errorf("exchange id = %q, want x1 recovered from fill", o.ExchangeOrderID)
	}
}

func TestReconcilerAppliesMissedFillOnce(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	submitToLedger(t, led, "c1", time.Now())
	ackToLedger(t, led, "c1", "x1")

	transport := &fakeTransport{
		openOrders: []domain.ExchangeOrder{{ExchangeOrderID: "x1", ClientOrderID: "c1", Status: "live"}},
		trades: []domain.ExchangeFill{{
			TradeID:       "t1",
			OrderID:       "x1",
			ClientOrderID: "c1",
			Price:         decimal.RequireFromString("0.42"),
			Size:          decimal.RequireFromString("40"),
			MatchedAt:     time.Now(),
		}},
	}
	r := NewReconciler(transport, led, time.Minute, time.Minute)

	// Two passes over the same history must apply the fill exactly once.
	for i := 0; i < 2; i++ {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	o, _ := led.Get("c1")
	if o.State != domain.StatePartiallyFilled {
		t.Errorf("state = %s, want PARTIALLY_FILLED", o.State)
	}
	if !o.FilledSize.Equal(decimal.RequireFromString("40")) {
		t.Errorf("filled = %s, want 40", o.FilledSize)
	}
}

func TestReconcilerClosesDepartedOrder(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	submitToLedger(t, led, "c1", time.Now())
	ackToLedger(t, led, "c1", "x1")

	// Exchange no longer lists x1 and reports no fills: canceled out of band.
	transport := &fakeTransport{}
	r := NewReconciler(transport, led, time.Minute, time.Minute)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	o, _ := led.Get("c1")
	if o.State != domain.StateCanceled {
		t.Errorf("state = %s, want CANCELED", o.State)
	}
}

func TestReconcilerGraceWindow(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	submitToLedger(t, led, "young", time.Now())
	submitToLedger(t, led, "stale", time.Now().Add(-time.Hour))

	transport := &fakeTransport{}
	r := NewReconciler(transport, led, time.Minute, 30*time.Second)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	young, _ := led.Get("young")
	if young.State != domain.StatePending {
		t.Errorf("young order resolved to %s inside grace window", young.State)
	}
	stale, _ := led.Get("stale")
	if stale.State != domain.StateRejected {
		t.Errorf("stale order = %s, want REJECTED", stale.State)
	}
}

func TestReconcilerRecoversAckFromOpenOrders(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	submitToLedger(t, led, "c1", time.Now().Add(-time.Hour))

	transport := &fakeTransport{
		openOrders: []domain.ExchangeOrder{{ExchangeOrderID: "x9", ClientOrderID: "c1", Status: "live"}},
	}
	r := NewReconciler(transport, led, time.Minute, 30*time.Second)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	o, _ := led.Get("c1")
	if o.State != domain.StateOpen {
		t.Errorf("state = %s, want OPEN", o.State)
	}
	if o.ExchangeOrderID != "x9" {
		t.Errorf("exchange id = %q, want x9", o.ExchangeOrderID)
	}
}

func TestReconcilerAbortsOnPartialPicture(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	submitToLedger(t, led, "stale", time.Now().Add(-time.Hour))

	transport := &fakeTransport{fetchErr: context.DeadlineExceeded}
	r := NewReconciler(transport, led, time.Minute, 30*time.Second)
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}

	// No conclusions may be drawn from a failed fetch.
	o, _ := led.Get("stale")
	if o.State != domain.StatePending {
		t.Errorf("state = %s after failed pass, want PENDING", o.State)
	}
}

func TestReconcilerKickCoalesces(t *testing.T) {
	r := NewReconciler(&fakeTransport{}, nil, time.Minute, time.Minute)
	r.Kick()
	r.Kick()
	if len(r.kick) != 1 {
		t.Errorf("kick buffer = %d, want 1", len(r.kick))
	}
}

func TestReconcilerGTDExpiry(t *testing.T) {
	led, _ := ledger.New(&memStore{})
	err := led.Append(domain.OrderEvent{
		ClientOrderID: "c1",
		Type:          domain.EventSubmit,
		At:            time.Now().Add(-2 * time.Hour),
		Market:        "0xcond",
		TokenID:       "tok-yes",
		Side:          domain.SideBuy,
		TIF:           domain.TifGTD,
		Expiration:    time.Now().Add(-time.Hour),
		Price:         decimal.RequireFromString("0.42"),
		Size:          decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ackToLedger(t, led, "c1", "x1")

	transport := &fakeTransport{}
	r := NewReconciler(transport, led, time.Minute, time.Minute)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	o, _ := led.Get("c1")
	if o.State != domain.StateExpired {
		t.Errorf("state = %s, want EXPIRED", o.State)
	}
}
