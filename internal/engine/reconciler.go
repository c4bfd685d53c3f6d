package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polytrader/internal/domain"
	"polytrader/internal/infra"
	"polytrader/internal/ledger"
)

// ReconcileTransport is the slice of the REST client reconciliation needs.
type ReconcileTransport interface {
	OpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error)
	Trades(ctx context.Context) ([]domain.ExchangeFill, error)
}

// Reconciler periodically converges the ledger toward the exchange's view.
// The exchange is authoritative: fills we never saw get appended, orders the
// exchange no longer knows get closed, and orders stuck PENDING past the
// grace window are resolved one way or the other. It runs on a ticker and on
// demand via Kick.
type Reconciler struct {
	transport ReconcileTransport
	ledger    *ledger.Ledger
	interval  time.Duration
	grace     time.Duration
	kick      chan struct{}
	logger    *slog.Logger
}

func NewReconciler(transport ReconcileTransport, led *ledger.Ledger, interval, grace time.Duration) *Reconciler {
	return &Reconciler{
		transport: transport,
		ledger:    led,
		interval:  interval,
		grace:     grace,
		kick:      make(chan struct{}, 1),
		logger:    slog.Default().With("module", "reconciler"),
	}
}

// Kick requests a pass as soon as possible. Non-blocking; a pass already
// pending absorbs the kick.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run drives passes until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("reconcile pass failed", slog.Any("error", err))
		}
	}
}

// RunOnce executes one full pass. A pass only draws conclusions when both
// exchange views were fetched successfully; a partial picture proves nothing.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	open, err := r.transport.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	fills, err := r.transport.Trades(ctx)
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}

	r.applyFills(fills)
	r.resolveLocal(open, fills)

	infra.GlobalMetrics.RecordReconcilePass()
	infra.GlobalMetrics.SetOpenOrders(int32(len(r.ledger.OpenOrders())))
	return nil
}

// applyFills replays exchange fill history into the ledger. TradeID dedup in
// the ledger makes this safe to repeat every pass. A fill that references a
// still-PENDING order doubles as the missing ack.
func (r *Reconciler) applyFills(fills []domain.ExchangeFill) {
	for _, f := range fills {
		clientID := f.ClientOrderID
		if clientID == "" {
			if o, ok := r.ledger.GetByExchangeID(f.OrderID); ok {
				clientID = o.ClientOrderID
			}
		}
		if clientID == "" {
			continue // not one of ours, or predates this ledger
		}
		o, ok := r.ledger.Get(clientID)
		if !ok {
			continue
		}

		if o.ExchangeOrderID == "" && f.OrderID != "" {
			if err := r.ledger.Append(domain.OrderEvent{
				ClientOrderID:   clientID,
				Type:            domain.EventAck,
				At:              f.MatchedAt,
				ExchangeOrderID: f.OrderID,
			}); err != nil {
				r.logger.Error("recover ack from fill", slog.String("client_order_id", clientID), slog.Any("error", err))
				continue
			}
			r.logger.Info("recovered ack from fill history",
				slog.String("client_order_id", clientID),
				slog.String("exchange_order_id", f.OrderID))
		}

		if r.ledger.HasFill(clientID, f.TradeID) {
			continue
		}
		if err := r.ledger.Append(domain.OrderEvent{
			ClientOrderID: clientID,
			Type:          domain.EventFill,
			At:            f.MatchedAt,
			TradeID:       f.TradeID,
			FillPrice:     f.Price,
			FillSize:      f.Size,
		}); err != nil {
			r.logger.Error("apply exchange fill",
				slog.String("client_order_id", clientID),
				slog.String("trade_id", f.TradeID),
				slog.Any("error", err))
		}
	}
}

// resolveLocal walks every non-terminal local order against the exchange's
// open set and closes the ones the exchange has moved past.
func (r *Reconciler) resolveLocal(open []domain.ExchangeOrder, fills []domain.ExchangeFill) {
	now := time.Now()

	openByExch := make(map[string]domain.ExchangeOrder, len(open))
	openByClient := make(map[string]domain.ExchangeOrder, len(open))
	for _, xo := range open {
		openByExch[xo.ExchangeOrderID] = xo
		if xo.ClientOrderID != "" {
			openByClient[xo.ClientOrderID] = xo
		}
	}
	filledClients := make(map[string]bool, len(fills))
	for _, f := range fills {
		if f.ClientOrderID != "" {
			filledClients[f.ClientOrderID] = true
		}
	}

	for _, o := range r.ledger.OpenOrders() {
		switch {
		case o.ExchangeOrderID == "":
			r.resolvePending(o, openByClient, filledClients, now)
		default:
			if _, stillOpen := openByExch[o.ExchangeOrderID]; stillOpen {
				continue
			}
			r.closeDeparted(o, now)
		}
	}
}

// resolvePending handles orders submitted but never acked. Inside the grace
// window they are left alone; after it, the exchange's open set and fill
// history are the one check, then the order is closed as rejected.
func (r *Reconciler) resolvePending(o domain.Order, openByClient map[string]domain.ExchangeOrder, filledClients map[string]bool, now time.Time) {
	if xo, ok := openByClient[o.ClientOrderID]; ok {
		// It made it to the book; we just lost the ack.
		if err := r.ledger.Append(domain.OrderEvent{
			ClientOrderID:   o.ClientOrderID,
			Type:            domain.EventAck,
			At:              now,
			ExchangeOrderID: xo.ExchangeOrderID,
		}); err != nil {
			r.markLost(o.ClientOrderID, "ack recovery failed: "+err.Error(), now)
		}
		return
	}
	if filledClients[o.ClientOrderID] {
		return // applyFills already recovered it
	}
	if now.Sub(o.CreatedAt) < r.grace {
		return
	}

	r.logger.Warn("pending order has no exchange trace, closing",
		slog.String("client_order_id", o.ClientOrderID),
		slog.Duration("age", now.Sub(o.CreatedAt)))
	if err := r.ledger.Append(domain.OrderEvent{
		ClientOrderID: o.ClientOrderID,
		Type:          domain.EventReject,
		At:            now,
		Reason:        "no exchange acknowledgment within grace window",
	}); err != nil {
		r.markLost(o.ClientOrderID, "rejection failed: "+err.Error(), now)
	}
}

// closeDeparted closes an acked order the exchange no longer lists as open.
// Full fills terminate through fill events; what remains was canceled or, for
// dated orders past expiry, expired.
func (r *Reconciler) closeDeparted(o domain.Order, now time.Time) {
	current, ok := r.ledger.Get(o.ClientOrderID)
	if !ok || current.IsTerminal() {
		return // fills this pass already finished it
	}

	evType := domain.EventCancel
	if current.TIF == domain.TifGTD && !current.Expiration.IsZero() && now.After(current.Expiration) {
		evType = domain.EventExpire
	}
	if err := r.ledger.Append(domain.OrderEvent{
		ClientOrderID: o.ClientOrderID,
		Type:          evType,
		At:            now,
	}); err != nil {
		r.markLost(o.ClientOrderID, "close failed: "+err.Error(), now)
		return
	}
	r.logger.Info("closed order absent from exchange",
		slog.String("client_order_id", o.ClientOrderID),
		slog.String("state", string(evType)))
}

// markLost is the last resort: local and exchange views cannot be brought
// into agreement, so the order is flagged for a human instead of guessed at.
func (r *Reconciler) markLost(clientOrderID, reason string, now time.Time) {
	infra.GlobalMetrics.RecordError()
	r.logger.Error("order state lost", slog.String("client_order_id", clientOrderID), slog.String("reason", reason))
	if err := r.ledger.Append(domain.OrderEvent{
		ClientOrderID: clientOrderID,
		Type:          domain.EventLost,
		At:            now,
		Reason:        reason,
	}); err != nil {
		r.logger.Error("record lost state", slog.String("client_order_id", clientOrderID), slog.Any("error", err))
	}
}
