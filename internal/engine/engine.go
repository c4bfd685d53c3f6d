package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"polytrader/internal/domain"
	"polytrader/internal/infra"
	"polytrader/internal/infra/clob"
	"polytrader/internal/ledger"
)

// Transport is the slice of the REST client the engine needs.
type Transport interface {
	PlaceOrder(ctx context.Context, order *clob.SignedOrder, orderType, clientOrderID string) (*domain.ExchangeOrder, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
}

// OrderBuilder turns a validated intent into a signed exchange order.
type OrderBuilder interface {
	BuildOrder(intent domain.OrderIntent, maker string) (*clob.SignedOrder, error)
	SignOrder(order *clob.SignedOrder, negRisk bool) error
}

// Engine drives order placement and cancellation against the ledger. Every
// user-facing operation follows the same shape: validate locally, record the
// attempt durably, then talk to the exchange; whatever the exchange confirms
// goes back into the ledger as an event. When the exchange's answer is
// ambiguous the order is left PENDING and the reconciler is kicked.
type Engine struct {
	ledger     *ledger.Ledger
	transport  Transport
	builder    OrderBuilder
	maker      string // funder address orders settle against
	reconciler *Reconciler

	mu      sync.RWMutex
	markets map[string]*domain.Market

	logger *slog.Logger
}

func New(led *ledger.Ledger, transport Transport, builder OrderBuilder, maker string) *Engine {
	return &Engine{
		ledger:    led,
		transport: transport,
		builder:   builder,
		maker:     maker,
		markets:   make(map[string]*domain.Market),
		logger:    slog.Default().With("module", "engine"),
	}
}

// AttachReconciler wires the reconciler used for ambiguity resolution.
func (e *Engine) AttachReconciler(r *Reconciler) {
	e.reconciler = r
}

// RegisterMarket makes a market's metadata available for intent validation.
func (e *Engine) RegisterMarket(m *domain.Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[m.ConditionID] = m
}

func (e *Engine) market(conditionID string) (*domain.Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[conditionID]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", conditionID, domain.ErrMarketNotFound)
	}
	return m, nil
}

// PlaceOrder validates the intent, records it, signs it, and submits it.
// Validation failures return before any network traffic and leave no trace
// in the ledger. The returned order reflects the exchange's answer: OPEN on
// ack, or PENDING when the outcome could not be established.
func (e *Engine) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (domain.Order, error) {
	market, err := e.market(intent.Market)
	if err != nil {
		return domain.Order{}, err
	}
	if intent.TIF == "" {
		intent.TIF = domain.TifGTC
	}
	if err := market.ValidateIntent(intent); err != nil {
		return domain.Order{}, err
	}

	clientOrderID := uuid.NewString()
	now := time.Now()

	// The submit event goes to disk before anything leaves the process, so a
	// crash mid-flight still leaves a PENDING order for the reconciler.
	if err := e.ledger.Append(domain.OrderEvent{
		ClientOrderID: clientOrderID,
		Type:          domain.EventSubmit,
		At:            now,
		Market:        intent.Market,
		TokenID:       intent.TokenID,
		Side:          intent.Side,
		TIF:           intent.TIF,
		Price:         intent.Price,
		Size:          intent.Size,
		Expiration:    intent.Expiration,
	}); err != nil {
		return domain.Order{}, err
	}

	signed, err := e.buildAndSign(intent, market.NegRisk)
	if err != nil {
		// Signing never left the process; close the order locally.
		e.reject(clientOrderID, "signing: "+err.Error())
		return domain.Order{}, err
	}

	exch, err := e.transport.PlaceOrder(ctx, signed, intent.TIF, clientOrderID)
	if err != nil {
		return e.placeOutcome(ctx, clientOrderID, err)
	}

	if err := e.ledger.Append(domain.OrderEvent{
		ClientOrderID:   clientOrderID,
		Type:            domain.EventAck,
		At:              time.Now(),
		ExchangeOrderID: exch.ExchangeOrderID,
	}); err != nil {
		return domain.Order{}, err
	}
	infra.GlobalMetrics.RecordOrderPlaced()

	o, _ := e.ledger.Get(clientOrderID)
	return o, nil
}

func (e *Engine) buildAndSign(intent domain.OrderIntent, negRisk bool) (*clob.SignedOrder, error) {
	signed, err := e.builder.BuildOrder(intent, e.maker)
	if err != nil {
		return nil, err
	}
	if err := e.builder.SignOrder(signed, negRisk); err != nil {
		return nil, err
	}
	return signed, nil
}

// placeOutcome maps a transport failure onto the ledger. A definite exchange
// rejection closes the order; anything ambiguous leaves it PENDING and hands
// it to the reconciler.
func (e *Engine) placeOutcome(ctx context.Context, clientOrderID string, cause error) (domain.Order, error) {
	var apiErr *domain.APIError
	if errors.As(cause, &apiErr) {
		e.reject(clientOrderID, apiErr.Message)
		infra.GlobalMetrics.RecordOrderRejected()
		o, _ := e.ledger.Get(clientOrderID)
		return o, cause
	}

	e.logger.Warn("order outcome ambiguous, deferring to reconciler",
		slog.String("client_order_id", clientOrderID),
		slog.Any("error", cause))
	e.kickReconciler()
	o, _ := e.ledger.Get(clientOrderID)
	return o, cause
}

func (e *Engine) reject(clientOrderID, reason string) {
	if err := e.ledger.Append(domain.OrderEvent{
		ClientOrderID: clientOrderID,
		Type:          domain.EventReject,
		At:            time.Now(),
		Reason:        reason,
	}); err != nil {
		e.logger.Error("record rejection", slog.String("client_order_id", clientOrderID), slog.Any("error", err))
	}
}

// CancelOrder requests cancellation of one of our orders by client order id.
func (e *Engine) CancelOrder(ctx context.Context, clientOrderID string) error {
	o, ok := e.ledger.Get(clientOrderID)
	if !ok {
		return fmt.Errorf("cancel %s: %w", clientOrderID, domain.ErrUnknownOrder)
	}
	if o.IsTerminal() {
		return fmt.Errorf("cancel %s in state %s: %w", clientOrderID, o.State, domain.ErrInvalidState)
	}
	if o.ExchangeOrderID == "" {
		// Never acked: nothing to address the cancel to. The reconciler
		// resolves whether the order ever reached the book.
		e.kickReconciler()
		return fmt.Errorf("cancel %s before ack: %w", clientOrderID, domain.ErrInvalidState)
	}

	if err := e.transport.CancelOrder(ctx, o.ExchangeOrderID); err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			// Definite refusal, usually a race with a match. Reconcile picks
			// up whatever actually happened.
			e.kickReconciler()
			return err
		}
		e.kickReconciler()
		return err
	}

	return e.ledger.Append(domain.OrderEvent{
		ClientOrderID: clientOrderID,
		Type:          domain.EventCancel,
		At:            time.Now(),
	})
}

// OpenOrders returns every non-terminal order from the ledger. No network.
func (e *Engine) OpenOrders() []domain.Order {
	orders := e.ledger.OpenOrders()
	infra.GlobalMetrics.SetOpenOrders(int32(len(orders)))
	return orders
}

// Order returns the current state of one order.
func (e *Engine) Order(clientOrderID string) (domain.Order, bool) {
	return e.ledger.Get(clientOrderID)
}

// Position derives net exposure for one market outcome from ledger fills.
func (e *Engine) Position(market, outcome string) (domain.Position, error) {
	m, err := e.market(market)
	if err != nil {
		return domain.Position{}, err
	}
	for _, tok := range m.Tokens {
		if tok.Outcome == outcome {
			return e.ledger.Position(market, tok.TokenID, outcome), nil
		}
	}
	return domain.Position{}, fmt.Errorf("market %s has no outcome %q: %w", market, outcome, domain.ErrMarketNotFound)
}

// ReconcileNow runs one synchronous reconciliation pass.
func (e *Engine) ReconcileNow(ctx context.Context) error {
	if e.reconciler == nil {
		return nil
	}
	return e.reconciler.RunOnce(ctx)
}

func (e *Engine) kickReconciler() {
	if e.reconciler != nil {
		e.reconciler.Kick()
	}
}
