package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"polytrader/internal/domain"
	"polytrader/internal/infra"
)

// Client is the CLOB REST client (boundary layer). All calls pass through a
// token-bucket rate limiter sized to the exchange's per-key budget; when the
// bucket is empty, calls block until a token frees up or the context expires.
// Retries are reserved for idempotent operations; a mutating call that fails
// without a definite answer surfaces ErrAmbiguousOutcome for the reconciler.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	signer      *Signer
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
	apiKey      string
	logger      *slog.Logger
}

// NewClient creates a CLOB client from config and credential.
func NewClient(cfg *infra.Config, cred *infra.Credential) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.API.RestURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:      NewSigner(cred),
		limiter:     rate.NewLimiter(rate.Limit(cfg.API.RatePerSec), cfg.API.RateBurst),
		timeout:     cfg.Timeout(),
		maxAttempts: cfg.API.MaxAttempts,
		apiKey:      cred.APIKey,
		logger:      slog.Default().With("module", "clob_client"),
	}
}

// requestClass controls retry policy for one logical request.
type requestClass struct {
	idempotent bool // safe to resend: GET, or a mutation carrying an idempotency key
	mutating   bool // failure with unknown outcome must become ErrAmbiguousOutcome
}

// doRequest executes one logical request: signs once (same timestamp and
// signature across every attempt), rate-limits and retries per class, and
// maps responses onto the error taxonomy. 4xx is terminal APIError and never
// retried; 5xx and network errors retry with backoff for idempotent calls.
func (c *Client) doRequest(ctx context.Context, method, path, query string, body []byte, class requestClass) ([]byte, error) {
	timestamp := time.Now().Unix()
	headers, err := c.signer.GenerateHeaders(method, path, string(body), timestamp)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.classifyAbort(class, err)
		}

		respBody, retriable, err := c.attempt(ctx, method, reqURL, headers, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if !retriable || !class.idempotent {
			break
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Warn("request failed, retrying",
			slog.String("method", method), slog.String("path", path),
			slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil, c.classifyAbort(class, ctx.Err())
		case <-time.After(infra.CalculateBackoff(attempt)):
		}
	}

	return nil, c.classifyAbort(class, lastErr)
}

// attempt performs a single HTTP exchange. The bool reports whether the
// failure is worth retrying.
func (c *Client) attempt(ctx context.Context, method, reqURL string, headers map[string]string, body []byte) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, reqURL, bodyReader)
	if err != nil {
		return nil, false, domain.NewFatalNetworkError("build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	infra.GlobalMetrics.RecordRequest(time.Since(start))
	if err != nil {
		infra.GlobalMetrics.RecordError()
		return nil, true, domain.NewNetworkError("send", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		infra.GlobalMetrics.RecordError()
		return nil, true, domain.NewNetworkError("read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		infra.GlobalMetrics.RecordError()
		var apiErr apiErrorBody
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(respBody))
		}
		return nil, false, &domain.APIError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
	default:
		infra.GlobalMetrics.RecordError()
		return nil, true, domain.NewNetworkError("server", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
}

// classifyAbort maps a final failure onto the caller-visible error. A
// mutating call whose last failure left the exchange's state unknown becomes
// ErrAmbiguousOutcome; a definite rejection stays an APIError; reads keep
// their underlying error.
func (c *Client) classifyAbort(class requestClass, err error) error {
	if err == nil {
		err = errors.New("request aborted")
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return err // definite answer from the exchange
	}
	if class.mutating {
		return fmt.Errorf("%w: %v", domain.ErrAmbiguousOutcome, err)
	}
	return err
}

// PlaceOrder submits a signed order. The client order id doubles as the
// idempotency key, which is what makes the retry loop safe: a resent order
// with the same id dedupes server-side.
func (c *Client) PlaceOrder(ctx context.Context, order *SignedOrder, orderType, clientOrderID string) (*domain.ExchangeOrder, error) {
	reqBody, err := json.Marshal(placeOrderRequest{
		Order:         *order,
		Owner:         c.apiKey,
		OrderType:     orderType,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		return nil, &domain.SigningError{Op: "marshal order", Err: err}
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", "", reqBody, requestClass{idempotent: true, mutating: true})
	if err != nil {
		return nil, err
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse place response: %w", err)
	}
	if !resp.Success {
		return nil, &domain.APIError{StatusCode: http.StatusOK, Code: "ORDER_REJECTED", Message: resp.ErrorMsg}
	}

	c.logger.Info("order placed",
		slog.String("client_order_id", clientOrderID),
		slog.String("exchange_order_id", resp.OrderID),
		slog.String("status", resp.Status))

	return &domain.ExchangeOrder{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   clientOrderID,
		Status:          resp.Status,
	}, nil
}

// CancelOrder cancels one order by exchange order id. Canceling is naturally
// idempotent, so transient failures are retried.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	reqBody, err := json.Marshal(cancelOrderRequest{OrderID: exchangeOrderID})
	if err != nil {
		return err
	}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/order", "", reqBody, requestClass{idempotent: true, mutating: true})
	if err != nil {
		return err
	}

	var resp cancelOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("parse cancel response: %w", err)
	}
	if reason, ok := resp.NotCanceled[exchangeOrderID]; ok {
		return &domain.APIError{StatusCode: http.StatusOK, Code: "CANCEL_REJECTED", Message: reason}
	}
	return nil
}

// OpenOrders fetches the exchange's view of our resting orders.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/data/orders", "", nil, requestClass{idempotent: true})
	if err != nil {
		return nil, err
	}

	var raw []openOrderJSON
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}

	orders := make([]domain.ExchangeOrder, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, domain.ExchangeOrder{
			ExchangeOrderID: o.ID,
			ClientOrderID:   o.ClientOrderID,
			TokenID:         o.AssetID,
			Market:          o.Market,
			Side:            o.Side,
			Price:           parseDecimal(o.Price),
			OriginalSize:    parseDecimal(o.OriginalSize),
			SizeMatched:     parseDecimal(o.SizeMatched),
			Status:          o.Status,
			CreatedAt:       time.Unix(o.CreatedAt, 0),
		})
	}
	return orders, nil
}

// Trades fetches fill history for the account.
func (c *Client) Trades(ctx context.Context) ([]domain.ExchangeFill, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/data/trades", "", nil, requestClass{idempotent: true})
	if err != nil {
		return nil, err
	}

	var raw []tradeJSON
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse trades: %w", err)
	}

	fills := make([]domain.ExchangeFill, 0, len(raw))
	for _, tr := range raw {
		ts, _ := strconv.ParseInt(tr.MatchTime, 10, 64)
		fills = append(fills, domain.ExchangeFill{
			TradeID:       tr.ID,
			OrderID:       tr.OrderID,
			ClientOrderID: tr.ClientOrderID,
			TokenID:       tr.AssetID,
			Market:        tr.Market,
			Side:          tr.Side,
			Price:         parseDecimal(tr.Price),
			Size:          parseDecimal(tr.Size),
			FeeRateBps:    parseDecimal(tr.FeeRateBps),
			MatchedAt:     time.Unix(ts, 0),
		})
	}
	return fills, nil
}

// FetchBook pulls a full book snapshot for one token.
func (c *Client) FetchBook(ctx context.Context, tokenID string) (*domain.BookSnapshot, error) {
	query := url.Values{"token_id": {tokenID}}.Encode()
	respBody, err := c.doRequest(ctx, http.MethodGet, "/book", query, nil, requestClass{idempotent: true})
	if err != nil {
		return nil, err
	}

	var raw bookJSON
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}

	snap := &domain.BookSnapshot{
		TokenID:   tokenID,
		Seq:       raw.Seq,
		UpdatedAt: time.Now(),
	}
	for _, lvl := range raw.Bids {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: parseDecimal(lvl.Price), Size: parseDecimal(lvl.Size)})
	}
	for _, lvl := range raw.Asks {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: parseDecimal(lvl.Price), Size: parseDecimal(lvl.Size)})
	}
	return snap, nil
}

// FetchMarket pulls market metadata by condition id.
func (c *Client) FetchMarket(ctx context.Context, conditionID string) (*domain.Market, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/markets/"+conditionID, "", nil, requestClass{idempotent: true})
	if err != nil {
		return nil, err
	}

	var raw marketJSON
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parse market: %w", err)
	}
	if raw.ConditionID == "" {
		return nil, domain.ErrMarketNotFound
	}

	m := &domain.Market{
		ConditionID: raw.ConditionID,
		Question:    raw.Question,
		TickSize:    parseDecimal(raw.MinimumTickSize),
		MinSize:     parseDecimal(raw.MinimumOrderSize),
		NegRisk:     raw.NegRisk,
		FetchedAt:   time.Now(),
	}
	for _, tok := range raw.Tokens {
		m.Tokens = append(m.Tokens, domain.Token{TokenID: tok.TokenID, Outcome: tok.Outcome})
	}
	return m, nil
}

// Midpoint returns the current mid price for a token.
func (c *Client) Midpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	query := url.Values{"token_id": {tokenID}}.Encode()
	respBody, err := c.doRequest(ctx, http.MethodGet, "/midpoint", query, nil, requestClass{idempotent: true})
	if err != nil {
		return decimal.Zero, err
	}

	var raw midpointJSON
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("parse midpoint: %w", err)
	}
	return decimal.NewFromString(raw.Mid)
}

// Price returns the best price for a token on one side of the book.
func (c *Client) Price(ctx context.Context, tokenID, side string) (decimal.Decimal, error) {
	query := url.Values{"token_id": {tokenID}, "side": {side}}.Encode()
	respBody, err := c.doRequest(ctx, http.MethodGet, "/price", query, nil, requestClass{idempotent: true})
	if err != nil {
		return decimal.Zero, err
	}

	var raw priceJSON
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("parse price: %w", err)
	}
	return decimal.NewFromString(raw.Price)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
