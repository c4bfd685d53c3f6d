package clob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
	"polytrader/internal/infra"
)

func testConfig(restURL string) *infra.Config {
	cfg := &infra.Config{}
	cfg.API.RestURL = restURL
	cfg.API.RatePerSec = 1000 // tests should not wait on the bucket
	cfg.API.RateBurst = 1000
	cfg.API.TimeoutSec = 2
	cfg.API.MaxAttempts = 3
	return cfg
}

func testCredential() *infra.Credential {
	return &infra.Credential{
		APIKey:        "key-1",
		APISecret:     "cG9seXRyYWRlci1obWFjLXRlc3Qtc2VjcmV0",
		APIPassphrase: "pass-1",
		Address:       "0xabc",
	}
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(testConfig(srv.URL), testCredential())
}

func TestClientSendsAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if _, err := c.OpenOrders(context.Background()); err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}

	for _, h := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_API_KEY", "POLY_PASSPHRASE"} {
		if got.Get(h) == "" {
			t.Errorf("header %s missing", h)
		}
	}
	if got.Get("POLY_API_KEY") != "key-1" {
		t.Errorf("api key header = %q", got.Get("POLY_API_KEY"))
	}
}

func TestClientDoesNotRetry4xx(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key","code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.OpenOrders(context.Background())
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "UNAUTHORIZED" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("4xx retried: %d calls", n)
	}
}

func TestClientRetries5xxThenSucceeds(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if _, err := c.OpenOrders(context.Background()); err != nil {
		t.Fatalf("OpenOrders after retries: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestClientIdenticalSignatureAcrossRetries(t *testing.T) {
	var sigs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigs = append(sigs, r.Header.Get("POLY_SIGNATURE"))
		if len(sigs) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if _, err := c.Trades(context.Background()); err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("attempts = %d, want 2", len(sigs))
	}
	if sigs[0] != sigs[1] {
		t.Error("retry re-signed with a different timestamp")
	}
}

func TestPlaceOrderAmbiguousOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.PlaceOrder(context.Background(), &SignedOrder{}, "GTC", "c1")
	if !errors.Is(err, domain.ErrAmbiguousOutcome) {
		t.Errorf("err = %v, want ErrAmbiguousOutcome", err)
	}
}

func TestPlaceOrderDefiniteRejectionIsNotAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errorMsg":"not enough balance / allowance"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.PlaceOrder(context.Background(), &SignedOrder{}, "GTC", "c1")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if errors.Is(err, domain.ErrAmbiguousOutcome) {
		t.Error("definite rejection classified as ambiguous")
	}
	if apiErr.Code != "ORDER_REJECTED" {
		t.Errorf("code = %s", apiErr.Code)
	}
}

func TestPlaceOrderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req placeOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Owner != "key-1" {
			t.Errorf("owner = %q, want api key", req.Owner)
		}
		if req.ClientOrderID != "c1" {
			t.Errorf("client order id = %q", req.ClientOrderID)
		}
		_, _ = w.Write([]byte(`{"success":true,"orderID":"x1","status":"live"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	xo, err := c.PlaceOrder(context.Background(), &SignedOrder{}, "GTC", "c1")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if xo.ExchangeOrderID != "x1" || xo.ClientOrderID != "c1" {
		t.Errorf("order = %+v", xo)
	}
}

func TestCancelOrderRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"canceled":[],"not_canceled":{"x1":"order already matched"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.CancelOrder(context.Background(), "x1")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != "CANCEL_REJECTED" {
		t.Errorf("code = %s", apiErr.Code)
	}
}

func TestFetchBookParsesLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token_id"); got != "tok" {
			t.Errorf("token_id = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"asset_id":"tok","hash":"h","timestamp":"1700000000000",
			"bids":[{"price":"0.40","size":"100"},{"price":"0.41","size":"50"}],
			"asks":[{"price":"0.43","size":"60"}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	snap, err := c.FetchBook(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FetchBook: %v", err)
	}
	if snap.TokenID != "tok" || len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.Bids[1].Price.Equal(decimal.RequireFromString("0.41")) {
		t.Errorf("bid price = %s", snap.Bids[1].Price)
	}
}

func TestFetchMarketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.FetchMarket(context.Background(), "0xmissing")
	if !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("err = %v, want ErrMarketNotFound", err)
	}
}

func TestMidpointAndPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/midpoint":
			_, _ = w.Write([]byte(`{"mid":"0.455"}`))
		case "/price":
			if got := r.URL.Query().Get("side"); got != "BUY" {
				t.Errorf("side = %q", got)
			}
			_, _ = w.Write([]byte(`{"price":"0.45"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	mid, err := c.Midpoint(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Midpoint: %v", err)
	}
	if !mid.Equal(decimal.RequireFromString("0.455")) {
		t.Errorf("mid = %s", mid)
	}
	price, err := c.Price(context.Background(), "tok", "BUY")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.45")) {
		t.Errorf("price = %s", price)
	}
}

func TestClientContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := newTestClient(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.OpenOrders(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation took %s", time.Since(start))
	}
}
