package clob

import "time"

// CLOB API constants.
const (
	BaseURLMainnet = "https://clob.polymarket.com"
	MarketWSURL    = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// CTF Exchange contracts on Polygon; EIP-712 verifying contracts.
	ExchangeAddress        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	maxRetries   = 10
	pingInterval = 10 * time.Second
	readTimeout  = 30 * time.Second
)

// Signature types accepted by the exchange.
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

// SignedOrder is a fully signed order in the format expected by the CLOB.
// Fields mirror the EIP-712 order struct after signing.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"` // "BUY" or "SELL"
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// placeOrderRequest wraps a signed order with submission metadata.
type placeOrderRequest struct {
	Order         SignedOrder `json:"order"`
	Owner         string      `json:"owner"` // API key, not the maker address
	OrderType     string      `json:"orderType"`
	ClientOrderID string      `json:"clientOrderId"`
}

// placeOrderResponse is the POST /order response.
type placeOrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderId"`
	Status   string `json:"status"` // live, matched, delayed, unmatched
}

type cancelOrderRequest struct {
	OrderID string `json:"orderID"`
}

type cancelOrderResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// apiErrorBody is the error envelope on non-2xx responses.
type apiErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// openOrderJSON is one entry of GET /data/orders.
type openOrderJSON struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	Market        string `json:"market"`
	AssetID       string `json:"asset_id"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OriginalSize  string `json:"original_size"`
	SizeMatched   string `json:"size_matched"`
	CreatedAt     int64  `json:"created_at"`
}

// tradeJSON is one entry of GET /data/trades.
type tradeJSON struct {
	ID            string `json:"id"`
	OrderID       string `json:"taker_order_id"`
	ClientOrderID string `json:"client_order_id"`
	Market        string `json:"market"`
	AssetID       string `json:"asset_id"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	FeeRateBps    string `json:"fee_rate_bps"`
	Status        string `json:"status"`
	MatchTime     string `json:"match_time"`
}

// bookLevelJSON is one price level in GET /book and ws book messages.
type bookLevelJSON struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookJSON is the GET /book response and the ws "book" message payload.
type bookJSON struct {
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Seq       uint64          `json:"seq"`
	Bids      []bookLevelJSON `json:"bids"`
	Asks      []bookLevelJSON `json:"asks"`
	Timestamp string          `json:"timestamp"`
}

// marketJSON is the GET /markets/{condition_id} response.
type marketJSON struct {
	ConditionID string `json:"condition_id"`
	Question    string `json:"question"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
	MinimumTickSize  string `json:"minimum_tick_size"`
	MinimumOrderSize string `json:"minimum_order_size"`
	NegRisk          bool   `json:"neg_risk"`
}

// midpointJSON is the GET /midpoint response.
type midpointJSON struct {
	Mid string `json:"mid"`
}

// priceJSON is the GET /price response.
type priceJSON struct {
	Price string `json:"price"`
}

// subscribeRequest is the market-channel subscription message.
type subscribeRequest struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"` // "market"
}

// wsMessage is one streaming message. event_type discriminates.
type wsMessage struct {
	EventType string          `json:"event_type"` // "book" or "price_change"
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Seq       uint64          `json:"seq"`
	Bids      []bookLevelJSON `json:"bids"`
	Asks      []bookLevelJSON `json:"asks"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	Timestamp string `json:"timestamp"`
}
