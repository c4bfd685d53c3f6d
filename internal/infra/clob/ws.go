package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polytrader/internal/domain"
	"polytrader/internal/feed"
	"polytrader/internal/infra"
)

// MarketWorker handles the CLOB market-channel WebSocket for a set of
// outcome tokens. On every successful (re)connect it emits a resync event
// per token before any stream data: messages missed during a gap cannot be
// recovered from the stream, so the book keeper must take a fresh REST
// snapshot each time continuity restarts.
type MarketWorker struct {
	wsURL     string
	assetIDs  []string
	inbox     chan<- *feed.Event
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewMarketWorker factory
func NewMarketWorker(wsURL string, assetIDs []string, inbox chan<- *feed.Event) *MarketWorker {
	return &MarketWorker{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		inbox:    inbox,
		logger:   slog.Default().With("module", "market_ws"),
	}
}

func (w *MarketWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *MarketWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("market ws connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // keep trying; monitoring sees the reconnect counter
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(infra.CalculateBackoff(retryCount)):
			}
			continue
		}

		if !first {
			infra.GlobalMetrics.RecordWSReconnect()
		}
		first = false
		retryCount = 0
		w.emitResyncs(ctx)
		w.readLoop(ctx)
	}
}

func (w *MarketWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx)
	w.logger.Info("market ws connected", slog.Int("assets", len(w.assetIDs)))
	return nil
}

func (w *MarketWorker) subscribe() error {
	req := subscribeRequest{AssetIDs: w.assetIDs, Type: "market"}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

// emitResyncs tells the keeper to resnapshot every subscribed token.
func (w *MarketWorker) emitResyncs(ctx context.Context) {
	for _, id := range w.assetIDs {
		ev := feed.AcquireEvent()
		ev.Type = feed.TypeResync
		ev.TokenID = id
		ev.At = time.Now()
		select {
		case w.inbox <- ev:
		case <-ctx.Done():
			feed.ReleaseEvent(ev)
			return
		}
	}
}

func (w *MarketWorker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

func (w *MarketWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *MarketWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		if string(msg) == "PONG" {
			continue
		}
		w.handleMessage(ctx, msg)
	}
}

// handleMessage parses one frame. The channel delivers either a single
// message object or a batch array; both shapes are handled.
func (w *MarketWorker) handleMessage(ctx context.Context, msg []byte) {
	var batch []wsMessage
	if err := json.Unmarshal(msg, &batch); err != nil {
		var single wsMessage
		if err := json.Unmarshal(msg, &single); err != nil {
			w.logger.Debug("unparseable ws frame", slog.String("frame", string(msg)))
			return
		}
		batch = []wsMessage{single}
	}

	for _, m := range batch {
		switch m.EventType {
		case "book":
			w.emitSnapshot(ctx, m)
		case "price_change":
			w.emitDelta(ctx, m)
		}
	}
}

func (w *MarketWorker) emitSnapshot(ctx context.Context, m wsMessage) {
	ev := feed.AcquireEvent()
	ev.Type = feed.TypeSnapshot
	ev.TokenID = m.AssetID
	ev.Seq = m.Seq
	ev.At = time.Now()
	for _, lvl := range m.Bids {
		ev.Bids = append(ev.Bids, domain.PriceLevel{Price: parseDecimal(lvl.Price), Size: parseDecimal(lvl.Size)})
	}
	for _, lvl := range m.Asks {
		ev.Asks = append(ev.Asks, domain.PriceLevel{Price: parseDecimal(lvl.Price), Size: parseDecimal(lvl.Size)})
	}
	w.send(ctx, ev)
}

func (w *MarketWorker) emitDelta(ctx context.Context, m wsMessage) {
	ev := feed.AcquireEvent()
	ev.Type = feed.TypeDelta
	ev.TokenID = m.AssetID
	ev.Seq = m.Seq
	ev.At = time.Now()
	for _, ch := range m.Changes {
		ev.Changes = append(ev.Changes, domain.LevelChange{
			Side:  ch.Side,
			Price: parseDecimal(ch.Price),
			Size:  parseDecimal(ch.Size),
		})
	}
	w.send(ctx, ev)
}

func (w *MarketWorker) send(ctx context.Context, ev *feed.Event) {
	select {
	case w.inbox <- ev:
	case <-ctx.Done():
		feed.ReleaseEvent(ev)
	}
}

// IsConnected reports current connection state.
func (w *MarketWorker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *MarketWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

func (w *MarketWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
