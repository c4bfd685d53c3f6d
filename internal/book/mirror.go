package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
)

// Mirror states. A mirror only trusts deltas while LIVE; any continuity doubt
// sends it back through SNAPSHOTTING.
const (
	StateUninitialized = "UNINITIALIZED"
	StateSnapshotting  = "SNAPSHOTTING"
	StateLive          = "LIVE"
	StateGapDetected   = "GAP_DETECTED"
)

// Mirror maintains a local copy of one token's bid/ask ladder from the
// streaming feed, reconciled against REST snapshots. Sides are kept sorted
// (bids descending, asks ascending) so best-of-book is O(1) and level updates
// are a binary search. All methods are safe for concurrent use; the lock is
// only ever held around in-memory mutation.
type Mirror struct {
	mu        sync.RWMutex
	tokenID   string
	state     string
	seq       uint64
	bids      []domain.PriceLevel // descending by price
	asks      []domain.PriceLevel // ascending by price
	updatedAt time.Time
}

// NewMirror creates an uninitialized mirror for one token.
func NewMirror(tokenID string) *Mirror {
	return &Mirror{tokenID: tokenID, state: StateUninitialized}
}

// TokenID returns the token this mirror tracks.
func (m *Mirror) TokenID() string {
	return m.tokenID
}

// State returns the current state machine state.
func (m *Mirror) State() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Seq returns the last applied sequence number.
func (m *Mirror) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// BeginResync transitions to SNAPSHOTTING. Deltas arriving before the fresh
// snapshot are dropped; only a snapshot brings the mirror back to LIVE.
func (m *Mirror) BeginResync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateSnapshotting
}

// ApplySnapshot replaces the ladder wholesale and enters LIVE. A crossed
// snapshot is refused: the mirror stays in SNAPSHOTTING and the fault is
// returned for the caller to log and retry.
func (m *Mirror) ApplySnapshot(snap *domain.BookSnapshot) error {
	bids := append([]domain.PriceLevel(nil), snap.Bids...)
	asks := append([]domain.PriceLevel(nil), snap.Asks...)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(bids) > 0 && len(asks) > 0 && bids[0].Price.GreaterThanOrEqual(asks[0].Price) {
		m.state = StateSnapshotting
		return &domain.DataIntegrityError{
			Kind:   "crossed_book",
			Detail: fmt.Sprintf("snapshot for %s crossed: bid %s >= ask %s", m.tokenID, bids[0].Price, asks[0].Price),
		}
	}

	m.bids = bids
	m.asks = asks
	m.seq = snap.Seq
	m.updatedAt = snap.UpdatedAt
	m.state = StateLive
	return nil
}

// ApplyDelta applies one incremental update. Only accepted while LIVE and
// only when the delta is the exact successor of the local sequence; a gap or
// a resulting crossed book moves the mirror to GAP_DETECTED and returns a
// DataIntegrityError so the keeper resnapshots.
func (m *Mirror) ApplyDelta(d domain.BookDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateLive {
		// Stale delta from before a resync; nothing to apply to.
		return nil
	}

	if d.Seq != m.seq+1 {
		m.state = StateGapDetected
		return &domain.DataIntegrityError{
			Kind:   "sequence_gap",
			Detail: fmt.Sprintf("token %s: expected seq %d, got %d", m.tokenID, m.seq+1, d.Seq),
		}
	}

	for _, ch := range d.Changes {
		if ch.Side == domain.SideBuy {
			m.bids = applyLevel(m.bids, ch.Price, ch.Size, true)
		} else {
			m.asks = applyLevel(m.asks, ch.Price, ch.Size, false)
		}
	}
	m.seq = d.Seq
	m.updatedAt = d.At

	if len(m.bids) > 0 && len(m.asks) > 0 && m.bids[0].Price.GreaterThanOrEqual(m.asks[0].Price) {
		m.state = StateGapDetected
		return &domain.DataIntegrityError{
			Kind:   "crossed_book",
			Detail: fmt.Sprintf("token %s crossed at seq %d: bid %s >= ask %s", m.tokenID, m.seq, m.bids[0].Price, m.asks[0].Price),
		}
	}
	return nil
}

// applyLevel updates (price, size) in a sorted side. Size zero removes the
// level. bidSide selects descending order, otherwise ascending.
func applyLevel(side []domain.PriceLevel, price, size decimal.Decimal, bidSide bool) []domain.PriceLevel {
	idx := sort.Search(len(side), func(i int) bool {
		if bidSide {
			return side[i].Price.LessThanOrEqual(price)
		}
		return side[i].Price.GreaterThanOrEqual(price)
	})

	exists := idx < len(side) && side[idx].Price.Equal(price)
	switch {
	case size.IsZero() && exists:
		return append(side[:idx], side[idx+1:]...)
	case size.IsZero():
		return side
	case exists:
		side[idx].Size = size
		return side
	default:
		side = append(side, domain.PriceLevel{})
		copy(side[idx+1:], side[idx:])
		side[idx] = domain.PriceLevel{Price: price, Size: size}
		return side
	}
}

// BestBid returns the highest bid, or ErrNoLiquidity if the side is empty.
func (m *Mirror) BestBid() (domain.PriceLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bids) == 0 {
		return domain.PriceLevel{}, domain.ErrNoLiquidity
	}
	return m.bids[0], nil
}

// BestAsk returns the lowest ask, or ErrNoLiquidity if the side is empty.
func (m *Mirror) BestAsk() (domain.PriceLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.asks) == 0 {
		return domain.PriceLevel{}, domain.ErrNoLiquidity
	}
	return m.asks[0], nil
}

// MidPrice returns (best_bid + best_ask) / 2, or ErrNoLiquidity if either
// side is empty.
func (m *Mirror) MidPrice() (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bids) == 0 || len(m.asks) == 0 {
		return decimal.Zero, domain.ErrNoLiquidity
	}
	return m.bids[0].Price.Add(m.asks[0].Price).Div(decimal.NewFromInt(2)), nil
}

// DepthAt returns the resting size at an exact price on the given side.
func (m *Mirror) DepthAt(side string, price decimal.Decimal) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	levels := m.asks
	if side == domain.SideBuy {
		levels = m.bids
	}
	for _, lvl := range levels {
		if lvl.Price.Equal(price) {
			return lvl.Size
		}
	}
	return decimal.Zero
}

// Snapshot returns a copy of the current ladder.
func (m *Mirror) Snapshot() domain.BookSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.BookSnapshot{
		TokenID:   m.tokenID,
		Seq:       m.seq,
		Bids:      append([]domain.PriceLevel(nil), m.bids...),
		Asks:      append([]domain.PriceLevel(nil), m.asks...),
		UpdatedAt: m.updatedAt,
	}
}
