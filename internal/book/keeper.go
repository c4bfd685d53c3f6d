package book

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polytrader/internal/domain"
	"polytrader/internal/feed"
	"polytrader/internal/infra"
)

// SnapshotFetcher pulls a fresh full book over REST. Satisfied by the CLOB
// client.
type SnapshotFetcher interface {
	FetchBook(ctx context.Context, tokenID string) (*domain.BookSnapshot, error)
}

// Keeper owns the mirrors and drives them from the feed: deltas are applied
// while a mirror is LIVE, and any integrity fault (gap, crossed book, feed
// reconnect) triggers exactly one REST resnapshot for that token. Network
// fetches run outside the mirror locks.
type Keeper struct {
	fetcher SnapshotFetcher
	events  <-chan *feed.Event
	logger  *slog.Logger

	mu        sync.Mutex
	mirrors   map[string]*Mirror
	resyncing map[string]bool
	wg        sync.WaitGroup
}

// NewKeeper creates a keeper consuming the given feed channel.
func NewKeeper(fetcher SnapshotFetcher, events <-chan *feed.Event) *Keeper {
	return &Keeper{
		fetcher:   fetcher,
		events:    events,
		logger:    slog.Default().With("module", "book_keeper"),
		mirrors:   make(map[string]*Mirror),
		resyncing: make(map[string]bool),
	}
}

// Mirror returns the mirror for a token, creating it on first reference.
func (k *Keeper) Mirror(tokenID string) *Mirror {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.mirrors[tokenID]
	if !ok {
		m = NewMirror(tokenID)
		k.mirrors[tokenID] = m
	}
	return m
}

// Run consumes feed events until the context is canceled. Run this in its
// own goroutine.
func (k *Keeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			k.wg.Wait()
			return
		case ev, ok := <-k.events:
			if !ok {
				k.wg.Wait()
				return
			}
			k.handle(ctx, ev)
			feed.ReleaseEvent(ev)
		}
	}
}

func (k *Keeper) handle(ctx context.Context, ev *feed.Event) {
	m := k.Mirror(ev.TokenID)

	switch ev.Type {
	case feed.TypeResync:
		m.BeginResync()
		k.startResync(ctx, ev.TokenID)

	case feed.TypeSnapshot:
		snap := &domain.BookSnapshot{
			TokenID:   ev.TokenID,
			Seq:       ev.Seq,
			Bids:      ev.Bids,
			Asks:      ev.Asks,
			UpdatedAt: ev.At,
		}
		if err := m.ApplySnapshot(snap); err != nil {
			k.logger.Error("stream snapshot refused",
				slog.String("token", ev.TokenID), slog.Any("error", err))
			k.startResync(ctx, ev.TokenID)
		}

	case feed.TypeDelta:
		delta := domain.BookDelta{
			TokenID: ev.TokenID,
			Seq:     ev.Seq,
			Changes: ev.Changes,
			At:      ev.At,
		}
		if err := m.ApplyDelta(delta); err != nil {
			k.logger.Error("book integrity fault, resyncing",
				slog.String("token", ev.TokenID), slog.Any("error", err))
			k.startResync(ctx, ev.TokenID)
		}
	}
}

// startResync launches a REST resnapshot for a token unless one is already
// in flight.
func (k *Keeper) startResync(ctx context.Context, tokenID string) {
	k.mu.Lock()
	if k.resyncing[tokenID] {
		k.mu.Unlock()
		return
	}
	k.resyncing[tokenID] = true
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer func() {
			k.mu.Lock()
			k.resyncing[tokenID] = false
			k.mu.Unlock()
		}()
		k.resync(ctx, tokenID)
	}()
}

func (k *Keeper) resync(ctx context.Context, tokenID string) {
	m := k.Mirror(tokenID)
	m.BeginResync()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap, err := k.fetcher.FetchBook(ctx, tokenID)
		if err == nil {
			if err = m.ApplySnapshot(snap); err == nil {
				infra.GlobalMetrics.RecordResync()
				k.logger.Info("book resynced",
					slog.String("token", tokenID), slog.Uint64("seq", snap.Seq))
				return
			}
		}

		k.logger.Warn("resnapshot failed",
			slog.String("token", tokenID), slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(infra.CalculateBackoff(attempt)):
		}
	}
}
