package feed

import (
	"sync"
	"time"
)

// Delta events dominate feed traffic; pool them to reduce GC pressure on the
// read path.
//
// Usage:
//
//	ev := AcquireEvent()
//	ev.Type = TypeDelta
//	// ... send, consumer releases after processing ...
//	ReleaseEvent(ev)
var eventPool = sync.Pool{
	New: func() interface{} {
		return &Event{}
	},
}

// AcquireEvent gets an Event from the pool. The returned event has zero
// values and must be initialized.
func AcquireEvent() *Event {
	return eventPool.Get().(*Event)
}

// ReleaseEvent returns an Event to the pool, reset to zero values. Snapshot
// level slices are dropped, not reused; their sizes vary too much to be worth
// pooling.
func ReleaseEvent(ev *Event) {
	if ev == nil {
		return
	}
	ev.Type = 0
	ev.TokenID = ""
	ev.Seq = 0
	ev.At = time.Time{}
	ev.Bids = nil
	ev.Asks = nil
	ev.Changes = ev.Changes[:0]

	eventPool.Put(ev)
}
