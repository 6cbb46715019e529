package feed

import (
	"time"

	"github.com/gammazero/deque"
)

// slot bundles everything the per-symbol state machine and the
// change-detection publisher need for one symbol. Ladder data itself
// lives in the shared book.Store, indexed by the same symbol index.
type slot struct {
	phase Phase

	lastUpdateID     uint64
	snapshotUpdateID uint64
	exchEventTimeMs  int64

	buffer            deque.Deque[Delta]
	snapshotRequested bool

	lastPublished   Quote
	lastPublishTime time.Time
	hasPublished    bool
}

func newSlot() *slot {
	return &slot{phase: Init}
}

// clear scrubs sequencing and buffering state back to a fresh INIT
// slate. It does not touch the publisher cache: the publisher's job is
// to notice the validity edge on the next extracted quote, and it can
// only do that if it still remembers what it last published.
func (s *slot) clear() {
	s.lastUpdateID = 0
	s.snapshotUpdateID = 0
	s.exchEventTimeMs = 0
	s.buffer.Clear()
	s.snapshotRequested = false
}
