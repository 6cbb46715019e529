package feed

import "time"

// Publisher decides whether a freshly extracted quote is worth
// emitting and remembers the last one it approved, per symbol. It
// holds no book state of its own — the slot it consults lives in the
// Engine — so it is a thin set of rules over Engine-owned cache fields.
type Publisher struct {
	heartbeat time.Duration
	now       func() time.Time
}

// NewPublisher builds a publisher with the given heartbeat silence
// threshold (spec canonical: 50ms).
func NewPublisher(heartbeat time.Duration) *Publisher {
	return &Publisher{heartbeat: heartbeat, now: time.Now}
}

// ShouldPublish answers the first matching rule from spec §4.4 for
// symbol i's freshly extracted quote q.
func (p *Publisher) ShouldPublish(e *Engine, i int, q Quote) bool {
	s := e.slots[i]

	if !s.hasPublished {
		return true
	}
	if q.IsValid != s.lastPublished.IsValid {
		return true
	}
	if !q.IsValid {
		return false
	}
	if !q.samePrices(s.lastPublished) {
		return true
	}
	return p.now().Sub(s.lastPublishTime) >= p.heartbeat
}

// RecordPublish overwrites symbol i's last-published cache with q and
// resets its publish clock.
func (p *Publisher) RecordPublish(e *Engine, i int, q Quote) {
	s := e.slots[i]
	s.lastPublished = q
	s.lastPublishTime = p.now()
	s.hasPublished = true
}

// HeartbeatDue reports whether symbol i is VALID and has gone silent
// for at least the heartbeat threshold since its last publish.
func (p *Publisher) HeartbeatDue(e *Engine, i int) bool {
	s := e.slots[i]
	if s.phase != Valid || !s.hasPublished {
		return false
	}
	return p.now().Sub(s.lastPublishTime) >= p.heartbeat
}
