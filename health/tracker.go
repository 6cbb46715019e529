// Package health tracks the feed handler's own liveness — message
// counts, last-activity timestamps, and connection state — for
// periodic reporting to the tick-capture service, grounded on
// _examples/original_source/cpp/include/quote_feed_handler.hpp's
// HEALTH TRACKING fields (startTime_, msgsReceived_, msgsPublished_,
// lastMsgTime_, lastPubTime_, connState_).
package health

import "sync"

// ConnState mirrors spec.md §6's connection-state label.
type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
	Reconnecting ConnState = "reconnecting"
)

// Tracker accumulates the counters and timestamps one Row snapshot
// reports. It is safe for concurrent use since the production binary
// updates it from the main event loop while a separate ticker reads it.
type Tracker struct {
	mu sync.Mutex

	startTimeNs    int64
	received       int64
	published      int64
	lastRecvTimeNs int64
	lastPubTimeNs  int64
	state          ConnState
}

// NewTracker starts a tracker whose clock began at startTimeNs.
func NewTracker(startTimeNs int64) *Tracker {
	return &Tracker{startTimeNs: startTimeNs, state: Disconnected}
}

// RecordReceived marks one inbound upstream message at nowNs.
func (t *Tracker) RecordReceived(nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received++
	t.lastRecvTimeNs = nowNs
}

// RecordPublished marks one outbound downstream publish at nowNs.
func (t *Tracker) RecordPublished(nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published++
	t.lastPubTimeNs = nowNs
}

// SetState updates the reported connection state.
func (t *Tracker) SetState(s ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Row is the point-in-time snapshot handed to the sink.
type Row struct {
	CurrentTimeNs  int64
	StartTimeNs    int64
	UptimeSec      int64
	ReceivedCount  int64
	PublishedCount int64
	LastRecvTimeNs int64
	LastPubTimeNs  int64
	ConnState      string
}

// Snapshot builds a Row as of nowNs.
func (t *Tracker) Snapshot(nowNs int64) Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Row{
		CurrentTimeNs:  nowNs,
		StartTimeNs:    t.startTimeNs,
		UptimeSec:      (nowNs - t.startTimeNs) / 1e9,
		ReceivedCount:  t.received,
		PublishedCount: t.published,
		LastRecvTimeNs: t.lastRecvTimeNs,
		LastPubTimeNs:  t.lastPubTimeNs,
		ConnState:      string(t.state),
	}
}
