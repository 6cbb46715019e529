package feed_test

import (
	"testing"
	"time"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
	"github.com/stretchr/testify/assert"
)

func validQuote(bidPrice float64) feed.Quote {
	q := feed.Quote{IsValid: true}
	q.Bids[0] = book.Level{Price: bidPrice, Qty: 1}
	return q
}

func TestPublisher_FirstQuoteAlwaysPublishes(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(time.Hour)

	assert.True(t, p.ShouldPublish(e, 0, validQuote(10)))
}

func TestPublisher_ValidityEdgeAlwaysPublishes(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(time.Hour)

	q := validQuote(10)
	p.RecordPublish(e, 0, q)

	invalid := feed.Quote{IsValid: false}
	assert.True(t, p.ShouldPublish(e, 0, invalid), "VALID -> INVALID edge must always publish")
}

func TestPublisher_RepeatedInvalidDoesNotRepublish(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(time.Hour)

	invalid := feed.Quote{IsValid: false}
	p.RecordPublish(e, 0, invalid)

	assert.False(t, p.ShouldPublish(e, 0, invalid))
}

func TestPublisher_PriceChangePublishesImmediately(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(time.Hour)

	p.RecordPublish(e, 0, validQuote(10))
	assert.True(t, p.ShouldPublish(e, 0, validQuote(11)))
}

func TestPublisher_SamePriceWithinHeartbeatSuppressed(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(time.Hour)

	p.RecordPublish(e, 0, validQuote(10))
	assert.False(t, p.ShouldPublish(e, 0, validQuote(10)))
}

func TestPublisher_SamePriceAfterHeartbeatPublishes(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(5 * time.Millisecond)

	p.RecordPublish(e, 0, validQuote(10))
	time.Sleep(10 * time.Millisecond)

	assert.True(t, p.ShouldPublish(e, 0, validQuote(10)))
}

func TestPublisher_HeartbeatDueRequiresValidAndPublishedBefore(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(5 * time.Millisecond)

	assert.False(t, p.HeartbeatDue(e, 0), "never published, no heartbeat yet")

	e.ApplySnapshot(0, feed.Snapshot{LastUpdateID: 100})
	e.ApplyReplayDelta(0, feed.Delta{FirstUpdateID: 100, FinalUpdateID: 101})
	p.RecordPublish(e, 0, validQuote(10))

	assert.False(t, p.HeartbeatDue(e, 0), "just published, should not be due yet")
	time.Sleep(10 * time.Millisecond)
	assert.True(t, p.HeartbeatDue(e, 0))
}

func TestPublisher_HeartbeatNotDueWhileInvalid(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	p := feed.NewPublisher(time.Nanosecond)

	p.RecordPublish(e, 0, feed.Quote{IsValid: false})
	time.Sleep(time.Millisecond)

	assert.False(t, p.HeartbeatDue(e, 0))
}
