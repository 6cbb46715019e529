// Package binance adapts Binance's combined-stream WebSocket API and
// depth-snapshot request/response API to the feed package's
// SnapshotFetcher and delta-source collaborator shapes.
package binance

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/recws-org/recws"
)

const (
	defaultWebsocketEndpoint = "wss://stream.binance.com:9443/stream"
	pingDelay                = time.Minute * 9
)

var logger = log.New(log.Writer(), "[binance] ", log.LstdFlags)

// SetLogOutput redirects this package's log output, e.g. to a rotating
// file writer configured at startup.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Message wraps one combined-stream event: {"stream": "...", "data": {...}}.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

type webSocketRequest struct {
	ReqId  int      `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

// StreamClient owns one auto-reconnecting WebSocket connection to the
// combined-stream endpoint and multiplexes topic subscriptions over it.
type StreamClient struct {
	conn          *recws.RecConn
	subscriptions map[string]*subscriptionEntry
	mu            sync.Mutex
	minBackoff    time.Duration
	maxBackoff    time.Duration
	resetCh       chan struct{}
}

// NewStreamClient builds a client using the reconnect backoff policy
// from spec §5: exponential, starting at minBackoff, capped at
// maxBackoff. A zero value on either falls back to recws's defaults.
func NewStreamClient(minBackoff, maxBackoff time.Duration) *StreamClient {
	return &StreamClient{
		subscriptions: make(map[string]*subscriptionEntry),
		minBackoff:    minBackoff,
		maxBackoff:    maxBackoff,
		resetCh:       make(chan struct{}, 1),
	}
}

// Resets reports every upstream read failure, which per spec §4.5
// means the caller must discard all in-flight book state: recws
// handles the reconnect itself, but subscriptions registered before
// the drop are gone from the exchange's side until resent.
func (c *StreamClient) Resets() <-chan struct{} {
	return c.resetCh
}

func (c *StreamClient) notifyReset() {
	select {
	case c.resetCh <- struct{}{}:
	default:
	}
}

// resubscribeAll re-sends a SUBSCRIBE request for every topic this
// client currently tracks, best-effort, after an upstream read failure.
func (c *StreamClient) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		_ = c.conn.WriteJSON(webSocketRequest{
			Method: "SUBSCRIBE",
			ReqId:  getRandomReqID(),
			Params: []string{topic},
		})
	}
}

func (c *StreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: pingDelay,
		NonVerbose:       false,
	}
	if c.minBackoff > 0 {
		conn.RecIntvlMin = c.minBackoff
	}
	if c.maxBackoff > 0 {
		conn.RecIntvlMax = c.maxBackoff
	}
	conn.Dial(defaultWebsocketEndpoint, nil)
	c.conn = conn

	go c.read()
	return nil
}

// Subscribe opens (or joins an existing) subscription to topic and
// returns the raw message channel. The caller owns decoding.
func (c *StreamClient) Subscribe(topic string) (<-chan []byte, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.conn.IsConnected() {
		return nil, nil, fmt.Errorf("binance: stream client: connection is not established")
	}

	entry, ok := c.subscriptions[topic]
	if ok {
		entry.subscriberCount++
		return entry.ch, func() { c.unsubscribe(topic) }, nil
	}

	ch := make(chan []byte, 64)
	c.subscriptions[topic] = &subscriptionEntry{ch: ch, subscriberCount: 1}

	logger.Println("subscribing to", topic)
	err := c.conn.WriteJSON(webSocketRequest{
		Method: "SUBSCRIBE",
		ReqId:  getRandomReqID(),
		Params: []string{topic},
	})
	if err != nil {
		delete(c.subscriptions, topic)
		return nil, nil, fmt.Errorf("binance: subscribe %s: %w", topic, err)
	}

	return ch, func() { c.unsubscribe(topic) }, nil
}

func (c *StreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}
	if entry.subscriberCount > 1 {
		entry.subscriberCount--
		return
	}

	close(entry.ch)
	delete(c.subscriptions, topic)

	_ = c.conn.WriteJSON(webSocketRequest{
		Method: "UNSUBSCRIBE",
		ReqId:  getRandomReqID(),
		Params: []string{topic},
	})
}

func (c *StreamClient) Close() error {
	return c.conn.Conn.Close()
}

func (c *StreamClient) read() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			logger.Printf("read error: %v", err)
			c.notifyReset()
			c.resubscribeAll()
			continue
		}

		var envelope map[string]interface{}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			logger.Printf("malformed message %s: %v", string(msg), err)
			continue
		}

		topic, ok := envelope["stream"].(string)
		if !ok {
			continue
		}

		c.mu.Lock()
		entry, ok := c.subscriptions[topic]
		c.mu.Unlock()
		if ok {
			entry.ch <- msg
		}
	}
}

func getRandomReqID() int {
	const min, max = 10000, 9999999
	return min + rand.Intn(max-min)
}
