package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arkwave/feedhandler/feed"
)

// SyncAPI serves point-in-time depth snapshots over Binance's
// request/response WebSocket API, implementing feed.SnapshotFetcher.
type SyncAPI struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
	in         chan []byte
}

type genericMessage[T any] struct {
	ID     int `json:"id"`
	Status int `json:"status"`
	Result T   `json:"result"`
}

func NewSyncAPI() (*SyncAPI, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}

	endpoint := os.Getenv("BINANCE_WS_API_ENDPOINT")
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: dial sync api: %w", err)
	}

	api := &SyncAPI{conn: conn, in: make(chan []byte)}
	go api.listen()
	return api, nil
}

type depthResult struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// FetchSnapshot implements feed.SnapshotFetcher.
func (api *SyncAPI) FetchSnapshot(ctx context.Context, symbol string, limit int) (feed.Snapshot, error) {
	reqID := getRandomReqID()

	params := map[string]interface{}{
		"symbol": symbol,
		"limit":  fmt.Sprintf("%d", limit),
	}

	api.writeMutex.Lock()
	err := api.conn.WriteJSON(map[string]interface{}{
		"method": "depth",
		"params": params,
		"id":     reqID,
	})
	api.writeMutex.Unlock()
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("binance: snapshot request: %w", err)
	}

	msg, err := api.waitForResponse(ctx, reqID)
	if err != nil {
		return feed.Snapshot{}, err
	}

	var response genericMessage[depthResult]
	if err := json.Unmarshal(msg, &response); err != nil {
		return feed.Snapshot{}, fmt.Errorf("binance: decode snapshot response: %w", err)
	}

	bids, err := toLevels(response.Result.Bids)
	if err != nil {
		return feed.Snapshot{}, err
	}
	asks, err := toLevels(response.Result.Asks)
	if err != nil {
		return feed.Snapshot{}, err
	}

	return feed.Snapshot{
		LastUpdateID: response.Result.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func (api *SyncAPI) listen() {
	for {
		_, message, err := api.conn.ReadMessage()
		if err != nil {
			logger.Println(err)
			return
		}
		api.in <- message
	}
}

var ErrSnapshotTimeout = errors.New("binance: snapshot request timed out")

func (api *SyncAPI) waitForResponse(ctx context.Context, messageID int) ([]byte, error) {
	for {
		select {
		case msg := <-api.in:
			var response map[string]interface{}
			if err := json.Unmarshal(msg, &response); err != nil {
				return nil, err
			}
			id, ok := response["id"].(float64)
			if !ok || int(id) != messageID {
				continue
			}
			return msg, nil

		case <-time.After(10 * time.Second):
			return nil, ErrSnapshotTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
