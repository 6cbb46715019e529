package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	kucoinsdk "github.com/Kucoin/kucoin-go-sdk"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
)

// SyncAPI serves point-in-time depth snapshots over Kucoin's REST API,
// implementing feed.SnapshotFetcher.
type SyncAPI struct {
	apiService *kucoinsdk.ApiService
	registry   *SymbolRegistry
}

func NewSyncAPI(registry *SymbolRegistry) *SyncAPI {
	return &SyncAPI{
		apiService: kucoinsdk.NewApiService(
			kucoinsdk.ApiKeyOption(os.Getenv("KUCOIN_API_KEY")),
			kucoinsdk.ApiSecretOption(os.Getenv("KUCOIN_SECRET_KEY")),
			kucoinsdk.ApiPassPhraseOption(os.Getenv("KUCOIN_PASSPHRASE")),
		),
		registry: registry,
	}
}

// WSConnOpts is the decoded token response Kucoin requires before
// opening the public WebSocket feed, adapted from kucoinsdk.WebSocketTokenModel.
type WSConnOpts struct {
	Token   string
	Servers []struct {
		Endpoint     string `json:"endpoint"`
		Encrypt      bool   `json:"encrypt"`
		Protocol     string `json:"protocol"`
		PingInterval int    `json:"pingInterval"`
		PingTimeout  int    `json:"pingTimeout"`
	}
}

// Endpoint builds the connect URL from the first instance server and
// the session token, as required by Kucoin's WS bootstrap protocol.
func (o *WSConnOpts) Endpoint() string {
	if len(o.Servers) == 0 {
		return ""
	}
	return fmt.Sprintf("%s?token=%s", o.Servers[0].Endpoint, o.Token)
}

func (api *SyncAPI) WsConnOpts() (*WSConnOpts, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("kucoin: ws connection options: %w", err)
	}

	var data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			Encrypt      bool   `json:"encrypt"`
			Protocol     string `json:"protocol"`
			PingInterval int    `json:"pingInterval"`
			PingTimeout  int    `json:"pingTimeout"`
		} `json:"instanceServers"`
	}
	if err := json.Unmarshal([]byte(resp.RawData), &data); err != nil {
		return nil, fmt.Errorf("kucoin: unmarshal ws token response: %w, response: %s", err, resp.RawData)
	}

	opts := &WSConnOpts{Token: data.Token}
	for _, s := range data.InstanceServers {
		opts.Servers = append(opts.Servers, struct {
			Endpoint     string `json:"endpoint"`
			Encrypt      bool   `json:"encrypt"`
			Protocol     string `json:"protocol"`
			PingInterval int    `json:"pingInterval"`
			PingTimeout  int    `json:"pingTimeout"`
		}{s.Endpoint, s.Encrypt, s.Protocol, s.PingInterval, s.PingTimeout})
	}
	return opts, nil
}

type orderBookSnapshotResponse struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

// FetchSnapshot implements feed.SnapshotFetcher.
func (api *SyncAPI) FetchSnapshot(ctx context.Context, canonicalKey string, limit int) (feed.Snapshot, error) {
	ms, err := api.registry.resolve(canonicalKey)
	if err != nil {
		return feed.Snapshot{}, err
	}

	resp, err := api.apiService.AggregatedFullOrderBookV3(strings.ToUpper(ms.Join("-")))
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("kucoin: fetch snapshot for %s: %w", canonicalKey, err)
	}

	var data orderBookSnapshotResponse
	if err := json.Unmarshal(resp.RawData, &data); err != nil {
		return feed.Snapshot{}, fmt.Errorf("kucoin: unmarshal snapshot response: %w, response: %s", err, resp.RawData)
	}

	lastUpdateID, err := strconv.ParseUint(data.Sequence, 10, 64)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("kucoin: parse sequence %q: %w", data.Sequence, err)
	}

	bids, err := toLevels(data.Bids)
	if err != nil {
		return feed.Snapshot{}, err
	}
	asks, err := toLevels(data.Asks)
	if err != nil {
		return feed.Snapshot{}, err
	}

	truncated := bids
	if len(truncated) > limit {
		truncated = truncated[:limit]
	}
	askTruncated := asks
	if len(askTruncated) > limit {
		askTruncated = askTruncated[:limit]
	}

	return feed.Snapshot{
		LastUpdateID: lastUpdateID,
		Bids:         truncated,
		Asks:         askTruncated,
	}, nil
}

func toLevels(raw [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("kucoin: level pair has %d fields, want 2", len(pair))
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("kucoin: parse price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("kucoin: parse qty %q: %w", pair[1], err)
		}
		levels = append(levels, book.Level{Price: price, Qty: qty})
	}
	return levels, nil
}
