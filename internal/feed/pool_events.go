// Package feed subscribes to pool events over a websocket RPC endpoint and
// invalidates cached reserves when a venue trades. The feed is an
// accelerator: the scanner's polling path is fully correct without it, so a
// chain without a websocket endpoint simply degrades to poll-only freshness.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

const (
	handshakeTimeout = 15 * time.Second
	writeWait        = 10 * time.Second
	// readIdleTimeout bounds how long a healthy subscription may stay silent
	// before the connection is recycled.
	readIdleTimeout = 90 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// syncTopic is the Uniswap V2 Sync(uint112,uint112) event signature; every
// reserve-changing action on a constant-product pool emits it.
var syncTopic = common.HexToHash("0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1")

// swapTopics cover the venue kinds that do not emit Sync.
var swapTopics = []common.Hash{
	// Uniswap V3 Swap(address,address,int256,int256,uint160,uint128,int24)
	common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"),
}

// Invalidator is the cache surface the feed drives.
type Invalidator interface {
	Invalidate(ctx context.Context, venueID string)
}

// PoolEvents watches one chain's configured pools over a websocket endpoint.
type PoolEvents struct {
	chain     domain.ChainID
	wsURL     string
	pools     []common.Address
	poolIDs   map[common.Address]string // pool address -> venue ID
	cache     Invalidator
	logger    *slog.Logger
	requestID atomic.Int64
}

// NewPoolEvents builds the feed for one chain. pools maps every watched pool
// address to its venue ID.
func NewPoolEvents(chain domain.ChainID, wsURL string, pools map[common.Address]string, cache Invalidator, logger *slog.Logger) *PoolEvents {
	addrs := make([]common.Address, 0, len(pools))
	for addr := range pools {
		addrs = append(addrs, addr)
	}
	return &PoolEvents{
		chain:   chain,
		wsURL:   wsURL,
		pools:   addrs,
		poolIDs: pools,
		cache:   cache,
		logger:  logger.With(slog.String("component", "pool_feed"), slog.String("chain", chain.Name())),
	}
}

// Run maintains the subscription until the context ends, reconnecting with
// capped exponential backoff. It never returns an error; feed loss is a
// logged degradation, not a fault.
func (p *PoolEvents) Run(ctx context.Context) {
	if p.wsURL == "" || len(p.pools) == 0 {
		p.logger.Info("pool feed disabled, polling only")
		return
	}

	delay := reconnectDelay
	for {
		if err := p.session(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("pool feed session ended", slog.String("error", err.Error()), slog.Duration("retry_in", delay))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connect-subscribe-read cycle.
func (p *PoolEvents) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := p.subscribe(conn); err != nil {
		return err
	}
	p.logger.Info("pool feed connected", slog.Int("pools", len(p.pools)))

	for {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, body, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		p.handle(ctx, body)
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type logNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Address string   `json:"address"`
			Topics  []string `json:"topics"`
		} `json:"result"`
	} `json:"params"`
}

func (p *PoolEvents) subscribe(conn *websocket.Conn) error {
	topics := make([]string, 0, len(swapTopics)+1)
	topics = append(topics, syncTopic.Hex())
	for _, t := range swapTopics {
		topics = append(topics, t.Hex())
	}
	addrs := make([]string, 0, len(p.pools))
	for _, a := range p.pools {
		addrs = append(addrs, strings.ToLower(a.Hex()))
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      p.requestID.Add(1),
		Method:  "eth_subscribe",
		Params: []any{"logs", map[string]any{
			"address": addrs,
			// One position-0 filter: any of the watched event signatures.
			"topics": []any{topics},
		}},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (p *PoolEvents) handle(ctx context.Context, body []byte) {
	var note logNotification
	if err := json.Unmarshal(body, &note); err != nil || note.Method != "eth_subscription" {
		return
	}
	addr := common.HexToAddress(note.Params.Result.Address)
	venueID, ok := p.poolIDs[addr]
	if !ok {
		return
	}
	p.cache.Invalidate(ctx, venueID)
	p.logger.Debug("reserves invalidated by event", slog.String("venue", venueID))
}
