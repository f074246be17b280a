// Package rpc maintains the ranked endpoint pools the engine uses to reach
// each chain. Every network read and write goes through a pool's Do call,
// which picks the healthiest endpoint and fails over automatically.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// EndpointHealth is the mutable health record for one endpoint. It is owned
// by the pool and mutated only by the pool's own dispatch and health-check
// paths.
type EndpointHealth struct {
	URL                 string
	LatencyEMA          time.Duration
	ConsecutiveFailures int
	LastSuccessAt       time.Time
}

// emaAlpha weights new latency samples in the moving average.
const emaAlpha = 0.3

type endpoint struct {
	url    string
	client *ethclient.Client
	health EndpointHealth
}

// Pool is the logical "send request" handle for one chain. It maintains N
// ranked endpoints, health-checks them, and dispatches each call to the best
// candidate with failover to the rest.
type Pool struct {
	chain   domain.ChainID
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	endpoints []*endpoint
}

// NewPool dials every configured endpoint URL for the chain. Endpoints that
// fail to dial are still kept in the rotation (marked failed) so they can
// recover later; the pool errors only when no endpoint dials at all.
func NewPool(ctx context.Context, chain domain.ChainID, urls []string, timeout time.Duration, logger *slog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("rpc: chain %s: no endpoints configured", chain.Name())
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	p := &Pool{
		chain:   chain,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "endpoint_pool"), slog.Uint64("chain", uint64(chain))),
	}

	dialed := 0
	for _, url := range urls {
		ep := &endpoint{url: url, health: EndpointHealth{URL: url}}
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err != nil {
			p.logger.Warn("endpoint dial failed",
				slog.String("endpoint", url),
				slog.String("error", err.Error()),
			)
			ep.health.ConsecutiveFailures = 1
		} else {
			ep.client = client
			dialed++
		}
		p.endpoints = append(p.endpoints, ep)
	}
	if dialed == 0 {
		return nil, fmt.Errorf("rpc: chain %s: %w", chain.Name(), domain.ErrNetworkUnavailable)
	}
	return p, nil
}

// Chain returns the pool's chain ID.
func (p *Pool) Chain() domain.ChainID { return p.chain }

// Do dispatches fn against the healthiest endpoint, failing over to the
// remaining endpoints in rank order. Context cancellation aborts immediately;
// any other failure marks the endpoint and moves on. When every endpoint
// fails, Do returns domain.ErrNetworkUnavailable wrapping the last error.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, client *ethclient.Client) error) error {
	ranked := p.ranked()
	var lastErr error
	for _, ep := range ranked {
		// The client pointer is written by redial and Close under the lock;
		// it must be read under the lock too.
		client := p.clientOf(ep)
		if client == nil {
			if !p.redial(ctx, ep) {
				continue
			}
			client = p.clientOf(ep)
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		err := fn(callCtx, client)
		cancel()

		if err == nil {
			p.recordSuccess(ep, time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		p.recordFailure(ep)
		p.logger.Debug("endpoint call failed, failing over",
			slog.String("endpoint", ep.url),
			slog.String("error", err.Error()),
		)
	}
	if lastErr == nil {
		lastErr = errors.New("no dialable endpoint")
	}
	return fmt.Errorf("rpc: chain %s: %w: %w", p.chain.Name(), domain.ErrNetworkUnavailable, lastErr)
}

// ranked returns the endpoints ordered best-first: fewest consecutive
// failures, then lowest latency EMA.
func (p *Pool) ranked() []*endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].health.ConsecutiveFailures != out[j].health.ConsecutiveFailures {
			return out[i].health.ConsecutiveFailures < out[j].health.ConsecutiveFailures
		}
		return out[i].health.LatencyEMA < out[j].health.LatencyEMA
	})
	return out
}

func (p *Pool) clientOf(ep *endpoint) *ethclient.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ep.client
}

func (p *Pool) redial(ctx context.Context, ep *endpoint) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, ep.url)
	if err != nil {
		p.recordFailure(ep)
		return false
	}
	p.mu.Lock()
	ep.client = client
	p.mu.Unlock()
	return true
}

func (p *Pool) recordSuccess(ep *endpoint, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &ep.health
	if h.LatencyEMA == 0 {
		h.LatencyEMA = latency
	} else {
		h.LatencyEMA = time.Duration(float64(h.LatencyEMA)*(1-emaAlpha) + float64(latency)*emaAlpha)
	}
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = time.Now().UTC()
}

func (p *Pool) recordFailure(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.health.ConsecutiveFailures++
}

// HealthCheck probes every endpoint with a block-number read and updates the
// health records. Intended to run on a ticker from the monitor loop.
func (p *Pool) HealthCheck(ctx context.Context) {
	p.mu.Lock()
	eps := make([]*endpoint, len(p.endpoints))
	copy(eps, p.endpoints)
	p.mu.Unlock()

	for _, ep := range eps {
		client := p.clientOf(ep)
		if client == nil {
			if !p.redial(ctx, ep) {
				continue
			}
			client = p.clientOf(ep)
		}
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		_, err := client.BlockNumber(probeCtx)
		cancel()
		if err != nil {
			p.recordFailure(ep)
			continue
		}
		p.recordSuccess(ep, time.Since(start))
	}
}

// Healthy reports whether at least one endpoint has a recent success.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if ep.client != nil && ep.health.ConsecutiveFailures == 0 {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of every endpoint's health record for logs and the
// monitor mode.
func (p *Pool) Snapshot() []EndpointHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EndpointHealth, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = ep.health
	}
	return out
}

// Close releases every dialed client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
	}
}
