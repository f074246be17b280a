// Package nonce issues exclusive transaction sequence numbers per
// (chain, signer) pair. Nonce state is the most contention-sensitive resource
// in the engine: each key is guarded by its own mutex so allocation is
// strictly serialized per key while unrelated keys proceed concurrently.
package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
)

// maxInFlight caps outstanding allocations per (chain, signer). Held nonces
// accumulate when submissions end ambiguously; past this point the local
// sequence has drifted too far ahead of the chain to keep issuing.
const maxInFlight = 64

// key scopes nonce state to one signer on one chain.
type key struct {
	chain  domain.ChainID
	signer common.Address
}

// state is the exclusive nonce record for one key. next is the lowest nonce
// never handed out; inFlight holds allocated nonces whose plans are not yet
// terminal.
type state struct {
	mu          sync.Mutex
	initialized bool
	next        uint64
	inFlight    map[uint64]bool
}

// Allocator hands out nonces backed by observed chain state. A nonce, once
// allocated to an in-flight plan, is never re-issued until that plan reaches
// a terminal state or the nonce is explicitly released.
type Allocator struct {
	pools  *rpc.Registry
	logger *slog.Logger

	mu     sync.Mutex
	states map[key]*state
}

// NewAllocator creates an Allocator that reconciles against chain state
// through the given endpoint registry.
func NewAllocator(pools *rpc.Registry, logger *slog.Logger) *Allocator {
	return &Allocator{
		pools:  pools,
		logger: logger.With(slog.String("component", "nonce_allocator")),
		states: make(map[key]*state),
	}
}

func (a *Allocator) state(chain domain.ChainID, signer common.Address) *state {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{chain: chain, signer: signer}
	st, ok := a.states[k]
	if !ok {
		st = &state{inFlight: make(map[uint64]bool)}
		a.states[k] = st
	}
	return st
}

// Allocate returns the next exclusive nonce for (chain, signer), initializing
// from the chain's pending nonce on first use. The returned nonce is marked
// in-flight until MarkUsed or Release.
func (a *Allocator) Allocate(ctx context.Context, chain domain.ChainID, signer common.Address) (uint64, error) {
	st := a.state(chain, signer)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.inFlight) >= maxInFlight {
		return 0, fmt.Errorf("nonce: %d in flight for %s/%s: %w",
			len(st.inFlight), chain.Name(), signer.Hex(), domain.ErrNonceExhausted)
	}

	if !st.initialized {
		pending, err := a.pendingNonce(ctx, chain, signer)
		if err != nil {
			return 0, fmt.Errorf("nonce: init %s/%s: %w", chain.Name(), signer.Hex(), err)
		}
		st.next = pending
		st.initialized = true
	}

	n := st.next
	for st.inFlight[n] {
		n++
	}
	st.inFlight[n] = true
	if n >= st.next {
		st.next = n + 1
	}

	a.logger.Debug("nonce allocated",
		slog.Uint64("chain", uint64(chain)),
		slog.String("signer", signer.Hex()),
		slog.Uint64("nonce", n),
	)
	return n, nil
}

// MarkUsed records that an allocated nonce was consumed on chain (its plan
// confirmed or reverted on chain, either way the sequence number is spent).
func (a *Allocator) MarkUsed(chain domain.ChainID, signer common.Address, n uint64) {
	st := a.state(chain, signer)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.inFlight, n)
}

// Release returns a nonce that never reached the chain (explicit rejection,
// abort before submission) so it can be allocated again. Releasing a nonce
// below next rewinds next, otherwise a gap would stall every later
// transaction.
func (a *Allocator) Release(chain domain.ChainID, signer common.Address, n uint64) {
	st := a.state(chain, signer)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.inFlight, n)
	if n < st.next {
		st.next = n
	}
	a.logger.Debug("nonce released",
		slog.Uint64("chain", uint64(chain)),
		slog.String("signer", signer.Hex()),
		slog.Uint64("nonce", n),
	)
}

// Reconcile re-reads the chain's pending nonce and fast-forwards local state
// past sequence numbers the chain has already seen. In-flight allocations at
// or above the chain nonce are preserved; stale entries below it are cleared,
// they can never be submitted again.
func (a *Allocator) Reconcile(ctx context.Context, chain domain.ChainID, signer common.Address) error {
	pending, err := a.pendingNonce(ctx, chain, signer)
	if err != nil {
		return fmt.Errorf("nonce: reconcile %s/%s: %w", chain.Name(), signer.Hex(), err)
	}

	st := a.state(chain, signer)
	st.mu.Lock()
	defer st.mu.Unlock()
	for n := range st.inFlight {
		if n < pending {
			delete(st.inFlight, n)
		}
	}
	if pending > st.next {
		st.next = pending
	}
	st.initialized = true
	a.logger.Info("nonce state reconciled",
		slog.Uint64("chain", uint64(chain)),
		slog.String("signer", signer.Hex()),
		slog.Uint64("pending", pending),
	)
	return nil
}

// Seed initializes local state for (chain, signer) to a known pending nonce
// without touching the network. Useful when the caller has just observed
// chain state itself.
func (a *Allocator) Seed(chain domain.ChainID, signer common.Address, pending uint64) {
	st := a.state(chain, signer)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.initialized || pending > st.next {
		st.next = pending
	}
	st.initialized = true
}

// InFlight returns the number of outstanding allocations for (chain, signer).
func (a *Allocator) InFlight(chain domain.ChainID, signer common.Address) int {
	st := a.state(chain, signer)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.inFlight)
}

func (a *Allocator) pendingNonce(ctx context.Context, chain domain.ChainID, signer common.Address) (uint64, error) {
	pool, err := a.pools.Pool(chain)
	if err != nil {
		return 0, err
	}
	var pending uint64
	err = pool.Do(ctx, func(ctx context.Context, client *ethclient.Client) error {
		n, err := client.PendingNonceAt(ctx, signer)
		if err != nil {
			return err
		}
		pending = n
		return nil
	})
	return pending, err
}
