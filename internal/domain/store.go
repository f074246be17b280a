package domain

import (
	"context"
	"math/big"
	"time"
)

// ExecutionRecord is the persisted outcome of one plan's lifecycle, written
// regardless of whether the submission succeeded. Nothing about an execution
// attempt may be silently dropped.
type ExecutionRecord struct {
	ID              string
	OpportunityID   string
	Chain           ChainID
	Strategy        StrategyKind
	State           PlanState
	TxHash          string
	Nonce           uint64
	GasPriceWei     string
	ActualProfitUSD float64
	FailReason      string
	SubmittedAt     time.Time
	CompletedAt     *time.Time
}

// RejectionRecord is the persisted form of a Rejection, kept for threshold
// tuning and audits.
type RejectionRecord struct {
	ID        string
	Chain     ChainID
	RouteDesc string
	Code      RejectionCode
	Detail    string
	CreatedAt time.Time
}

// OpportunityStore persists gated opportunities.
type OpportunityStore interface {
	Create(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, chain ChainID, limit int) ([]Opportunity, error)
}

// ExecutionStore persists execution attempts and their terminal outcomes.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	UpdateState(ctx context.Context, id string, state PlanState, txHash string, completedAt *time.Time) error
	ListRecent(ctx context.Context, chain ChainID, limit int) ([]ExecutionRecord, error)
}

// RejectionStore persists discovery/evaluation rejections.
type RejectionStore interface {
	Create(ctx context.Context, rec RejectionRecord) error
}

// ReserveCache mirrors venue reserves with a short TTL so concurrent scans on
// one process (or several) share reads. Staleness is bounded by the TTL, not
// unbounded.
type ReserveCache interface {
	SetReserves(ctx context.Context, venueID string, reserve0, reserve1 *big.Int, ts time.Time) error
	GetReserves(ctx context.Context, venueID string) (reserve0, reserve1 *big.Int, ts time.Time, err error)
	Invalidate(ctx context.Context, venueID string) error
}

// SignalBus publishes execution signals to interested consumers (dashboard,
// settlement collaborator mirror). The file handoff in internal/signal is the
// authoritative boundary; the bus is observability.
type SignalBus interface {
	Publish(ctx context.Context, sig ExecutionSignal) error
}

// TVLReservation tracks loan headroom shared across executors: concurrent
// loans against the same (chain, token) must not jointly exceed the lender
// TVL fraction. It is a reservation counter, not a hard lock.
type TVLReservation interface {
	// Reserve adds amount to the outstanding reservation for (chain, token)
	// and returns the new total.
	Reserve(ctx context.Context, chain ChainID, token string, amount *big.Int) (*big.Int, error)
	// Release subtracts a previously reserved amount.
	Release(ctx context.Context, chain ChainID, token string, amount *big.Int) error
}

// BlobWriter uploads archive objects (processed signals, execution reports).
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
