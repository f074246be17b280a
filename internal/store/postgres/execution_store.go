package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore.
type ExecutionStore struct {
	client *Client
}

// NewExecutionStore creates an ExecutionStore backed by the given Client.
func NewExecutionStore(c *Client) *ExecutionStore {
	return &ExecutionStore{client: c}
}

// Create persists one execution attempt.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	const q = `
		INSERT INTO executions (
			id, opportunity_id, chain_id, strategy, state, tx_hash, nonce,
			gas_price_wei, actual_profit_usd, fail_reason, submitted_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	var submitted *time.Time
	if !rec.SubmittedAt.IsZero() {
		submitted = &rec.SubmittedAt
	}
	_, err := s.client.Pool().Exec(ctx, q,
		rec.ID,
		rec.OpportunityID,
		int64(rec.Chain),
		string(rec.Strategy),
		string(rec.State),
		rec.TxHash,
		int64(rec.Nonce),
		orZero(rec.GasPriceWei),
		rec.ActualProfitUSD,
		rec.FailReason,
		submitted,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateState moves a persisted execution to a new lifecycle state.
func (s *ExecutionStore) UpdateState(ctx context.Context, id string, state domain.PlanState, txHash string, completedAt *time.Time) error {
	const q = `
		UPDATE executions
		SET state = $2, tx_hash = $3, completed_at = $4
		WHERE id = $1`
	tag, err := s.client.Pool().Exec(ctx, q, id, string(state), txHash, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: update execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update execution %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the newest execution records for a chain.
func (s *ExecutionStore) ListRecent(ctx context.Context, chain domain.ChainID, limit int) ([]domain.ExecutionRecord, error) {
	const q = `
		SELECT id, opportunity_id, chain_id, strategy, state, tx_hash, nonce,
		       gas_price_wei, actual_profit_usd, fail_reason, submitted_at, completed_at
		FROM executions
		WHERE chain_id = $1
		ORDER BY submitted_at DESC NULLS LAST
		LIMIT $2`

	rows, err := s.client.Pool().Query(ctx, q, int64(chain), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec             domain.ExecutionRecord
			chainID, nonce  int64
			strategy, state string
			submitted       *time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.OpportunityID, &chainID, &strategy, &state,
			&rec.TxHash, &nonce, &rec.GasPriceWei, &rec.ActualProfitUSD,
			&rec.FailReason, &submitted, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec.Chain = domain.ChainID(chainID)
		rec.Nonce = uint64(nonce)
		rec.Strategy = domain.StrategyKind(strategy)
		rec.State = domain.PlanState(state)
		if submitted != nil {
			rec.SubmittedAt = *submitted
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return out, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
