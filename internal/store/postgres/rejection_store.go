package postgres

import (
	"context"
	"fmt"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// RejectionStore implements domain.RejectionStore. Rejections are kept for
// threshold tuning; volume is high, so writes are fire-and-forget from the
// pipeline's perspective.
type RejectionStore struct {
	client *Client
}

// NewRejectionStore creates a RejectionStore backed by the given Client.
func NewRejectionStore(c *Client) *RejectionStore {
	return &RejectionStore{client: c}
}

// Create persists one rejection.
func (s *RejectionStore) Create(ctx context.Context, rec domain.RejectionRecord) error {
	const q = `
		INSERT INTO rejections (id, chain_id, route_desc, code, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.client.Pool().Exec(ctx, q,
		rec.ID, int64(rec.Chain), rec.RouteDesc, string(rec.Code), rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert rejection %s: %w", rec.ID, err)
	}
	return nil
}

var _ domain.RejectionStore = (*RejectionStore)(nil)
