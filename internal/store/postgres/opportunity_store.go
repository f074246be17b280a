package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore.
type OpportunityStore struct {
	client *Client
}

// NewOpportunityStore creates an OpportunityStore backed by the given Client.
func NewOpportunityStore(c *Client) *OpportunityStore {
	return &OpportunityStore{client: c}
}

// Create persists one gated opportunity.
func (s *OpportunityStore) Create(ctx context.Context, opp domain.Opportunity) error {
	const q = `
		INSERT INTO opportunities (
			id, chain_id, loan_token, loan_amount, expected_out,
			net_profit_usd, net_profit_bps, gas_estimate, gas_price_wei,
			slippage_bps, route, ttl_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.client.Pool().Exec(ctx, q,
		opp.ID,
		int64(opp.Chain),
		opp.LoanToken.Address.Hex(),
		opp.LoanAmount.String(),
		opp.ExpectedOut.String(),
		opp.NetProfitUSD,
		opp.NetProfitBps,
		int64(opp.GasEstimate),
		opp.GasPriceWei.String(),
		opp.SlippageBps,
		opp.Route.VenueIDs(),
		opp.TTL.Milliseconds(),
		opp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the newest opportunities for a chain. Rows carry the
// scalar fields only; the full route topology lives in the route column as
// venue IDs and is not rehydrated into hops.
func (s *OpportunityStore) ListRecent(ctx context.Context, chain domain.ChainID, limit int) ([]domain.Opportunity, error) {
	const q = `
		SELECT id, chain_id, loan_token, loan_amount, expected_out,
		       net_profit_usd, net_profit_bps, gas_estimate, gas_price_wei,
		       slippage_bps, ttl_ms, created_at
		FROM opportunities
		WHERE chain_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.client.Pool().Query(ctx, q, int64(chain), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var (
			opp                             domain.Opportunity
			chainID, gasEstimate, ttlMillis int64
			loanToken, loanAmt, expOut, gp  string
			createdAt                       time.Time
		)
		if err := rows.Scan(&opp.ID, &chainID, &loanToken, &loanAmt, &expOut,
			&opp.NetProfitUSD, &opp.NetProfitBps, &gasEstimate, &gp,
			&opp.SlippageBps, &ttlMillis, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.Chain = domain.ChainID(chainID)
		opp.GasEstimate = uint64(gasEstimate)
		opp.TTL = time.Duration(ttlMillis) * time.Millisecond
		opp.CreatedAt = createdAt
		opp.LoanAmount, _ = new(big.Int).SetString(loanAmt, 10)
		opp.ExpectedOut, _ = new(big.Int).SetString(expOut, 10)
		opp.GasPriceWei, _ = new(big.Int).SetString(gp, 10)
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return out, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
