// Package txmgr drives an execution plan through the submission lifecycle:
// simulate, price, sign, submit, monitor. It owns the per-chain circuit
// breaker and is the only code path that spends a nonce.
package txmgr

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/gas"
	"github.com/vegas-max/Titan2.0-sub003/internal/nonce"
	"github.com/vegas-max/Titan2.0-sub003/internal/router"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
)

// Config holds lifecycle parameters.
type Config struct {
	Paper           bool
	ConfirmTimeout  time.Duration
	ReceiptInterval time.Duration
	FallbackGas     uint64 // per-plan gas limit when the router made no estimate
}

// Manager executes plans. One Manager serves all chains; per-(chain, signer)
// nonce discipline lives in the allocator, per-chain failure accounting in
// the breaker set.
type Manager struct {
	pools    *rpc.Registry
	nonces   *nonce.Allocator
	oracle   *gas.Oracle
	breakers *BreakerSet
	store    domain.ExecutionStore // may be nil
	cfg      Config
	key      *ecdsa.PrivateKey // nil in paper mode
	signer   common.Address
	logger   *slog.Logger
}

// NewManager builds a Manager. key may be nil only when cfg.Paper is set.
func NewManager(pools *rpc.Registry, nonces *nonce.Allocator, oracle *gas.Oracle, breakers *BreakerSet, store domain.ExecutionStore, key *ecdsa.PrivateKey, cfg Config, logger *slog.Logger) (*Manager, error) {
	if key == nil && !cfg.Paper {
		return nil, fmt.Errorf("txmgr: live mode requires a signing key")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = 2 * time.Second
	}
	if cfg.FallbackGas == 0 {
		cfg.FallbackGas = 900_000
	}
	m := &Manager{
		pools:    pools,
		nonces:   nonces,
		oracle:   oracle,
		breakers: breakers,
		store:    store,
		cfg:      cfg,
		key:      key,
		logger:   logger.With(slog.String("component", "txmgr")),
	}
	if key != nil {
		m.signer = crypto.PubkeyToAddress(key.PublicKey)
	}
	return m, nil
}

// Signer returns the executing address, zero in keyless paper mode.
func (m *Manager) Signer() common.Address { return m.signer }

// EstimateGas implements router.GasEstimator through the endpoint pool.
func (m *Manager) EstimateGas(ctx context.Context, chain domain.ChainID, from, to common.Address, data []byte) (uint64, error) {
	var out uint64
	err := m.poolDo(ctx, chain, func(ctx context.Context, client *ethclient.Client) error {
		est, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
		if err != nil {
			return err
		}
		out = est
		return nil
	})
	return out, err
}

// Execute drives one opportunity through the full lifecycle under the chain's
// circuit breaker. It returns the terminal plan; the error position carries a
// *domain.Rejection for normal discards, domain.ErrCircuitOpen when the chain
// is refusing traffic, or a fault for everything else.
func (m *Manager) Execute(ctx context.Context, opp *domain.Opportunity, decision *router.Decision) (*domain.ExecutionPlan, error) {
	now := time.Now().UTC()
	if opp.Expired(now) {
		return nil, domain.Reject(domain.RejectStale, "opportunity %s expired at %s", opp.ID, opp.ExpiresAt().Format(time.RFC3339))
	}

	minOut := new(big.Int).Add(opp.LoanAmount, new(big.Int).Div(new(big.Int).Sub(opp.ExpectedOut, opp.LoanAmount), big.NewInt(2)))
	plan, err := domain.NewExecutionPlan(opp.ID, *opp, decision.Strategy, decision.Payload, minOut, m.signer, opp.ExpiresAt(), now)
	if err != nil {
		return nil, err
	}
	plan.RouteReason = decision.Reason
	plan.Target = decision.Target

	err = m.breakers.Execute(opp.Chain, func() error {
		return m.run(ctx, plan, decision)
	})
	m.record(ctx, plan, err)
	return plan, err
}

func (m *Manager) run(ctx context.Context, plan *domain.ExecutionPlan, decision *router.Decision) error {
	chain := plan.Opportunity.Chain

	// Simulate. A revert here means the chain state moved on since scanning;
	// the plan dies before any nonce or gas is spent.
	if err := m.simulate(ctx, chain, decision.Target, plan.Payload); err != nil {
		_ = plan.Transition(domain.PlanDropped)
		return err
	}
	if err := plan.Transition(domain.PlanSimulated); err != nil {
		return err
	}

	// Price. The oracle already applied the safety factor; the ceiling check
	// here is the last line, not the first.
	est := m.oracle.Estimate(ctx, chain)
	if est.ExceedsCeiling(m.oracle.Ceiling()) {
		_ = plan.Transition(domain.PlanDropped)
		return fmt.Errorf("%w: %s wei", domain.ErrGasCeilingExceeded, est.GasPrice.String())
	}
	if err := plan.Transition(domain.PlanPriced); err != nil {
		return err
	}

	if m.cfg.Paper {
		return m.paperFinish(plan, est)
	}

	gasLimit := decision.GasLimit
	if gasLimit == 0 {
		gasLimit = m.cfg.FallbackGas
	}

	// Deadline recheck on the submission clock. Simulation and pricing take
	// real time; a plan whose deadline passed meanwhile would submit a
	// transaction that can only revert on chain.
	if !time.Now().UTC().Before(plan.Deadline) {
		_ = plan.Transition(domain.PlanDropped)
		return domain.RejectWrap(domain.RejectStale, domain.ErrDeadlineExpired,
			"plan %s deadline %s passed before submission", plan.ID, plan.Deadline.Format(time.RFC3339))
	}

	// Sign. The nonce is exclusively ours from here until the plan reaches a
	// terminal state or we explicitly release it.
	n, err := m.nonces.Allocate(ctx, chain, m.signer)
	if err != nil {
		_ = plan.Transition(domain.PlanDropped)
		return err
	}
	plan.Nonce = n
	signed, err := m.sign(chain, plan, est, gasLimit)
	if err != nil {
		m.nonces.Release(chain, m.signer, n)
		_ = plan.Transition(domain.PlanDropped)
		return err
	}
	if err := plan.Transition(domain.PlanSigned); err != nil {
		m.nonces.Release(chain, m.signer, n)
		return err
	}

	// Submit, with a single retry after reconciliation on a nonce conflict.
	if err := m.submit(ctx, chain, signed); err != nil {
		if isNonceConflict(err) {
			m.nonces.Release(chain, m.signer, n)
			if recErr := m.nonces.Reconcile(ctx, chain, m.signer); recErr != nil {
				_ = plan.Transition(domain.PlanDropped)
				return fmt.Errorf("%w: reconcile after conflict: %v", domain.ErrNonceConflict, recErr)
			}
			n, err = m.nonces.Allocate(ctx, chain, m.signer)
			if err != nil {
				_ = plan.Transition(domain.PlanDropped)
				return err
			}
			plan.Nonce = n
			if signed, err = m.sign(chain, plan, est, gasLimit); err == nil {
				err = m.submit(ctx, chain, signed)
			}
			if err != nil {
				m.nonces.Release(chain, m.signer, n)
				_ = plan.Transition(domain.PlanDropped)
				return fmt.Errorf("%w: retry failed: %v", domain.ErrNonceConflict, err)
			}
		} else if isExplicitRejection(err) {
			// The node refused the transaction outright; the nonce was never
			// consumed.
			m.nonces.Release(chain, m.signer, n)
			_ = plan.Transition(domain.PlanDropped)
			return fmt.Errorf("txmgr: submission rejected: %w", err)
		} else {
			// Ambiguous network failure. The transaction may be in a mempool
			// somewhere; the nonce stays held until Reconcile observes chain
			// state, never released on a local timeout.
			_ = plan.Transition(domain.PlanDropped)
			return fmt.Errorf("txmgr: ambiguous submission failure, nonce %d held: %w", n, err)
		}
	}
	plan.TxHash = signed.Hash()
	plan.SubmittedAt = time.Now().UTC()
	if err := plan.Transition(domain.PlanSubmitted); err != nil {
		return err
	}
	m.logger.Info("transaction submitted",
		slog.String("chain", chain.Name()),
		slog.String("tx", plan.TxHash.Hex()),
		slog.Uint64("nonce", n),
		slog.String("strategy", string(plan.Strategy)))

	return m.monitor(ctx, plan)
}

// paperFinish walks a priced plan to Confirmed without touching a nonce or
// the network. Trades are logged exactly as a live run would report them.
func (m *Manager) paperFinish(plan *domain.ExecutionPlan, est gas.Estimate) error {
	_ = plan.Transition(domain.PlanSigned)
	_ = plan.Transition(domain.PlanSubmitted)
	plan.SubmittedAt = time.Now().UTC()
	_ = plan.Transition(domain.PlanConfirmed)
	m.logger.Info("paper execution",
		slog.String("chain", plan.Opportunity.Chain.Name()),
		slog.String("route", plan.Opportunity.Route.String()),
		slog.String("loan", plan.Opportunity.LoanAmount.String()),
		slog.Float64("net_usd", plan.Opportunity.NetProfitUSD),
		slog.Float64("gas_gwei", gas.WeiToGwei(est.GasPrice)))
	return nil
}

func (m *Manager) simulate(ctx context.Context, chain domain.ChainID, target common.Address, payload []byte) error {
	err := m.poolDo(ctx, chain, func(ctx context.Context, client *ethclient.Client) error {
		_, callErr := client.CallContract(ctx, ethereum.CallMsg{From: m.signer, To: &target, Data: payload}, nil)
		return callErr
	})
	if err == nil {
		return nil
	}
	if isRevert(err) {
		// Stale data, not a chain fault: the state moved on between scan and
		// preflight. Classified as a rejection so the breaker never counts it.
		return domain.RejectWrap(domain.RejectSimulation, domain.ErrSimulationReverted, "%v", err)
	}
	return fmt.Errorf("txmgr: simulation: %w", err)
}

func (m *Manager) sign(chain domain.ChainID, plan *domain.ExecutionPlan, est gas.Estimate, gasLimit uint64) (*types.Transaction, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(uint64(chain)),
		Nonce:     plan.Nonce,
		GasTipCap: est.TipCap,
		GasFeeCap: est.GasPrice,
		Gas:       gasLimit,
		To:        &plan.Target,
		Data:      plan.Payload,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(uint64(chain))), m.key)
	if err != nil {
		return nil, fmt.Errorf("txmgr: sign: %w", err)
	}
	return signed, nil
}

func (m *Manager) submit(ctx context.Context, chain domain.ChainID, tx *types.Transaction) error {
	return m.poolDo(ctx, chain, func(ctx context.Context, client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

// monitor polls for the receipt until confirmation or the confirm timeout.
// A timeout yields Dropped with the nonce still held; only Reconcile against
// observed chain state frees it.
func (m *Manager) monitor(ctx context.Context, plan *domain.ExecutionPlan) error {
	chain := plan.Opportunity.Chain
	deadline := time.Now().Add(m.cfg.ConfirmTimeout)
	ticker := time.NewTicker(m.cfg.ReceiptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = plan.Transition(domain.PlanDropped)
			return ctx.Err()
		case <-ticker.C:
		}

		var receipt *types.Receipt
		err := m.poolDo(ctx, chain, func(ctx context.Context, client *ethclient.Client) error {
			r, rErr := client.TransactionReceipt(ctx, plan.TxHash)
			if rErr != nil {
				return rErr
			}
			receipt = r
			return nil
		})
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				_ = plan.Transition(domain.PlanConfirmed)
				m.nonces.MarkUsed(chain, m.signer, plan.Nonce)
				m.logger.Info("transaction confirmed",
					slog.String("tx", plan.TxHash.Hex()),
					slog.Uint64("block", receipt.BlockNumber.Uint64()),
					slog.Uint64("gas_used", receipt.GasUsed))
				return nil
			}
			_ = plan.Transition(domain.PlanReverted)
			// A reverted transaction still consumed its nonce on chain.
			m.nonces.MarkUsed(chain, m.signer, plan.Nonce)
			return fmt.Errorf("txmgr: transaction %s reverted on chain", plan.TxHash.Hex())
		}

		if time.Now().After(deadline) {
			_ = plan.Transition(domain.PlanDropped)
			if recErr := m.nonces.Reconcile(ctx, chain, m.signer); recErr != nil {
				m.logger.Warn("reconcile after drop failed", slog.String("error", recErr.Error()))
			}
			return fmt.Errorf("txmgr: transaction %s unconfirmed after %s, dropped", plan.TxHash.Hex(), m.cfg.ConfirmTimeout)
		}
	}
}

func (m *Manager) poolDo(ctx context.Context, chain domain.ChainID, fn func(context.Context, *ethclient.Client) error) error {
	pool, err := m.pools.Pool(chain)
	if err != nil {
		return err
	}
	return pool.Do(ctx, fn)
}

func (m *Manager) record(ctx context.Context, plan *domain.ExecutionPlan, runErr error) {
	if m.store == nil {
		return
	}
	rec := domain.ExecutionRecord{
		ID:            uuid.NewString(),
		OpportunityID: plan.Opportunity.ID,
		Chain:         plan.Opportunity.Chain,
		Strategy:      plan.Strategy,
		State:         plan.State,
		TxHash:        plan.TxHash.Hex(),
		Nonce:         plan.Nonce,
		SubmittedAt:   plan.SubmittedAt,
	}
	if plan.Opportunity.GasPriceWei != nil {
		rec.GasPriceWei = plan.Opportunity.GasPriceWei.String()
	}
	if plan.State.Terminal() {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	if runErr != nil {
		rec.FailReason = runErr.Error()
	}
	if err := m.store.Create(ctx, rec); err != nil {
		m.logger.Warn("execution record write failed", slog.String("error", err.Error()))
	}
}

// isNonceConflict classifies node errors that mean our local nonce view has
// drifted from the chain.
func isNonceConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}

// isExplicitRejection classifies node errors that guarantee the transaction
// was never accepted into a mempool.
func isExplicitRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "underpriced") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "exceeds block gas limit") ||
		strings.Contains(msg, "invalid sender") ||
		strings.Contains(msg, "intrinsic gas too low")
}

// isRevert classifies a CallContract error as an EVM revert rather than a
// transport failure.
func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") ||
		strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "vm exception")
}
