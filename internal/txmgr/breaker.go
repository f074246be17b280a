package txmgr

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

// BreakerConfig holds the per-chain circuit thresholds.
type BreakerConfig struct {
	Threshold uint32        // consecutive failures before the circuit opens
	Cooldown  time.Duration // minimum open time before a half-open probe
}

// BreakerSet maintains one circuit breaker per chain. A chain whose circuit
// is open keeps scanning at a degraded cadence; only execution through that
// chain is refused. Rejections and stale opportunities are normal outcomes
// and never count as failures.
type BreakerSet struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[domain.ChainID]*gobreaker.CircuitBreaker
	onOpen   func(chain domain.ChainID, failures uint32)
}

// NewBreakerSet builds a BreakerSet.
func NewBreakerSet(cfg BreakerConfig, logger *slog.Logger) *BreakerSet {
	if cfg.Threshold == 0 {
		cfg.Threshold = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &BreakerSet{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "breaker")),
		breakers: make(map[domain.ChainID]*gobreaker.CircuitBreaker),
	}
}

func (s *BreakerSet) breaker(chain domain.ChainID) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[chain]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: chain.Name(),
		// A single half-open probe decides recovery.
		MaxRequests: 1,
		Timeout:     s.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.Threshold
		},
		IsSuccessful: func(err error) bool {
			// Evaluator rejections, staleness, and preflight reverts are
			// outcomes of stale data, not chain faults.
			return err == nil || domain.AsRejection(err) != nil ||
				errors.Is(err, domain.ErrSimulationReverted)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit state change",
				slog.String("chain", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if to == gobreaker.StateOpen {
				s.mu.Lock()
				fn := s.onOpen
				s.mu.Unlock()
				if fn != nil {
					fn(chain, s.cfg.Threshold)
				}
			}
		},
	})
	s.breakers[chain] = b
	return b
}

// OnOpen registers a callback invoked whenever a chain's circuit transitions
// to open. The failure count passed is the configured trip threshold.
func (s *BreakerSet) OnOpen(fn func(chain domain.ChainID, failures uint32)) {
	s.mu.Lock()
	s.onOpen = fn
	s.mu.Unlock()
}

// Execute runs fn through the chain's circuit. When the circuit is open it
// returns domain.ErrCircuitOpen without invoking fn.
func (s *BreakerSet) Execute(chain domain.ChainID, fn func() error) error {
	_, err := s.breaker(chain).Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.ErrCircuitOpen
	}
	return err
}

// Open reports whether the chain's circuit is currently open.
func (s *BreakerSet) Open(chain domain.ChainID) bool {
	return s.breaker(chain).State() == gobreaker.StateOpen
}

// State returns the chain's circuit state for health reporting.
func (s *BreakerSet) State(chain domain.ChainID) gobreaker.State {
	return s.breaker(chain).State()
}
