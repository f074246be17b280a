// Package domain defines the core value objects of the arbitrage engine:
// chains, venues, routes, opportunities, execution plans, and the narrow
// store/cache interfaces implemented by the infrastructure packages.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID identifies a network. It is immutable and used as a map key
// everywhere; helpers for well-known chains exist only for logging.
type ChainID uint64

// Well-known chain IDs. The engine is not limited to these; any chain with a
// configured endpoint list is scannable.
const (
	ChainEthereum  ChainID = 1
	ChainOptimism  ChainID = 10
	ChainBSC       ChainID = 56
	ChainPolygon   ChainID = 137
	ChainBase      ChainID = 8453
	ChainArbitrum  ChainID = 42161
	ChainAvalanche ChainID = 43114
)

var chainNames = map[ChainID]string{
	ChainEthereum:  "ethereum",
	ChainOptimism:  "optimism",
	ChainBSC:       "bsc",
	ChainPolygon:   "polygon",
	ChainBase:      "base",
	ChainArbitrum:  "arbitrum",
	ChainAvalanche: "avalanche",
}

// Name returns a human-readable chain name, or "chain-<id>" for chains the
// engine has no label for.
func (c ChainID) Name() string {
	if n, ok := chainNames[c]; ok {
		return n
	}
	return "chain-" + new(big.Int).SetUint64(uint64(c)).String()
}

// Token describes an ERC-20 token on a specific chain. USDPrice is a coarse
// reference price used only to express profit thresholds in dollars; swap
// math never touches it.
type Token struct {
	Chain    ChainID
	Address  common.Address
	Symbol   string
	Decimals uint8
	USDPrice float64
}

// AmountUSD converts a raw token amount into dollars using the reference
// price. Precision loss is acceptable here: the result feeds threshold
// comparisons and logs, never on-chain amounts.
func (t Token) AmountUSD(raw *big.Int) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out * t.USDPrice
}

// AmountFromUSD converts a dollar figure into a raw token amount. Used for
// loan-size brackets, where approximate conversion is fine.
func (t Token) AmountFromUSD(usd float64) *big.Int {
	if t.USDPrice <= 0 || usd <= 0 {
		return new(big.Int)
	}
	units := new(big.Float).SetFloat64(usd / t.USDPrice)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	units.Mul(units, scale)
	raw, _ := units.Int(nil)
	return raw
}
