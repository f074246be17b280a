package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// VenueKind classifies the pricing curve of a venue. The execution router
// treats everything except constant-product pools as "complex" and routes it
// through the generalized strategy.
type VenueKind string

const (
	VenueConstantProduct       VenueKind = "constant_product"
	VenueConcentratedLiquidity VenueKind = "concentrated_liquidity"
	VenueStableSwap            VenueKind = "stable_swap"
	VenueWeighted              VenueKind = "weighted"
)

// Valid reports whether k is a known venue kind.
func (k VenueKind) Valid() bool {
	switch k {
	case VenueConstantProduct, VenueConcentratedLiquidity, VenueStableSwap, VenueWeighted:
		return true
	}
	return false
}

// PairedReserve reports whether the venue exposes the simple two-reserve
// interface the specialized execution strategy understands.
func (k VenueKind) PairedReserve() bool {
	return k == VenueConstantProduct
}

// Venue is a DEX pool identity. Venues are immutable once discovered; a
// refresh constructs a replacement rather than mutating in place.
type Venue struct {
	Chain   ChainID
	Address common.Address
	Kind    VenueKind
	FeeBps  uint32
	// Router is the swap router the execution payload targets for this venue.
	Router common.Address
	// Name is a display label ("uniswap_v2", "sushiswap", ...).
	Name string
}

// ID returns a stable identifier combining chain and pool address, suitable
// for map keys and signal records.
func (v Venue) ID() string {
	return fmt.Sprintf("%d:%s", v.Chain, v.Address.Hex())
}

// Validate checks the venue is well-formed enough to route through.
func (v Venue) Validate() error {
	if v.Chain == 0 {
		return fmt.Errorf("venue %s: zero chain id", v.Address.Hex())
	}
	if v.Address == (common.Address{}) {
		return fmt.Errorf("venue on chain %d: zero pool address", v.Chain)
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("venue %s: unknown kind %q", v.Address.Hex(), v.Kind)
	}
	if v.FeeBps >= 10_000 {
		return fmt.Errorf("venue %s: fee %d bps out of range", v.Address.Hex(), v.FeeBps)
	}
	return nil
}
