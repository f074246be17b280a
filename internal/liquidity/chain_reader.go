package liquidity

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
	"github.com/vegas-max/Titan2.0-sub003/internal/rpc"
)

const pairABIJSON = `[
  {"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
   "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	pairABI  = mustParseABI(pairABIJSON)
	erc20ABI = mustParseABI(erc20ABIJSON)
)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainReader reads venue state directly from pool contracts through the
// endpoint registry. Paired-reserve pools answer getReserves; every other
// venue kind is observed through the pool's token balances, which is the
// lowest common denominator all curve types expose.
type ChainReader struct {
	pools *rpc.Registry
}

// NewChainReader creates a ChainReader over the given endpoint registry.
func NewChainReader(pools *rpc.Registry) *ChainReader {
	return &ChainReader{pools: pools}
}

// VenueState implements Source.
func (r *ChainReader) VenueState(ctx context.Context, venue domain.Venue, token0, token1 common.Address) (VenueState, error) {
	pool, err := r.pools.Pool(venue.Chain)
	if err != nil {
		return VenueState{}, err
	}

	state := VenueState{
		Venue:  venue,
		Token0: token0,
		Token1: token1,
	}

	if venue.Kind.PairedReserve() {
		err = pool.Do(ctx, func(ctx context.Context, client *ethclient.Client) error {
			r0, r1, callErr := readReserves(ctx, client, venue.Address)
			if callErr != nil {
				return callErr
			}
			state.Reserve0, state.Reserve1 = r0, r1
			return nil
		})
	} else {
		err = pool.Do(ctx, func(ctx context.Context, client *ethclient.Client) error {
			r0, callErr := readBalance(ctx, client, token0, venue.Address)
			if callErr != nil {
				return callErr
			}
			r1, callErr := readBalance(ctx, client, token1, venue.Address)
			if callErr != nil {
				return callErr
			}
			state.Reserve0, state.Reserve1 = r0, r1
			return nil
		})
	}
	if err != nil {
		return VenueState{}, fmt.Errorf("liquidity: venue %s: %w", venue.ID(), err)
	}

	state.ObservedAt = time.Now().UTC()
	return state, nil
}

// LenderTVL implements Source: the lender's available liquidity for a token
// is its vault balance.
func (r *ChainReader) LenderTVL(ctx context.Context, chain domain.ChainID, lender, token common.Address) (*big.Int, error) {
	pool, err := r.pools.Pool(chain)
	if err != nil {
		return nil, err
	}
	var tvl *big.Int
	err = pool.Do(ctx, func(ctx context.Context, client *ethclient.Client) error {
		b, callErr := readBalance(ctx, client, token, lender)
		if callErr != nil {
			return callErr
		}
		tvl = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("liquidity: lender tvl %s/%s: %w", chain.Name(), token.Hex(), err)
	}
	return tvl, nil
}

func readReserves(ctx context.Context, client *ethclient.Client, pair common.Address) (*big.Int, *big.Int, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, err
	}
	out, err := pairABI.Unpack("getReserves", raw)
	if err != nil || len(out) < 2 {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unexpected getReserves types")
	}
	return r0, r1, nil
}

func readBalance(ctx context.Context, client *ethclient.Client, token, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(out) < 1 {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	b, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf type")
	}
	return b, nil
}
