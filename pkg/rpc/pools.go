package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/shopspring/decimal"
)

// RpcPool represents a pool response from the RPC.
// Weights may arrive unnormalized (e.g. 80 and 20); ToPool turns them into fractions.
type RpcPool struct {
	ID            uint64          `json:"id"`
	Owner         string          `json:"owner"`
	BaseAsset     amm.AssetID     `json:"baseAsset"`
	QuoteAsset    amm.AssetID     `json:"quoteAsset"`
	BaseBalance   decimal.Decimal `json:"baseBalance"`
	QuoteBalance  decimal.Decimal `json:"quoteBalance"`
	BaseWeight    decimal.Decimal `json:"baseWeight"`
	QuoteWeight   decimal.Decimal `json:"quoteWeight"`
	FeeRate       decimal.Decimal `json:"feeRate"`
	ProtocolShare decimal.Decimal `json:"protocolShare"`
	LPSupply      decimal.Decimal `json:"lpSupply"`
	BaseDecimals  uint8           `json:"baseDecimals"`
	QuoteDecimals uint8           `json:"quoteDecimals"`
}

// ToPool converts an RpcPool to a validated amm.Pool.
func (rp *RpcPool) ToPool() (amm.Pool, error) {
	wb, wq, err := amm.NormalizeWeights(rp.BaseWeight, rp.QuoteWeight)
	if err != nil {
		return amm.Pool{}, fmt.Errorf("pool %d: %w", rp.ID, err)
	}
	pool := amm.Pool{
		ID:            rp.ID,
		Owner:         rp.Owner,
		BaseAsset:     rp.BaseAsset,
		QuoteAsset:    rp.QuoteAsset,
		BaseBalance:   rp.BaseBalance,
		QuoteBalance:  rp.QuoteBalance,
		BaseWeight:    wb,
		QuoteWeight:   wq,
		Fee:           amm.FeeConfig{FeeRate: rp.FeeRate, ProtocolShare: rp.ProtocolShare},
		LPSupply:      rp.LPSupply,
		BaseDecimals:  rp.BaseDecimals,
		QuoteDecimals: rp.QuoteDecimals,
	}
	if err := pool.Validate(); err != nil {
		return amm.Pool{}, fmt.Errorf("pool %d: %w", rp.ID, err)
	}
	return pool, nil
}

// PoolByID returns a single pool by ID at the current chain head.
func (c *HTTPClient) PoolByID(ctx context.Context, id uint64) (*RpcPool, error) {
	args := map[string]any{"id": id}

	var pool RpcPool
	if err := c.doJSON(ctx, http.MethodPost, poolByIDPath, args, &pool); err != nil {
		return nil, fmt.Errorf("fetch pool %d: %w", id, err)
	}

	return &pool, nil
}

// Pools returns all pools as of height, ordered by ID. Height 0 means the chain head.
func (c *HTTPClient) Pools(ctx context.Context, height uint64) ([]*RpcPool, error) {
	var args map[string]any
	if height > 0 {
		args = NewQueryByHeightRequest(height)
	}
	pools, err := ListPaged[*RpcPool](ctx, c, poolsPath, args)
	if err != nil {
		return nil, fmt.Errorf("fetch pools at %d: %w", height, err)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	return pools, nil
}
