package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/dex"
	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/composable-labs/pablox/pkg/rpc"
	"go.uber.org/zap"
)

// poolView is a live pool with its prices. Prices are empty while a side is drained.
type poolView struct {
	amm.Pool
	SpotPrice    string `json:"spotPrice,omitempty"`
	DisplayPrice string `json:"displayPrice,omitempty"`
}

func newPoolView(p amm.Pool) poolView {
	v := poolView{Pool: p}
	if price, err := p.Price(); err == nil {
		v.SpotPrice = price.String()
	}
	if price, err := p.DisplayPrice(); err == nil {
		v.DisplayPrice = price.String()
	}
	return v
}

type quoteResponse struct {
	PoolID uint64 `json:"poolId"`
	amm.SwapResult
	SpotPriceBefore string `json:"spotPriceBefore,omitempty"`
	SpotPriceAfter  string `json:"spotPriceAfter,omitempty"`
}

// HandlePools returns every live pool.
// GET /pools
func (c *Controller) HandlePools(w http.ResponseWriter, r *http.Request) {
	raw, err := c.App.RPC.Pools(r.Context(), 0)
	if err != nil {
		c.App.Logger.Warn("Failed to fetch pools", zap.Error(err))
		writeError(w, http.StatusBadGateway, "rpc unavailable")
		return
	}

	views := make([]poolView, 0, len(raw))
	for _, rp := range raw {
		p, err := rp.ToPool()
		if err != nil {
			c.App.Logger.Debug("Skipping invalid pool", zap.Uint64("pool_id", rp.ID), zap.Error(err))
			continue
		}
		views = append(views, newPoolView(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": views})
}

// HandlePool returns a single live pool.
// GET /pools/{id}
func (c *Controller) HandlePool(w http.ResponseWriter, r *http.Request) {
	pool, ok := c.livePool(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

// HandleQuote prices a trade against the live pool without settling it.
// GET /pools/{id}/quote?direction=<exact-in|exact-out>&assetIn=<id>&assetOut=<id>&amount=<n>
func (c *Controller) HandleQuote(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	dir, err := amm.ParseDirection(qs.Get("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assetIn, err := strconv.ParseUint(qs.Get("assetIn"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid assetIn")
		return
	}
	assetOut, err := strconv.ParseUint(qs.Get("assetOut"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid assetOut")
		return
	}
	amount, err := fixedpoint.Parse(qs.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	pool, ok := c.livePool(w, r)
	if !ok {
		return
	}
	res, err := amm.Quote(pool, amm.SwapRequest{
		Direction: dir,
		AssetIn:   amm.AssetID(assetIn),
		AssetOut:  amm.AssetID(assetOut),
		Amount:    amount,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	out := quoteResponse{PoolID: pool.ID, SwapResult: res}
	if price, err := pool.Price(); err == nil {
		out.SpotPriceBefore = price.String()
	}
	if price, err := amm.ApplySwap(pool, res).Price(); err == nil {
		out.SpotPriceAfter = price.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// livePool loads pool {id} from RPC, writing the error response itself when it fails.
func (c *Controller) livePool(w http.ResponseWriter, r *http.Request) (amm.Pool, bool) {
	id, err := poolIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return amm.Pool{}, false
	}
	pool, err := c.fetchPool(r.Context(), id)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return amm.Pool{}, false
		}
		if errors.Is(err, errInvalidLivePool) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return amm.Pool{}, false
		}
		c.App.Logger.Warn("Failed to fetch pool", zap.Uint64("pool_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "rpc unavailable")
		return amm.Pool{}, false
	}
	return pool, true
}

var errInvalidLivePool = errors.New("invalid live pool")

func (c *Controller) fetchPool(ctx context.Context, id uint64) (amm.Pool, error) {
	rp, err := c.App.RPC.PoolByID(ctx, id)
	if err != nil {
		return amm.Pool{}, err
	}
	pool, err := rp.ToPool()
	if err != nil {
		return amm.Pool{}, errors.Join(errInvalidLivePool, err)
	}
	return pool, nil
}

// statusFor maps pricing and settlement errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dex.ErrPoolNotFound), errors.Is(err, rpc.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, amm.ErrAssetNotFound),
		errors.Is(err, amm.ErrInvalidDirection),
		errors.Is(err, amm.ErrInvalidWeight),
		errors.Is(err, amm.ErrInvalidFee),
		errors.Is(err, amm.ErrDivisionByZero),
		errors.Is(err, dex.ErrCannotRespectMinimumRequested),
		errors.Is(err, dex.ErrNotEnoughLPTokens):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
