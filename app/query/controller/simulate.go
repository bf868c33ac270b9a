package controller

import (
	"net/http"
	"time"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
	"github.com/composable-labs/pablox/pkg/dex"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const simulatedAccount = "simulator"

// simulateRequest carries the arguments of every simulated operation. Each operation reads its own:
// swap uses assetIn, assetOut, amount and minReceive; buy uses assetIn, assetOut and amount;
// add uses baseAmount, quoteAmount and minMint; remove uses lpAmount, minBase and minQuote.
type simulateRequest struct {
	Account     string          `json:"account"`
	AssetIn     amm.AssetID     `json:"assetIn"`
	AssetOut    amm.AssetID     `json:"assetOut"`
	Amount      decimal.Decimal `json:"amount"`
	MinReceive  decimal.Decimal `json:"minReceive"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
	MinMint     decimal.Decimal `json:"minMint"`
	LPAmount    decimal.Decimal `json:"lpAmount"`
	MinBase     decimal.Decimal `json:"minBase"`
	MinQuote    decimal.Decimal `json:"minQuote"`
}

type simulateResponse struct {
	Settlement *indexer.Settlement `json:"settlement"`
	Before     poolView            `json:"before"`
	After      poolView            `json:"after"`
}

// HandleSimulate settles one operation on an in-memory copy of the live pool and returns the
// settlement together with the pool before and after it. Chain state is never touched.
// POST /pools/{id}/simulate/{swap|buy|add|remove}
func (c *Controller) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["op"]
	switch op {
	case "swap", "buy", "add", "remove":
	default:
		writeError(w, http.StatusNotFound, "unknown operation: "+op)
		return
	}

	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		req.Account = simulatedAccount
	}

	pool, ok := c.livePool(w, r)
	if !ok {
		return
	}

	ex := dex.NewExchange(c.App.Logger)
	holders := map[string]decimal.Decimal{}
	if op == "remove" {
		// the simulated account is assumed to hold what it burns
		holders[req.Account] = req.LPAmount
	}
	if err := ex.Seed(pool, holders); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var ev events.Event
	var err error
	switch op {
	case "swap":
		ev, err = ex.Swap(req.Account, pool.ID, req.AssetIn, req.AssetOut, req.Amount, req.MinReceive)
	case "buy":
		ev, err = ex.Buy(req.Account, pool.ID, req.AssetIn, req.AssetOut, req.Amount)
	case "add":
		ev, err = ex.AddLiquidity(req.Account, pool.ID, req.BaseAmount, req.QuoteAmount, req.MinMint)
	case "remove":
		ev, err = ex.RemoveLiquidity(req.Account, pool.ID, req.LPAmount, req.MinBase, req.MinQuote)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	after, err := ex.Pool(pool.ID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, simulateResponse{
		Settlement: indexer.NewSettlement(ev, pool, time.Now().UTC()),
		Before:     newPoolView(pool),
		After:      newPoolView(after),
	})
}
