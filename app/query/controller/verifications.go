package controller

import (
	"net/http"

	"github.com/composable-labs/pablox/pkg/db/models/indexer"
	"go.uber.org/zap"
)

// HandleVerifications returns the latest verdicts of a pool, newest first.
// GET /pools/{id}/verifications?limit=<n>&failed=<bool>
func (c *Controller) HandleVerifications(w http.ResponseWriter, r *http.Request) {
	id, err := poolIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec, err := parseListSpec(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.Verifications(r.Context(), id, spec.Limit, spec.FailedOnly)
	if err != nil {
		c.App.Logger.Error("Failed to query verifications", zap.Uint64("pool_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []indexer.Verification{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  rows,
		"limit": spec.Limit,
	})
}
