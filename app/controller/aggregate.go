package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

// HandleAggregate recomputes the fee aggregate and publishes a fresh
// snapshot. An empty ledger is a successful no-op.
func (c *Controller) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	res, err := c.App.Aggregator.Run(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "Aggregation failed",
			"details": err.Error(),
		})
		return
	}

	if res.Empty {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":         true,
			"message":         "No fee data available",
			"tokensProcessed": 0,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":         true,
		"message":         "Aggregation completed",
		"tokensProcessed": res.Tokens,
		"outputPath":      res.OutputPath,
	})
}
