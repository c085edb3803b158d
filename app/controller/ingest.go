package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

// IngestRequest is the optional body of POST /api/ingest.
type IngestRequest struct {
	ForceFetchAll bool `json:"forceFetchAll"`
}

// HandleIngest triggers one ingestion run and blocks until it finishes. A new
// trigger supersedes any run already in flight.
func (c *Controller) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := c.App.Runner.Start(r.Context(), req.ForceFetchAll)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "Ingestion failed",
			"details": err.Error(),
		})
		return
	}

	message := "Ingestion completed"
	if res.Cancelled {
		message = "Ingestion cancelled, partial data stored"
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":          true,
		"message":          message,
		"runId":            res.RunID,
		"transfersFetched": res.Fetched,
		"transfersStored":  res.Stored,
		"cancelled":        res.Cancelled,
	})
}

// HandleIngestCancel requests cancellation of the active ingestion run.
func (c *Controller) HandleIngestCancel(w http.ResponseWriter, r *http.Request) {
	if !c.App.Runner.Cancel() {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": "No active ingestion job to cancel",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Cancellation requested",
	})
}
