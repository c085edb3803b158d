package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/fees"
)

// statusFields maps response keys to their persisted status keys. Keys that
// were never written are reported as empty strings, except processStatus
// which defaults to idle.
var statusFields = []struct {
	Field string
	Key   string
}{
	{"processStatus", fees.KeyProcessStatus},
	{"currentStep", fees.KeyCurrentStep},
	{"lastFetchCount", fees.KeyLastFetchCount},
	{"lastFetchTime", fees.KeyLastFetchTime},
	{"lastSyncTime", fees.KeyLastSyncTime},
	{"lastRunStartTime", fees.KeyLastRunStartTime},
	{"lastRunEndTime", fees.KeyLastRunEndTime},
	{"lastSuccessfulRun", fees.KeyLastSuccessfulRun},
	{"lastError", fees.KeyLastError},
	{"lastErrorTime", fees.KeyLastErrorTime},
	{"lastGeneration", fees.KeyLastGeneration},
}

// HandleStatus reports the persisted processing status.
func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := make(map[string]string, len(statusFields))
	for _, f := range statusFields {
		value, ok, err := c.App.Store.GetStatus(ctx, f.Key)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "Failed to read process status",
				"details": err.Error(),
			})
			return
		}
		if !ok && f.Key == fees.KeyProcessStatus {
			value = fees.StatusIdle
		}
		status[f.Field] = value
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"status":  status,
	})
}
