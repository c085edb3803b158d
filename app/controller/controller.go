package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/nguyenhuuduy6592/defituna-fees/app/types"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/utils"
)

type Controller struct {
	App *types.App
	Env string
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
		Env: utils.Env("APP_ENV", "development"),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Development: Echo back the origin to allow credentials with any origin
		// TODO: Restrict this in production to specific domains
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireNonProduction gates mutating triggers: ingestion and aggregation are
// operator actions, disabled when the service runs as a production read path.
func (c *Controller) RequireNonProduction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.Env == "production" {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "This operation is not available in production",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/api/status", http.HandlerFunc(c.HandleStatus)).Methods(http.MethodGet)

	// Job triggers
	r.Handle("/api/ingest", c.RequireNonProduction(http.HandlerFunc(c.HandleIngest))).Methods(http.MethodPost)
	r.Handle("/api/ingest", c.RequireNonProduction(http.HandlerFunc(c.HandleIngestCancel))).Methods(http.MethodDelete)
	r.Handle("/api/aggregate", c.RequireNonProduction(http.HandlerFunc(c.HandleAggregate))).Methods(http.MethodPost)

	// WebSocket endpoint for real-time job events
	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
