package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zestbot/zest/internal/config"
	"github.com/zestbot/zest/internal/reconcile"
)

// Router handles HTTP routing
type Router struct {
	mux        *http.ServeMux
	config     *config.Config
	reconciler *reconcile.Reconciler
	startTime  time.Time
	version    string
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, reconciler *reconcile.Reconciler, version string) http.Handler {
	r := &Router{
		mux:        http.NewServeMux(),
		config:     cfg,
		reconciler: reconciler,
		startTime:  time.Now(),
		version:    version,
	}

	r.setupRoutes()
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/payments/ipn", r.handlePaymentCallback)
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// handleHealth handles liveness probes
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(r.startTime).Seconds(),
		"version":   r.version,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
