package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/origins-protocol/opr/internal/logger"
	"github.com/origins-protocol/opr/internal/metrics"
	"github.com/origins-protocol/opr/internal/scheduler"
	"github.com/origins-protocol/opr/internal/state"
	"github.com/origins-protocol/opr/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// StatusReporter exposes the scheduler's observable state to the API without
// giving handlers control over it.
type StatusReporter interface {
	CurrentState() scheduler.State
	LastResult() *types.CycleResult
	LastError() string
}

// WebServer serves the read-only recommendation API.
type WebServer struct {
	router *mux.Router
	port   string
	status StatusReporter
	params types.EngineParameters
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, status StatusReporter, params types.EngineParameters) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		status: status,
		params: params,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{id}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth reports scheduler state, last cycle, and database reachability.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true

	dbHealthy := state.TestDBConnection() == nil
	if !dbHealthy {
		healthy = false
	}

	response := map[string]any{
		"status":          "ok",
		"scheduler_state": ws.status.CurrentState(),
		"database":        dbHealthy,
		"timestamp":       time.Now().UTC(),
	}
	if lastErr := ws.status.LastError(); lastErr != "" {
		response["last_cycle_error"] = lastErr
	}
	if last := ws.status.LastResult(); last != nil {
		response["last_cycle_number"] = last.CycleNumber
		response["last_cycle_at"] = last.StartedAt
	}
	if !healthy {
		response["status"] = "degraded"
		ws.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	ws.writeJSON(w, http.StatusOK, response)
}

// handleGetCycles returns recent cycle results, newest first. ?limit caps the
// page size.
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			ws.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 200")
			return
		}
		limit = parsed
	}

	cycles, err := state.GetRecentCycles(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load recent cycles")
		ws.writeError(w, http.StatusInternalServerError, "failed to load cycles")
		return
	}
	if cycles == nil {
		cycles = []types.CycleResult{}
	}
	ws.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(cycles),
		"cycles": cycles,
	})
}

// handleGetLatestCycle returns the newest persisted cycle result.
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := state.GetLatestCycle()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load latest cycle")
		ws.writeError(w, http.StatusInternalServerError, "failed to load latest cycle")
		return
	}
	if cycle == nil {
		ws.writeError(w, http.StatusNotFound, "no completed cycles yet")
		return
	}
	ws.writeJSON(w, http.StatusOK, cycle)
}

// handleGetCycle returns one cycle by uuid.
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cycle, err := state.GetCycleByID(id)
	if err != nil {
		webLogger.Error().Err(err).Str("cycleID", id).Msg("Failed to load cycle")
		ws.writeError(w, http.StatusInternalServerError, "failed to load cycle")
		return
	}
	if cycle == nil {
		ws.writeError(w, http.StatusNotFound, "unknown cycle id")
		return
	}
	ws.writeJSON(w, http.StatusOK, cycle)
}

// handleGetParameters returns the active engine parameters.
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, ws.params)
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (ws *WebServer) writeError(w http.ResponseWriter, status int, message string) {
	ws.writeJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware allows dashboard frontends on other origins to read the API.
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request at debug level.
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	})
}
