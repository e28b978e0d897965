// Package api exposes the HTTP control surface: light commands and status,
// the mode catalog, raw state variables, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"colorlogic/internal/catalog"
	"colorlogic/internal/control"
	"colorlogic/internal/shadowstate"
	"colorlogic/internal/state"
)

// Server provides HTTP API endpoints for the pool light controller
type Server struct {
	stateManager  *state.Manager
	controls      *control.Registry
	subscriptions *shadowstate.SubscriptionRegistry
	logger        *zap.Logger
	server        *http.Server
}

// NewServer creates a new API server
func NewServer(stateManager *state.Manager, controls *control.Registry, subscriptions *shadowstate.SubscriptionRegistry, logger *zap.Logger, port int) *Server {
	s := &Server{
		stateManager:  stateManager,
		controls:      controls,
		subscriptions: subscriptions,
		logger:        logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("GET /api/state", s.handleGetState)
	mux.HandleFunc("GET /api/subscriptions", s.handleGetSubscriptions)
	mux.HandleFunc("GET /api/modes", s.handleListModes)
	mux.HandleFunc("GET /api/lights", s.handleListLights)
	mux.HandleFunc("GET /api/lights/{name}", s.handleGetLight)
	mux.HandleFunc("POST /api/lights/{name}/mode", s.handleSetMode)
	mux.HandleFunc("POST /api/lights/{name}/color", s.handleSetColor)
	mux.HandleFunc("POST /api/lights/{name}/next", s.handleNextMode)
	mux.HandleFunc("POST /api/lights/{name}/reset", s.handleReset)
	mux.HandleFunc("POST /api/lights/{name}/power", s.handleSetPower)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// StateResponse represents the JSON response for the state endpoint
type StateResponse struct {
	Booleans map[string]bool    `json:"booleans"`
	Numbers  map[string]float64 `json:"numbers"`
	Strings  map[string]string  `json:"strings"`
}

// handleGetState returns all state variables as JSON
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	response := StateResponse{
		Booleans: make(map[string]bool),
		Numbers:  make(map[string]float64),
		Strings:  make(map[string]string),
	}

	for _, variable := range state.AllVariables {
		switch variable.Type {
		case state.TypeBool:
			value, err := s.stateManager.GetBool(variable.Key)
			if err != nil {
				s.logger.Error("Failed to get boolean variable",
					zap.String("key", variable.Key),
					zap.Error(err))
				continue
			}
			response.Booleans[variable.Key] = value

		case state.TypeString:
			value, err := s.stateManager.GetString(variable.Key)
			if err != nil {
				s.logger.Error("Failed to get string variable",
					zap.String("key", variable.Key),
					zap.Error(err))
				continue
			}
			response.Strings[variable.Key] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("State request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// SubscriptionInfo lists what one plugin watches
type SubscriptionInfo struct {
	Entities       []string `json:"entities"`
	StateVariables []string `json:"state_variables"`
}

// handleGetSubscriptions reports the HA entities and state variables each
// plugin subscribes to
func (s *Server) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	response := make(map[string]SubscriptionInfo)
	if s.subscriptions != nil {
		for _, name := range s.subscriptions.GetAllPlugins() {
			response[name] = SubscriptionInfo{
				Entities:       s.subscriptions.GetHASubscriptions(name),
				StateVariables: s.subscriptions.GetStateSubscriptions(name),
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]map[string]SubscriptionInfo{"subscriptions": response}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// ModeInfo describes one catalog entry for the modes endpoint
type ModeInfo struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	Name  string `json:"name"`
	Show  bool   `json:"show"`
	RGB   []int  `json:"rgb,omitempty"`
}

// handleListModes returns the fixed device rotation
func (s *Server) handleListModes(w http.ResponseWriter, r *http.Request) {
	modes := make([]ModeInfo, 0, catalog.Count)
	for _, m := range catalog.Modes() {
		info := ModeInfo{
			Index: m.Index,
			Key:   m.Key,
			Name:  m.Name,
			Show:  m.Show,
		}
		if !m.Show {
			info.RGB = []int{int(m.R), int(m.G), int(m.B)}
		}
		modes = append(modes, info)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string][]ModeInfo{"modes": modes}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := []Endpoint{
		{
			Path:        "/",
			Method:      "GET",
			Description: "This sitemap - lists all available API endpoints",
		},
		{
			Path:        "/api/state",
			Method:      "GET",
			Description: "Get all state variables (booleans, numbers, strings)",
		},
		{
			Path:        "/api/subscriptions",
			Method:      "GET",
			Description: "Show which entities and state variables each plugin watches",
		},
		{
			Path:        "/api/modes",
			Method:      "GET",
			Description: "List the 17 modes of the device rotation",
		},
		{
			Path:        "/api/lights",
			Method:      "GET",
			Description: "List all lights with their tracking status",
		},
		{
			Path:        "/api/lights/{name}",
			Method:      "GET",
			Description: "Get one light's tracking status",
		},
		{
			Path:        "/api/lights/{name}/mode",
			Method:      "POST",
			Description: "Start a mode change, body {\"mode\": \"emerald\"} or {\"index\": 6}",
		},
		{
			Path:        "/api/lights/{name}/color",
			Method:      "POST",
			Description: "Start a change to the nearest fixed-color mode, body {\"r\": 0, \"g\": 201, \"b\": 87}",
		},
		{
			Path:        "/api/lights/{name}/next",
			Method:      "POST",
			Description: "Advance to the next mode in the rotation",
		},
		{
			Path:        "/api/lights/{name}/reset",
			Method:      "POST",
			Description: "Start a reset recalibration to the base mode",
		},
		{
			Path:        "/api/lights/{name}/power",
			Method:      "POST",
			Description: "Switch the light relay, body {\"on\": true}",
		},
		{
			Path:        "/health",
			Method:      "GET",
			Description: "Health check endpoint - returns {\"status\": \"ok\"}",
		},
		{
			Path:        "/metrics",
			Method:      "GET",
			Description: "Prometheus metrics",
		},
	}

	// Determine if the request is from a browser (check Accept header)
	acceptHeader := r.Header.Get("Accept")
	preferHTML := false
	if acceptHeader != "" {
		// Simple check - if Accept contains text/html, prefer HTML
		for _, part := range []string{"text/html", "*/*"} {
			if len(acceptHeader) > 0 && (acceptHeader == part || len(acceptHeader) > len(part) && acceptHeader[:len(part)] == part) {
				preferHTML = true
				break
			}
		}
	}

	// Return 404 status code (for automation compatibility) but with helpful body
	w.WriteHeader(http.StatusNotFound)

	if preferHTML {
		// HTML format for browsers
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>ColorLogic Controller API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        h2 { color: #569cd6; margin-top: 30px; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
        a { color: #569cd6; text-decoration: none; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1>ColorLogic Controller API</h1>
    <p>Welcome! This API controls and reports on the pool light mode trackers.</p>
    <h2>Available Endpoints</h2>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, `    <h2>Examples</h2>
    <div class="endpoint">
        <div>List lights with status:</div>
        <div class="description">curl <a href="/api/lights">http://localhost:8081/api/lights</a></div>
    </div>
    <div class="endpoint">
        <div>Set a mode:</div>
        <div class="description">curl -X POST -d '{"mode": "emerald"}' http://localhost:8081/api/lights/pool/mode</div>
    </div>
</body>
</html>
`)
	} else {
		// Plain text format for terminal
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ColorLogic Controller API\n")
		fmt.Fprintf(w, "=========================\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-30s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  List lights with status:\n")
		fmt.Fprintf(w, "    curl http://localhost:8081/api/lights | jq\n\n")
		fmt.Fprintf(w, "  Set a mode:\n")
		fmt.Fprintf(w, "    curl -X POST -d '{\"mode\": \"emerald\"}' http://localhost:8081/api/lights/pool/mode\n\n")
		fmt.Fprintf(w, "  Reset a desynced light:\n")
		fmt.Fprintf(w, "    curl -X POST http://localhost:8081/api/lights/pool/reset\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
