package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/marcusd/internal/mcp"
	"github.com/marcusd/internal/project"
	"github.com/marcusd/internal/types"
)

// staleAgentThreshold marks agents offline after this much heartbeat silence
const staleAgentThreshold = 10 * time.Minute

// Server is the HTTP surface: the tool dispatch endpoint, REST status
// endpoints, and the websocket observer feed
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	dispatcher *mcp.Dispatcher
	projects   *project.Manager

	startTime time.Time
	stopChan  chan struct{}

	// ShutdownChan signals an API-requested shutdown to main
	ShutdownChan chan struct{}
}

// NewServer wires the HTTP surface over the dispatcher
func NewServer(dispatcher *mcp.Dispatcher, projects *project.Manager, hub *Hub) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		hub:          hub,
		dispatcher:   dispatcher,
		projects:     projects,
		startTime:    time.Now().UTC(),
		stopChan:     make(chan struct{}),
		ShutdownChan: make(chan struct{}, 1),
	}
	s.setupRoutes()
	return s
}

// Hub returns the websocket hub (for event bus attachment)
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.router.Use(loggingMiddleware)

	// Tool dispatch surface
	s.router.HandleFunc("/api/tools/call", s.handleToolCall).Methods("POST")

	// REST status endpoints
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/projects", s.handleProjects).Methods("GET")
	s.router.HandleFunc("/api/events", s.handleEvents).Methods("GET")
	s.router.HandleFunc("/api/shutdown", s.handleShutdown).Methods("POST")

	// Live observer feed
	s.router.HandleFunc("/ws", s.hub.ServeWS)
}

// Start runs the HTTP server and background sweeps until shutdown
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	go s.staleAgentLoop()

	log.Printf("[SERVER] listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopChan)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// RequestShutdown asks main to stop the process
func (s *Server) RequestShutdown() {
	select {
	case s.ShutdownChan <- struct{}{}:
	default:
	}
}

// staleAgentLoop periodically marks silent agents offline
func (s *Server) staleAgentLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if pc := s.projects.Current(); pc != nil {
				if n := pc.SweepStaleAgents(staleAgentThreshold); n > 0 {
					log.Printf("[SERVER] marked %d stale agent(s) offline", n)
				}
			}
		case <-s.stopChan:
			return
		}
	}
}

// handleToolCall dispatches one tool request
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req types.ToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ToolResponse{
			Success: false,
			Error:   &types.ToolError{Kind: "business_logic", Message: fmt.Sprintf("malformed request: %v", err)},
		})
		return
	}
	if req.ClientID == "" {
		req.ClientID = r.Header.Get("X-Client-ID")
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"instance_id":    s.dispatcher.InstanceID(),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"observers":      s.hub.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pc := s.projects.Current()
	if pc == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active_project": nil})
		return
	}
	writeJSON(w, http.StatusOK, pc.Status())
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.projects.ListProjects(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": list})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	pc := s.projects.Current()
	if pc == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": pc.Bus.History()})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	s.RequestShutdown()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] failed to encode response: %v", err)
	}
}
