// Package api exposes the operator HTTP surface: manual triggers,
// execution inspection and the WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/api/middleware"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/config"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/loader"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/scheduler"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// Server represents the HTTP API server
type Server struct {
	config      *config.Config
	router      *mux.Router
	server      *http.Server
	scheduler   *scheduler.Scheduler
	executions  storage.ExecutionStore
	deployments storage.DeploymentStore
	flows       storage.FlowStore
	loader      loader.FlowLoader
	wsManager   *WebSocketManager
	auth        *middleware.AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, sched *scheduler.Scheduler, provider storage.StorageProvider, wsManager *WebSocketManager) *Server {
	s := &Server{
		config:      cfg,
		router:      mux.NewRouter(),
		scheduler:   sched,
		executions:  provider.GetExecutionStore(),
		deployments: provider.GetDeploymentStore(),
		flows:       provider.GetFlowStore(),
		loader:      loader.NewYAMLLoader(),
		wsManager:   wsManager,
		auth: middleware.NewAuthMiddleware(
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.TokenExpirationHours)*time.Hour,
		),
	}

	s.setupRoutes()
	return s
}

// Auth exposes the token issuer for the CLI
func (s *Server) Auth() *middleware.AuthMiddleware {
	return s.auth
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	err := s.server.ListenAndServe()

	// If the server was shut down gracefully, this error is expected
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the configured router, used by the tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes (no authentication required)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	// Authenticated routes
	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(s.auth.Authenticate)

	flows := authenticated.PathPrefix("/flows").Subrouter()
	flows.HandleFunc("", s.handleRegisterFlow).Methods(http.MethodPost, http.MethodOptions)

	deployments := authenticated.PathPrefix("/deployments").Subrouter()
	deployments.HandleFunc("/{id}/trigger", s.handleTriggerDeployment).Methods(http.MethodPost, http.MethodOptions)
	deployments.HandleFunc("/{id}/executions", s.handleListDeploymentExecutions).Methods(http.MethodGet, http.MethodOptions)

	adapters := authenticated.PathPrefix("/adapters").Subrouter()
	adapters.HandleFunc("/{id}/execute", s.handleExecuteAdapter).Methods(http.MethodPost, http.MethodOptions)

	executions := authenticated.PathPrefix("/executions").Subrouter()
	executions.HandleFunc("/{id}", s.handleGetExecution).Methods(http.MethodGet, http.MethodOptions)
	executions.HandleFunc("/{id}/steps", s.handleListExecutionSteps).Methods(http.MethodGet, http.MethodOptions)

	// WebSocket endpoint for real-time execution updates
	wsRoute := s.router.PathPrefix("/ws").Subrouter()
	wsRoute.Use(s.auth.Authenticate)
	wsRoute.HandleFunc("", s.handleWebSocket).Methods(http.MethodGet)

	// Debug middleware to log all requests
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("Request: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleRegisterFlow stores a YAML flow definition uploaded by an
// operator, making it available for deployment.
func (s *Server) handleRegisterFlow(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	flow, err := s.loader.Parse(content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}

	if err := s.flows.SaveFlowDefinition(flow); err != nil {
		http.Error(w, "Failed to save flow", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(flow)
}

// handleTriggerDeployment starts a manual execution of a deployment
func (s *Server) handleTriggerDeployment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deploymentID := vars["id"]

	execution, err := s.scheduler.TriggerDeployedFlow(deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrDeploymentNotFound) {
			http.Error(w, "Deployment not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if execution == nil {
		// The sender adapter reported no data, nothing to run
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "no_data",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(execution)
}

// handleExecuteAdapter runs a sender adapter poll on operator request
func (s *Server) handleExecuteAdapter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	adapterID := vars["id"]

	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	execution, err := s.scheduler.ManuallyTriggerAdapterExecution(adapterID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrAdapterNotFound) {
			http.Error(w, "Adapter not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if execution == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "no_data",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(execution)
}

// handleGetExecution returns a single execution
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	executionID := vars["id"]

	execution, err := s.executions.GetExecution(executionID)
	if err != nil {
		if errors.Is(err, storage.ErrExecutionNotFound) {
			http.Error(w, "Execution not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to retrieve execution", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(execution)
}

// handleListExecutionSteps returns the steps of an execution
func (s *Server) handleListExecutionSteps(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	executionID := vars["id"]

	if _, err := s.executions.GetExecution(executionID); err != nil {
		if errors.Is(err, storage.ErrExecutionNotFound) {
			http.Error(w, "Execution not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to retrieve execution", http.StatusInternalServerError)
		return
	}

	steps, err := s.executions.ListSteps(executionID)
	if err != nil {
		http.Error(w, "Failed to list steps", http.StatusInternalServerError)
		return
	}
	if steps == nil {
		steps = []*models.FlowExecutionStep{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(steps)
}

// handleListDeploymentExecutions returns the executions of a deployment
func (s *Server) handleListDeploymentExecutions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deploymentID := vars["id"]

	if _, err := s.deployments.GetDeployment(deploymentID); err != nil {
		if errors.Is(err, storage.ErrDeploymentNotFound) {
			http.Error(w, "Deployment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to retrieve deployment", http.StatusInternalServerError)
		return
	}

	executions, err := s.executions.ListExecutionsForDeployment(deploymentID)
	if err != nil {
		http.Error(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}
	if executions == nil {
		executions = []*models.FlowExecution{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(executions)
}

// handleWebSocket upgrades a connection for real-time updates
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	s.wsManager.HandleWebSocket(w, r, userID)
}
