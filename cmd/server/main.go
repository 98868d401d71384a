package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/retrofor/Siamese/internal/config"
	"github.com/retrofor/Siamese/internal/logger"
	"github.com/retrofor/Siamese/multitenantengine"
	"github.com/retrofor/Siamese/rulefile"
	"github.com/retrofor/Siamese/rules"
)

type Server struct {
	db             *sql.DB
	manager        *multitenantengine.Manager
	router         *chi.Mux
	requestTimeout time.Duration
}

// NewServer wires the HTTP API around manager. db may be nil, in which case
// tenants live only in memory and the tenant table is not consulted.
func NewServer(db *sql.DB, manager *multitenantengine.Manager, requestTimeout time.Duration) *Server {
	s := &Server{
		db:             db,
		manager:        manager,
		requestTimeout: requestTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Tenant management
	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			// Schema management
			r.Post("/schema", s.handleUpdateSchema)
			r.Get("/schema", s.handleGetSchema)

			// Rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
			r.Post("/rules/{ruleId}/enable", s.handleSetEnabled(true))
			r.Post("/rules/{ruleId}/disable", s.handleSetEnabled(false))
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request through the structured logger
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		TenantsLoaded: len(s.manager.ListTenants()),
		Counters:      logger.Counters(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "connected"
	}

	respondJSON(w, http.StatusOK, resp)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}

	if req.Facts == nil {
		respondError(w, http.StatusBadRequest, "facts are required", nil)
		return
	}

	startTime := time.Now()
	result, err := s.manager.Execute(req.TenantID, req.Facts)
	if err != nil {
		var execErr *rules.ExecError
		switch {
		case errors.Is(err, multitenantengine.ErrTenantNotFound):
			respondError(w, http.StatusNotFound, "tenant not found", err)
		case errors.As(err, &execErr):
			respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		default:
			respondError(w, http.StatusBadRequest, "invalid facts", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, newEvaluateResponse(result, time.Since(startTime)))
}

// List tenants handler
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := []TenantResponse{}
	listed := make(map[string]bool)

	if s.db != nil {
		rows, err := s.db.QueryContext(r.Context(), "SELECT id, name, created_at, updated_at FROM tenants ORDER BY created_at DESC")
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t                    TenantResponse
				createdAt, updatedAt time.Time
			)
			if err := rows.Scan(&t.ID, &t.Name, &createdAt, &updatedAt); err != nil {
				respondError(w, http.StatusInternalServerError, "failed to scan tenant", err)
				return
			}
			t.CreatedAt, t.UpdatedAt = &createdAt, &updatedAt
			tenants = append(tenants, t)
			listed[t.ID] = true
		}
		if err := rows.Err(); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
			return
		}
	}

	// tenants that exist only in memory, such as the file-backed one
	for _, id := range s.manager.ListTenants() {
		if listed[id] {
			continue
		}
		te, err := s.manager.GetTenant(id)
		if err != nil {
			continue
		}
		tenants = append(tenants, TenantResponse{ID: id, ReadOnly: te.ReadOnly})
	}

	respondJSON(w, http.StatusOK, TenantsListResponse{Tenants: tenants})
}

// Create tenant handler
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	if s.db == nil && req.Definition == nil {
		respondError(w, http.StatusBadRequest, "definition is required without a database", nil)
		return
	}

	if req.Definition != nil {
		if err := multitenantengine.ValidateSchema(req.Definition); err != nil {
			respondError(w, http.StatusBadRequest, "invalid schema", err)
			return
		}
	}

	tenantID := uuid.NewString()
	if s.db != nil {
		err := s.db.QueryRowContext(r.Context(), `
			INSERT INTO tenants (name, created_at, updated_at)
			VALUES ($1, NOW(), NOW())
			RETURNING id
		`, req.Name).Scan(&tenantID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
			return
		}
	}

	resp := map[string]any{
		"id":   tenantID,
		"name": req.Name,
	}

	if req.Definition != nil {
		version, err := s.manager.UpdateTenantSchema(tenantID, req.Definition)
		if err != nil {
			respondError(w, statusFor(err), "failed to create schema", err)
			return
		}
		resp["schemaVersion"] = version
	}

	logger.Info("tenant created", "tenant_id", tenantID, "name", req.Name)
	respondJSON(w, http.StatusCreated, resp)
}

// Update schema handler
func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req UpdateSchemaRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if _, err := s.manager.GetTenant(tenantID); err != nil && s.db != nil {
		exists, err := s.tenantExists(r.Context(), tenantID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to look up tenant", err)
			return
		}
		if !exists {
			respondError(w, http.StatusNotFound, "tenant not found", nil)
			return
		}
	}

	// Update schema (zero downtime!)
	version, err := s.manager.UpdateTenantSchema(tenantID, req.Definition)
	if err != nil {
		respondError(w, statusFor(err), "failed to update schema", err)
		return
	}

	engine, err := s.manager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "tenant engine missing after update", err)
		return
	}
	loaded := engine.Executor().Len()

	respondJSON(w, http.StatusOK, SchemaResponse{
		Version:     version,
		Status:      "active",
		Definition:  req.Definition,
		RulesLoaded: &loaded,
	})
}

// tenantExists reports whether tenantID names a row of the tenants table
func (s *Server) tenantExists(ctx context.Context, tenantID string) (bool, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return false, nil
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists)
	return exists, err
}

// Get schema handler
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	te, err := s.manager.GetTenant(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}
	if te.Schema == nil {
		respondError(w, http.StatusNotFound, "schema not found", nil)
		return
	}

	resp := SchemaResponse{
		Status:     "active",
		Definition: te.Schema,
	}

	if s.db != nil && !te.ReadOnly {
		err := s.db.QueryRowContext(r.Context(), `
			SELECT version
			FROM schemas
			WHERE tenant_id = $1 AND active = true
		`, tenantID).Scan(&resp.Version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusInternalServerError, "failed to get schema", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.tenantEngine(w, r)
	if !ok {
		return
	}

	var doc rules.RuleDocument
	if err := decodeBody(r, &doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	rule, err := doc.Build()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := engine.AddRule(rule); err != nil {
		respondError(w, statusFor(err), "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rules.DocumentOf(rule))
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.tenantEngine(w, r)
	if !ok {
		return
	}

	published := engine.Rules()
	docs := make([]rules.RuleDocument, 0, len(published))
	for _, rule := range published {
		docs = append(docs, rules.DocumentOf(rule))
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: docs})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.tenantEngine(w, r)
	if !ok {
		return
	}

	rule, err := engine.Rule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rules.DocumentOf(rule))
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.tenantEngine(w, r)
	if !ok {
		return
	}
	ruleID := chi.URLParam(r, "ruleId")

	var doc rules.RuleDocument
	if err := decodeBody(r, &doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if doc.ID != "" && doc.ID != ruleID {
		respondError(w, http.StatusBadRequest, "rule id in body does not match the path", nil)
		return
	}
	doc.ID = ruleID

	rule, err := doc.Build()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := engine.UpdateRule(rule); err != nil {
		respondError(w, statusFor(err), "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rules.DocumentOf(rule))
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.tenantEngine(w, r)
	if !ok {
		return
	}

	if err := engine.DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, statusFor(err), "failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetEnabled returns the enable or disable handler
func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine, ok := s.tenantEngine(w, r)
		if !ok {
			return
		}
		ruleID := chi.URLParam(r, "ruleId")

		if err := engine.SetEnabled(ruleID, enabled); err != nil {
			respondError(w, statusFor(err), "failed to change rule state", err)
			return
		}

		rule, err := engine.Rule(ruleID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "rule missing after update", err)
			return
		}

		respondJSON(w, http.StatusOK, rules.DocumentOf(rule))
	}
}

// tenantEngine resolves the {tenantId} path parameter, writing a 404 when unknown
func (s *Server) tenantEngine(w http.ResponseWriter, r *http.Request) (*rules.Engine, bool) {
	engine, err := s.manager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return nil, false
	}
	return engine, true
}

// statusFor maps engine and manager errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, multitenantengine.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, rules.ErrReadOnlyStore),
		errors.Is(err, multitenantengine.ErrReadOnlyTenant):
		return http.StatusForbidden
	case errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, multitenantengine.ErrInvalidSchema):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions

// decodeBody decodes a JSON body keeping number literals intact,
// so 1 and 1.0 stay distinct facts
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
		logger.Debug(message, "status", status, "error", err)
	}

	respondJSON(w, status, response)
}

// registerFileTenant serves the rules under dir as a read-only tenant
func registerFileTenant(manager *multitenantengine.Manager, cfg *config.Config) (*rules.Engine, error) {
	engine, err := rules.NewEngine(rulefile.NewDirStore(cfg.RulesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.RulesDir, err)
	}

	if err := manager.RegisterEngine(cfg.RulesTenant, nil, engine, true); err != nil {
		return nil, err
	}

	logger.Info("file tenant registered",
		"tenant_id", cfg.RulesTenant,
		"dir", cfg.RulesDir,
		"rules", engine.Executor().Len(),
	)
	return engine, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal("invalid log level", "error", err)
	}
	logger.SetLevel(level)
	logger.SetSampleRate(cfg.ErrorSampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open database", "error", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping database", "error", err)
		}
	}

	manager := multitenantengine.NewManager(db)
	if db != nil {
		logger.Info("loading tenants from database")
		if err := manager.LoadAllTenants(); err != nil {
			logger.Fatal("failed to load tenants", "error", err)
		}
	}

	var watcher *rulefile.Watcher
	if cfg.RulesDir != "" {
		engine, err := registerFileTenant(manager, cfg)
		if err != nil {
			logger.Fatal("failed to register file tenant", "error", err)
		}

		if cfg.RulesWatch {
			watcher, err = rulefile.NewWatcher(cfg.RulesDir, cfg.WatchDebounce)
			if err != nil {
				logger.Fatal("failed to create rules watcher", "error", err)
			}
			go func() {
				if err := watcher.Watch(ctx, engine.Reload); err != nil {
					logger.Error("rules watcher stopped", "error", err)
				}
			}()
		}
	}

	server := NewServer(db, manager, cfg.RequestTimeout)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.ServerPort),
		Handler:      server,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort, "tenants", len(manager.ListTenants()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop rules watcher", "error", err)
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
