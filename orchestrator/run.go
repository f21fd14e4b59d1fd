// Copyright 2025 AI Advisor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"aiadvisor/platform/shared/logger"
)

// AI Advisor Orchestrator - fans client requests out to the retrieval,
// generation, and workflow backends and composes the responses.

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiadvisor_orchestrator_requests_total",
			Help: "Total number of requests processed by the orchestrator",
		},
		[]string{"type", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiadvisor_orchestrator_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"type"},
	)
	promBackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiadvisor_orchestrator_backend_calls_total",
			Help: "Total number of backend calls by backend and status",
		},
		[]string{"backend", "status"},
	)
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aiadvisor_orchestrator_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promBackendCalls)
	prometheus.MustRegister(promRateLimited)
}

// server holds the orchestrator's wired components. Everything is built
// once in Run() from ServiceConfig and never mutated afterward.
type server struct {
	config    ServiceConfig
	rag       *RAGCoordinator
	chains    *ChainEngine
	workflows *WorkflowTriggerCoordinator
	health    *HealthAggregator
	audit     AuditRecorder
	metrics   *MetricsCollector
	limiter   *RateLimiter
	tenants   *TenantResolver
	log       *logger.Logger
}

// Run starts the orchestrator HTTP service. It blocks until the server
// exits.
func Run() {
	log.Println("Starting AI Advisor Orchestrator...")

	config := LoadServiceConfig()
	srv, err := newServer(config)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", srv.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", srv.metricsHandler).Methods("GET") // JSON metrics
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")  // Prometheus native format

	// Orchestration endpoints
	r.HandleFunc("/api/v1/rag/enhanced-query", srv.enhancedRAGHandler).Methods("POST")
	r.HandleFunc("/api/v1/prompt-chains/execute", srv.promptChainHandler).Methods("POST")
	r.HandleFunc("/api/v1/workflows/trigger", srv.workflowTriggerHandler).Methods("POST")

	port := config.Port
	handler := c.Handler(r)
	log.Printf("AI Advisor Orchestrator listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

// newServer wires every component from the config.
func newServer(config ServiceConfig) (*server, error) {
	componentLog := logger.New("orchestrator")

	var db *sql.DB
	if config.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", config.DatabaseURL)
		if err != nil {
			log.Printf("Failed to open config database: %v (using static fallback)", err)
			db = nil
		}
	}

	redisClient := newRedisClient(config.RedisURL)

	catalog, err := LoadChainCatalog(config.ChainCatalogFile)
	if err != nil {
		return nil, err
	}

	resolver := NewDomainConfigResolver(db, redisClient, componentLog)
	retrieval := NewRetrievalClient(config.RetrievalURL)
	generation := NewGenerationClient(config.LLMInferenceURL)
	workflowClient := NewWorkflowClient(config.WorkflowEngineURL, config.WorkflowAPIKey)
	audit := NewPostgresAuditRecorder(config.DatabaseURL)

	return &server{
		config:    config,
		rag:       NewRAGCoordinator(resolver, retrieval, generation, audit, componentLog),
		chains:    NewChainEngine(catalog, retrieval, generation, componentLog),
		workflows: NewWorkflowTriggerCoordinator(workflowClient, config.WorkflowAPIKey != "", audit, componentLog),
		health:    NewHealthAggregator(config),
		audit:     audit,
		metrics:   NewMetricsCollector(),
		limiter:   NewRateLimiter(redisClient, config.RateLimitPerMinute),
		tenants:   NewTenantResolver(config.JWTSigningKey),
		log:       componentLog,
	}, nil
}

// checkRateLimit applies the per-tenant budget and writes the 429 response
// itself when exceeded. Returns false when the request must not proceed.
func (s *server) checkRateLimit(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	allowed, resetTime := s.limiter.Allow(r.Context(), tenantID)
	if allowed {
		return true
	}

	promRateLimited.Inc()
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(resetTime).Seconds())+1))
	sendErrorResponse(w, KindRateLimited, "rate limit exceeded, retry after window reset", http.StatusTooManyRequests)
	return false
}

// tenantFor merges token-derived tenant context over body-supplied fields.
// Token claims win when present.
func (s *server) tenantFor(r *http.Request, bodyTenant, bodyUser string) (string, string) {
	tc := s.tenants.FromRequest(r)
	tenantID := bodyTenant
	userID := bodyUser
	if tc.TenantID != "" {
		tenantID = tc.TenantID
	}
	if tc.UserID != "" {
		userID = tc.UserID
	}
	if tenantID == "" {
		tenantID = "default"
	}
	return tenantID, userID
}

func (s *server) enhancedRAGHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := generateRequestID()

	var req EnhancedRAGRequest
	req.UseLLM = true // default when the field is absent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, KindBadRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		sendErrorResponse(w, KindBadRequest, "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	req.TenantID, req.UserID = s.tenantFor(r, req.TenantID, req.UserID)
	if !s.checkRateLimit(w, r, req.TenantID) {
		return
	}

	result, err := s.rag.Answer(r.Context(), requestID, req)
	s.recordRequest("enhanced_rag", err == nil, startTime)
	if err != nil {
		s.sendTranslatedError(w, req.TenantID, requestID, err)
		return
	}

	s.metrics.RecordBackendCall("retrieval", true, 0)
	promBackendCalls.WithLabelValues("retrieval", "success").Inc()
	if req.UseLLM {
		s.metrics.RecordBackendCall("generation", true, result.TokensUsed)
		promBackendCalls.WithLabelValues("generation", "success").Inc()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":             requestID,
		"status":                 "success",
		"retrieval_results":      result.RetrievalResults,
		"answer":                 result.Answer,
		"model":                  result.Model,
		"tokens_used":            result.TokensUsed,
		"latency_ms":             result.LatencyMs,
		"placeholder_confidence": result.PlaceholderConfidence,
	})
}

// PromptChainRequest is the execute-chain request body.
type PromptChainRequest struct {
	ChainType string                 `json:"chain_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id,omitempty"`
}

func (s *server) promptChainHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := generateRequestID()

	var req PromptChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, KindBadRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChainType == "" {
		sendErrorResponse(w, KindBadRequest, "chain_type is required", http.StatusBadRequest)
		return
	}

	req.TenantID, req.UserID = s.tenantFor(r, req.TenantID, req.UserID)
	if !s.checkRateLimit(w, r, req.TenantID) {
		return
	}

	results, err := s.chains.Execute(r.Context(), req.TenantID, req.ChainType, req.Inputs)
	s.recordRequest("prompt_chain", err == nil, startTime)

	auditStatus := "success"
	auditDetails := map[string]interface{}{
		"chain_type": req.ChainType,
	}
	if err != nil {
		auditStatus = "error"
		auditDetails["error"] = err.Error()
	} else {
		auditDetails["steps"] = len(results)
	}
	s.audit.Record(AuditRecord{
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Action:       "prompt_chain_execute",
		ResourceType: "prompt_chain",
		ResourceID:   requestID,
		Status:       auditStatus,
		Details:      auditDetails,
	})

	if err != nil {
		s.sendTranslatedError(w, req.TenantID, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":    requestID,
		"status":        "completed",
		"chain_type":    req.ChainType,
		"chain_results": results,
	})
}

func (s *server) workflowTriggerHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := generateRequestID()

	var req WorkflowTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, KindBadRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" {
		sendErrorResponse(w, KindBadRequest, "workflow_id is required", http.StatusBadRequest)
		return
	}

	req.TenantID, req.UserID = s.tenantFor(r, req.TenantID, req.UserID)
	if !s.checkRateLimit(w, r, req.TenantID) {
		return
	}

	record, err := s.workflows.Trigger(r.Context(), requestID, req)
	s.recordRequest("workflow_trigger", err == nil, startTime)
	if err != nil {
		s.sendTranslatedError(w, req.TenantID, requestID, err)
		return
	}

	s.metrics.RecordBackendCall("workflow_engine", true, 0)
	promBackendCalls.WithLabelValues("workflow_engine", "success").Inc()

	// Dispatch is asynchronous on the engine side: accepted, not completed
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"request_id":       requestID,
		"status":           "accepted",
		"workflow_id":      req.WorkflowID,
		"execution_record": record,
	})
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	services := s.health.CheckAll(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"services":  services,
		"timestamp": time.Now().UTC(),
	})
}

func (s *server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetMetrics())
}

// recordRequest updates both the JSON collector and the Prometheus series.
func (s *server) recordRequest(requestType string, success bool, startTime time.Time) {
	duration := time.Since(startTime)
	s.metrics.RecordRequest(requestType, success, duration)

	status := "success"
	if !success {
		status = "error"
	}
	promRequestsTotal.WithLabelValues(requestType, status).Inc()
	promRequestDuration.WithLabelValues(requestType).Observe(float64(duration.Milliseconds()))
}

// sendTranslatedError maps a typed failure to its HTTP response and records
// the backend failure where one was involved.
func (s *server) sendTranslatedError(w http.ResponseWriter, tenantID, requestID string, err error) {
	status, kind := translateError(err)

	if upstream, ok := err.(*UpstreamError); ok {
		s.metrics.RecordBackendCall(upstream.Backend, false, 0)
		promBackendCalls.WithLabelValues(upstream.Backend, "error").Inc()
	}

	s.log.ErrorWithCode(tenantID, requestID, "Request failed", status, err, map[string]interface{}{
		"kind": kind,
	})
	sendErrorResponse(w, kind, err.Error(), status)
}

// sendErrorResponse writes the uniform error body. Detail strings come from
// typed errors and never include stack traces or internal identifiers.
func sendErrorResponse(w http.ResponseWriter, kind, detail string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":  kind,
		"detail": detail,
	}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func generateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().Unix(), uuid.New().String()[:8])
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
