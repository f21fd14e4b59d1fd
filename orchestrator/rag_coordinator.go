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
	"context"
	"fmt"
	"strings"
	"time"

	"aiadvisor/platform/shared/logger"
)

// ragMaxTokens is the generation budget for an enhanced RAG answer.
const ragMaxTokens = 512

// placeholderConfidence is a fixed stub carried over from the upstream
// contract. It is not a computed metric; the field name says so.
const placeholderConfidence = 0.85

// EnhancedRAGRequest is one retrieve-then-answer request.
type EnhancedRAGRequest struct {
	Query     string `json:"query"`
	Domain    string `json:"domain"`
	Namespace string `json:"namespace,omitempty"` // overrides the domain's namespace
	TopK      int    `json:"top_k"`
	UseLLM    bool   `json:"use_llm"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id,omitempty"`
}

// EnhancedRAGResult carries the raw retrieval results and, when generation
// ran, the generated answer.
type EnhancedRAGResult struct {
	RetrievalResults      []RetrievalResult `json:"retrieval_results"`
	Answer                string            `json:"answer,omitempty"`
	Model                 string            `json:"model,omitempty"`
	TokensUsed            int               `json:"tokens_used,omitempty"`
	LatencyMs             int64             `json:"latency_ms,omitempty"`
	PlaceholderConfidence float64           `json:"placeholder_confidence,omitempty"`
}

// RAGCoordinator composes retrieval and generation into the two-step
// "retrieve then answer" operation.
type RAGCoordinator struct {
	resolver   *DomainConfigResolver
	retrieval  RetrievalBackend
	generation GenerationBackend
	audit      AuditRecorder
	log        *logger.Logger
}

// NewRAGCoordinator wires the coordinator's collaborators.
func NewRAGCoordinator(resolver *DomainConfigResolver, retrieval RetrievalBackend, generation GenerationBackend, audit AuditRecorder, log *logger.Logger) *RAGCoordinator {
	return &RAGCoordinator{
		resolver:   resolver,
		retrieval:  retrieval,
		generation: generation,
		audit:      audit,
		log:        log,
	}
}

// Answer resolves the domain config, retrieves context, and (unless the
// caller opted out with use_llm=false) generates an answer over it.
//
// A retrieval failure aborts before any generation call. A generation
// failure fails the whole request: retrieval results are not exposed on
// that path, callers wanting retrieval-only behavior pass use_llm=false.
func (c *RAGCoordinator) Answer(ctx context.Context, requestID string, req EnhancedRAGRequest) (*EnhancedRAGResult, error) {
	started := time.Now()

	config := c.resolver.Resolve(ctx, req.Domain)
	namespace := config.Namespace
	if req.Namespace != "" {
		namespace = req.Namespace
	}

	results, err := c.retrieval.Search(ctx, req.Query, namespace, req.TopK)
	if err != nil {
		c.recordAudit(req, requestID, "error", map[string]interface{}{"error": err.Error(), "stage": "retrieval"})
		return nil, err
	}

	if !req.UseLLM {
		c.recordAudit(req, requestID, "success", map[string]interface{}{
			"namespace":    namespace,
			"result_count": len(results),
			"use_llm":      false,
			"duration_ms":  time.Since(started).Milliseconds(),
		})
		return &EnhancedRAGResult{RetrievalResults: results}, nil
	}

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Content
	}
	contextBlock := strings.Join(contents, "\n")

	prompt := fmt.Sprintf("Based on the following context, answer the question: %s\n\nContext:\n%s\n\nAnswer:", req.Query, contextBlock)

	generated, err := c.generation.Generate(ctx, GenerationRequest{
		Prompt:       prompt,
		SystemPrompt: config.SystemPrompt,
		Model:        config.Model,
		MaxTokens:    ragMaxTokens,
	})
	if err != nil {
		c.recordAudit(req, requestID, "error", map[string]interface{}{"error": err.Error(), "stage": "generation"})
		return nil, err
	}

	c.recordAudit(req, requestID, "success", map[string]interface{}{
		"namespace":    namespace,
		"result_count": len(results),
		"use_llm":      true,
		"model":        generated.Model,
		"tokens_used":  generated.TokensUsed,
		"duration_ms":  time.Since(started).Milliseconds(),
	})

	c.log.InfoWithDuration(req.TenantID, requestID, "Enhanced RAG query completed",
		float64(time.Since(started).Milliseconds()), map[string]interface{}{
			"domain":       req.Domain,
			"result_count": len(results),
			"tokens_used":  generated.TokensUsed,
		})

	return &EnhancedRAGResult{
		RetrievalResults:      results,
		Answer:                generated.Text,
		Model:                 generated.Model,
		TokensUsed:            generated.TokensUsed,
		LatencyMs:             generated.LatencyMs,
		PlaceholderConfidence: placeholderConfidence,
	}, nil
}

func (c *RAGCoordinator) recordAudit(req EnhancedRAGRequest, requestID, status string, details map[string]interface{}) {
	details["domain"] = req.Domain
	c.audit.Record(AuditRecord{
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Action:       "enhanced_rag_query",
		ResourceType: "rag_query",
		ResourceID:   requestID,
		Status:       status,
		Details:      details,
	})
}
