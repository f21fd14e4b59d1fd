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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Per-backend timeouts. Generation is slow by nature; the workflow engine's
// existence check must fail fast so triggers do not hang.
const (
	generationTimeout        = 60 * time.Second
	workflowExistenceTimeout = 10 * time.Second
	workflowDispatchTimeout  = 30 * time.Second
)

// newPooledHTTPClient builds an HTTP client with connection pooling for
// repeated calls to the same backend.
func newPooledHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// RetrievalResult is one ranked hit from the retrieval backend. The
// orchestrator concatenates content in the order returned; it never
// re-ranks.
type RetrievalResult struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RetrievalClient calls the retrieval backend's search endpoint.
type RetrievalClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRetrievalClient creates a retrieval client for the given base URL.
func NewRetrievalClient(baseURL string) *RetrievalClient {
	return &RetrievalClient{
		baseURL:    baseURL,
		httpClient: newPooledHTTPClient(30 * time.Second),
	}
}

// Search issues a single POST /search; failures propagate unchanged, there
// is no retry. topK is clamped to a minimum of 1.
func (c *RetrievalClient) Search(ctx context.Context, query, namespace string, topK int) ([]RetrievalResult, error) {
	if topK < 1 {
		topK = 1
	}

	body := map[string]interface{}{
		"query":     query,
		"namespace": namespace,
		"top_k":     topK,
	}

	var response struct {
		Results []RetrievalResult `json:"results"`
	}
	if err := postJSON(ctx, c.httpClient, "retrieval", c.baseURL+"/search", "", body, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

// GenerationRequest carries the prompt and sampling parameters for one
// generation call. Zero-valued sampling fields get the backend defaults
// filled in before dispatch.
type GenerationRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	TopK         int     `json:"top_k"`
	TopP         float64 `json:"top_p"`
	Model        string  `json:"model,omitempty"`
}

// GenerationResult is the generation backend's answer.
type GenerationResult struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
	LatencyMs  int64  `json:"latency_ms"`
}

// GenerationClient calls the LLM inference backend.
type GenerationClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGenerationClient creates a generation client for the given base URL.
func NewGenerationClient(baseURL string) *GenerationClient {
	return &GenerationClient{
		baseURL:    baseURL,
		httpClient: newPooledHTTPClient(generationTimeout),
	}
}

// Generate issues a single POST /generate with a 60 second budget. When the
// backend omits tokens_used, it is approximated as len(text)/4.
func (c *GenerationClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}
	if req.TopK == 0 {
		req.TopK = 50
	}
	if req.TopP == 0 {
		req.TopP = 0.9
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 256
	}

	var response struct {
		Text       string `json:"text"`
		TokensUsed *int   `json:"tokens_used"`
		Model      string `json:"model"`
		LatencyMs  int64  `json:"latency_ms"`
	}
	if err := postJSON(ctx, c.httpClient, "generation", c.baseURL+"/generate", "", req, &response); err != nil {
		return nil, err
	}

	result := &GenerationResult{
		Text:      response.Text,
		Model:     response.Model,
		LatencyMs: response.LatencyMs,
	}
	if response.TokensUsed != nil {
		result.TokensUsed = *response.TokensUsed
	} else {
		result.TokensUsed = len(response.Text) / 4
	}
	return result, nil
}

// WorkflowClient calls the workflow engine's existence and dispatch
// endpoints.
type WorkflowClient struct {
	baseURL         string
	apiKey          string
	existenceClient *http.Client
	dispatchClient  *http.Client
}

// NewWorkflowClient creates a workflow engine client. apiKey may be empty;
// the trigger coordinator rejects dispatches before any call is made.
func NewWorkflowClient(baseURL, apiKey string) *WorkflowClient {
	return &WorkflowClient{
		baseURL:         baseURL,
		apiKey:          apiKey,
		existenceClient: newPooledHTTPClient(workflowExistenceTimeout),
		dispatchClient:  newPooledHTTPClient(workflowDispatchTimeout),
	}
}

// Exists checks that a workflow is known to the engine. A non-200 response
// means the workflow is not found; a transport error means the engine is
// unreachable. The two are distinct failures.
func (c *WorkflowClient) Exists(ctx context.Context, workflowID string) error {
	url := fmt.Sprintf("%s/api/v1/workflows/%s", c.baseURL, workflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build existence request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.existenceClient.Do(req)
	if err != nil {
		return &UpstreamError{Backend: "workflow_engine", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &WorkflowNotFoundError{WorkflowID: workflowID}
	}
	return nil
}

// Dispatch starts a workflow execution with the merged payload and returns
// the engine's execution record.
func (c *WorkflowClient) Dispatch(ctx context.Context, workflowID string, payload map[string]interface{}) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s/api/v1/workflows/%s/execute", c.baseURL, workflowID)

	var record map[string]interface{}
	if err := postJSON(ctx, c.dispatchClient, "workflow_engine", url, c.apiKey, payload, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// postJSON performs one JSON-in JSON-out POST against a backend. Non-2xx
// responses become UpstreamError with the status; transport failures become
// UpstreamError with the underlying error. Nothing is swallowed.
func postJSON(ctx context.Context, client *http.Client, backend, url, bearer string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", backend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &UpstreamError{Backend: backend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &UpstreamError{Backend: backend, StatusCode: resp.StatusCode}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", backend, err)
	}
	return nil
}
