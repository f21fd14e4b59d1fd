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
	"io"
	"net/http"
	"sync"
	"time"
)

// Backend health statuses. A non-200 response is unhealthy; a transport
// error or timeout is unreachable — the two are not the same failure.
const (
	HealthStatusHealthy     = "healthy"
	HealthStatusUnhealthy   = "unhealthy"
	HealthStatusUnreachable = "unreachable"
)

const healthProbeTimeout = 5 * time.Second

// HealthAggregator probes every configured backend concurrently and
// reports per-backend reachability.
type HealthAggregator struct {
	endpoints  map[string]string // backend name -> health URL
	httpClient *http.Client
}

// NewHealthAggregator builds an aggregator over the configured backend
// base URLs. Each probe hits <base>/health.
func NewHealthAggregator(config ServiceConfig) *HealthAggregator {
	return &HealthAggregator{
		endpoints: map[string]string{
			"retrieval":       config.RetrievalURL + "/health",
			"generation":      config.LLMInferenceURL + "/health",
			"workflow_engine": config.WorkflowEngineURL + "/health",
		},
		httpClient: newPooledHTTPClient(healthProbeTimeout),
	}
}

// CheckAll probes all backends concurrently and joins the results. A slow
// backend delays the report only by its own 5 second budget, never the
// other probes. No retries.
func (h *HealthAggregator) CheckAll(ctx context.Context) map[string]string {
	statuses := make(map[string]string, len(h.endpoints))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, url := range h.endpoints {
		wg.Add(1)
		go func(name, url string) {
			defer wg.Done()
			status := h.probe(ctx, url)
			mu.Lock()
			statuses[name] = status
			mu.Unlock()
		}(name, url)
	}

	wg.Wait()
	return statuses
}

func (h *HealthAggregator) probe(ctx context.Context, url string) string {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatusUnreachable
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return HealthStatusUnreachable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return HealthStatusUnhealthy
	}
	return HealthStatusHealthy
}
