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
	"sort"
	"sync"
	"time"
)

// MetricsCollector aggregates request and backend metrics for the JSON
// /metrics endpoint.
type MetricsCollector struct {
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics represents collected metrics
type Metrics struct {
	RequestMetrics    map[string]*RequestTypeMetrics `json:"request_metrics"`
	BackendMetrics    map[string]*BackendMetrics     `json:"backend_metrics"`
	SystemMetrics     *SystemMetrics                 `json:"system_metrics"`
	LastResetTime     time.Time                      `json:"last_reset_time"`
	CollectionStarted time.Time                      `json:"collection_started"`
}

// RequestTypeMetrics tracks metrics per request type (enhanced_rag,
// prompt_chain, workflow_trigger).
type RequestTypeMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	ErrorCount      int64         `json:"error_count"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	P95ResponseTime time.Duration `json:"p95_response_time_ms"`
	P99ResponseTime time.Duration `json:"p99_response_time_ms"`
	responseTimes   []time.Duration
}

// BackendMetrics tracks metrics per consumed backend (retrieval,
// generation, workflow_engine).
type BackendMetrics struct {
	RequestCount int64   `json:"request_count"`
	SuccessCount int64   `json:"success_count"`
	ErrorCount   int64   `json:"error_count"`
	TotalTokens  int64   `json:"total_tokens"`
	Availability float64 `json:"availability_percentage"`
}

// SystemMetrics tracks system-level metrics
type SystemMetrics struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	TotalRequests int64 `json:"total_requests"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: &Metrics{
			RequestMetrics:    make(map[string]*RequestTypeMetrics),
			BackendMetrics:    make(map[string]*BackendMetrics),
			SystemMetrics:     &SystemMetrics{},
			CollectionStarted: time.Now(),
			LastResetTime:     time.Now(),
		},
	}
}

// RecordRequest records one completed inbound request.
func (c *MetricsCollector) RecordRequest(requestType string, success bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.metrics.RequestMetrics[requestType]; !exists {
		c.metrics.RequestMetrics[requestType] = &RequestTypeMetrics{
			responseTimes: make([]time.Duration, 0, 1000),
		}
	}

	rtMetrics := c.metrics.RequestMetrics[requestType]
	rtMetrics.TotalRequests++
	if success {
		rtMetrics.SuccessCount++
	} else {
		rtMetrics.ErrorCount++
	}
	rtMetrics.responseTimes = append(rtMetrics.responseTimes, responseTime)

	// Keep only last 1000 response times for percentile calculation
	if len(rtMetrics.responseTimes) > 1000 {
		rtMetrics.responseTimes = rtMetrics.responseTimes[len(rtMetrics.responseTimes)-1000:]
	}

	c.metrics.SystemMetrics.TotalRequests++
}

// RecordBackendCall records one call to a consumed backend.
func (c *MetricsCollector) RecordBackendCall(backend string, success bool, tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.metrics.BackendMetrics[backend]; !exists {
		c.metrics.BackendMetrics[backend] = &BackendMetrics{}
	}

	bm := c.metrics.BackendMetrics[backend]
	bm.RequestCount++
	if success {
		bm.SuccessCount++
	} else {
		bm.ErrorCount++
	}
	bm.TotalTokens += int64(tokens)
}

// GetMetrics returns a consistent copy of the current metrics.
func (c *MetricsCollector) GetMetrics() *Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calculateDerivedMetrics()

	metricsCopy := &Metrics{
		RequestMetrics: make(map[string]*RequestTypeMetrics),
		BackendMetrics: make(map[string]*BackendMetrics),
		SystemMetrics: &SystemMetrics{
			UptimeSeconds: c.metrics.SystemMetrics.UptimeSeconds,
			TotalRequests: c.metrics.SystemMetrics.TotalRequests,
		},
		LastResetTime:     c.metrics.LastResetTime,
		CollectionStarted: c.metrics.CollectionStarted,
	}

	for k, v := range c.metrics.RequestMetrics {
		metricsCopy.RequestMetrics[k] = &RequestTypeMetrics{
			TotalRequests:   v.TotalRequests,
			SuccessCount:    v.SuccessCount,
			ErrorCount:      v.ErrorCount,
			AvgResponseTime: v.AvgResponseTime,
			P95ResponseTime: v.P95ResponseTime,
			P99ResponseTime: v.P99ResponseTime,
		}
	}

	for k, v := range c.metrics.BackendMetrics {
		metricsCopy.BackendMetrics[k] = &BackendMetrics{
			RequestCount: v.RequestCount,
			SuccessCount: v.SuccessCount,
			ErrorCount:   v.ErrorCount,
			TotalTokens:  v.TotalTokens,
			Availability: v.Availability,
		}
	}

	return metricsCopy
}

// ResetMetrics resets all metrics
func (c *MetricsCollector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = &Metrics{
		RequestMetrics:    make(map[string]*RequestTypeMetrics),
		BackendMetrics:    make(map[string]*BackendMetrics),
		SystemMetrics:     &SystemMetrics{},
		CollectionStarted: c.metrics.CollectionStarted,
		LastResetTime:     time.Now(),
	}
}

// calculateDerivedMetrics fills in averages, percentiles, and availability.
// Callers must hold the write lock.
func (c *MetricsCollector) calculateDerivedMetrics() {
	for _, rtMetrics := range c.metrics.RequestMetrics {
		if len(rtMetrics.responseTimes) > 0 {
			var total time.Duration
			for _, rt := range rtMetrics.responseTimes {
				total += rt
			}
			rtMetrics.AvgResponseTime = total / time.Duration(len(rtMetrics.responseTimes))

			sorted := make([]time.Duration, len(rtMetrics.responseTimes))
			copy(sorted, rtMetrics.responseTimes)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			rtMetrics.P95ResponseTime = calculatePercentile(sorted, 95)
			rtMetrics.P99ResponseTime = calculatePercentile(sorted, 99)
		}
	}

	for _, bm := range c.metrics.BackendMetrics {
		if bm.RequestCount > 0 {
			bm.Availability = float64(bm.SuccessCount) / float64(bm.RequestCount) * 100
		}
	}

	c.metrics.SystemMetrics.UptimeSeconds = int64(time.Since(c.metrics.CollectionStarted).Seconds())
}

// calculatePercentile returns the nth percentile of sorted response times.
func calculatePercentile(sorted []time.Duration, percentile int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := (len(sorted) * percentile) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
