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
	"sync"
)

// stubRetrieval is a RetrievalBackend with call counting for tests.
type stubRetrieval struct {
	results []RetrievalResult
	err     error

	calls         int
	lastQuery     string
	lastNamespace string
	lastTopK      int
}

func (s *stubRetrieval) Search(ctx context.Context, query, namespace string, topK int) ([]RetrievalResult, error) {
	s.calls++
	s.lastQuery = query
	s.lastNamespace = namespace
	s.lastTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

// stubGeneration is a GenerationBackend that records every prompt. When
// respond is nil it echoes the prompt back as the generated text.
type stubGeneration struct {
	respond func(req GenerationRequest) (*GenerationResult, error)

	calls    int
	requests []GenerationRequest
}

func (s *stubGeneration) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	s.calls++
	s.requests = append(s.requests, req)
	if s.respond != nil {
		return s.respond(req)
	}
	return &GenerationResult{
		Text:       req.Prompt,
		TokensUsed: len(req.Prompt) / 4,
		Model:      "stub-model",
	}, nil
}

// stubWorkflow is a WorkflowBackend for trigger coordinator tests.
type stubWorkflow struct {
	existsErr      error
	dispatchErr    error
	dispatchResult map[string]interface{}

	existsCalls   int
	dispatchCalls int
	lastPayload   map[string]interface{}
}

func (s *stubWorkflow) Exists(ctx context.Context, workflowID string) error {
	s.existsCalls++
	return s.existsErr
}

func (s *stubWorkflow) Dispatch(ctx context.Context, workflowID string, payload map[string]interface{}) (map[string]interface{}, error) {
	s.dispatchCalls++
	s.lastPayload = payload
	if s.dispatchErr != nil {
		return nil, s.dispatchErr
	}
	if s.dispatchResult != nil {
		return s.dispatchResult, nil
	}
	return map[string]interface{}{"execution_id": "exec-1"}, nil
}

// memoryAudit collects audit records in memory.
type memoryAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (m *memoryAudit) Record(record AuditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
}

func (m *memoryAudit) Records() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}
