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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiadvisor/platform/shared/logger"
)

func newTestEngine(retrieval *stubRetrieval, generation *stubGeneration) *ChainEngine {
	catalog, _ := LoadChainCatalog("")
	return NewChainEngine(catalog, retrieval, generation, logger.New("test"))
}

// An unknown chain type fails before any backend call is attempted.
func TestExecuteUnknownChainType(t *testing.T) {
	retrieval := &stubRetrieval{}
	generation := &stubGeneration{}
	engine := newTestEngine(retrieval, generation)

	_, err := engine.Execute(context.Background(), "tenant-1", "no_such_chain", map[string]interface{}{"text": "T"})

	var unknownChain *UnknownChainTypeError
	require.ErrorAs(t, err, &unknownChain)
	assert.Equal(t, "no_such_chain", unknownChain.ChainType)
	assert.Equal(t, 0, retrieval.calls)
	assert.Equal(t, 0, generation.calls)
}

// Context merge is observable one step later: step 2's rendered prompt must
// contain the text step 1 produced under extracted_info.
func TestDocumentAnalysisContextMerge(t *testing.T) {
	generation := &stubGeneration{
		respond: func(req GenerationRequest) (*GenerationResult, error) {
			return &GenerationResult{
				Text:       fmt.Sprintf("OUT[%d]", len(req.Prompt)),
				TokensUsed: 1,
				Model:      "stub-model",
			}, nil
		},
	}
	engine := newTestEngine(&stubRetrieval{}, generation)

	results, err := engine.Execute(context.Background(), "tenant-1", "document_analysis", map[string]interface{}{"text": "T"})
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, 4, generation.calls)

	step1Output := results[0].Result["extracted_info"].(string)
	assert.Equal(t, "Extract key information from: T", generation.requests[0].Prompt)
	assert.Equal(t, "Summarize the following: "+step1Output, generation.requests[1].Prompt)

	step2Output := results[1].Result["summary"].(string)
	assert.Equal(t, "Classify this document: "+step2Output, generation.requests[2].Prompt)

	assert.Equal(t, []string{"extract", "summarize", "classify", "insights"},
		[]string{results[0].Step, results[1].Step, results[2].Step, results[3].Step})
}

func TestDocumentAnalysisMissingInput(t *testing.T) {
	generation := &stubGeneration{}
	engine := newTestEngine(&stubRetrieval{}, generation)

	_, err := engine.Execute(context.Background(), "tenant-1", "document_analysis", map[string]interface{}{})

	var missing *MissingContextKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "text", missing.Key)
	assert.Equal(t, 0, generation.calls)
}

func TestRAGEnhancedQAChain(t *testing.T) {
	retrieval := &stubRetrieval{
		results: []RetrievalResult{
			{ID: "1", Content: "alpha"},
			{ID: "2", Content: "beta"},
		},
	}
	generation := &stubGeneration{}
	engine := newTestEngine(retrieval, generation)

	results, err := engine.Execute(context.Background(), "tenant-1", "rag_enhanced_qa", map[string]interface{}{
		"query":     "what is X",
		"namespace": "legal-docs",
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, 1, retrieval.calls)
	assert.Equal(t, 5, retrieval.lastTopK)
	assert.Equal(t, "legal-docs", retrieval.lastNamespace)
	assert.Equal(t, 3, generation.calls)

	// Retrieval output feeds the rerank step's template
	assert.Contains(t, generation.requests[0].Prompt, "alpha\nbeta")
	for _, req := range generation.requests {
		assert.Equal(t, chainGenMaxTokens, req.MaxTokens)
	}
}

// A step with no backend and no template is valid: it echoes the action
// over the current context instead of failing.
func TestSyntheticStepEcho(t *testing.T) {
	catalog := map[string][]ChainStep{
		"custom_chain": {
			{Action: "annotate"},
		},
	}
	engine := NewChainEngine(catalog, &stubRetrieval{}, &stubGeneration{}, logger.New("test"))

	results, err := engine.Execute(context.Background(), "tenant-1", "custom_chain", map[string]interface{}{"key": "value"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	echo := results[0].Result["result"].(string)
	assert.Contains(t, echo, "Processed annotate with context:")
	assert.Contains(t, echo, "value")
}

// A failing step discards everything completed so far.
func TestChainFailureDiscardsPartialResults(t *testing.T) {
	callCount := 0
	generation := &stubGeneration{
		respond: func(req GenerationRequest) (*GenerationResult, error) {
			callCount++
			if callCount >= 2 {
				return nil, &UpstreamError{Backend: "generation", StatusCode: 503}
			}
			return &GenerationResult{Text: "ok", TokensUsed: 1}, nil
		},
	}
	engine := newTestEngine(&stubRetrieval{}, generation)

	results, err := engine.Execute(context.Background(), "tenant-1", "document_analysis", map[string]interface{}{"text": "T"})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Nil(t, results)
	assert.Equal(t, 2, generation.calls)
}

func TestTemplateRenderMissingKey(t *testing.T) {
	tmpl := ParseTemplate("Answer {query} using {context}")

	_, err := tmpl.Render("generate", map[string]interface{}{"query": "q"})

	var missing *MissingContextKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "context", missing.Key)
	assert.Equal(t, "generate", missing.Step)
}

func TestLoadChainCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
chains:
  ticket_triage:
    - action: classify
      target: generation
      template: "Classify this ticket: {ticket}"
      output_key: category
    - action: route
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	catalog, err := LoadChainCatalog(path)
	require.NoError(t, err)

	// File chains merge over the built-in catalog
	assert.Contains(t, catalog, "document_analysis")
	require.Contains(t, catalog, "ticket_triage")
	steps := catalog["ticket_triage"]
	require.Len(t, steps, 2)
	assert.Equal(t, TargetGeneration, steps[0].Target)
	assert.Equal(t, "category", steps[0].OutputKey)
	assert.Equal(t, TargetNone, steps[1].Target)
}

func TestLoadChainCatalogRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown target",
			content: `
chains:
  bad:
    - action: step
      target: teleport
`,
		},
		{
			name: "generation step without template",
			content: `
chains:
  bad:
    - action: step
      target: generation
`,
		},
		{
			name: "empty chain",
			content: `
chains:
  bad: []
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadChainCatalog(path)
			assert.Error(t, err)
		})
	}
}

func TestChainRetrievalErrorPropagates(t *testing.T) {
	retrieval := &stubRetrieval{err: errors.New("boom")}
	engine := newTestEngine(retrieval, &stubGeneration{})

	_, err := engine.Execute(context.Background(), "tenant-1", "rag_enhanced_qa", map[string]interface{}{"query": "q"})
	assert.Error(t, err)
}
