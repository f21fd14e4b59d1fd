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
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"aiadvisor/platform/shared/logger"
)

// RetrievalBackend is the retrieval contract the engine and coordinators
// consume. *RetrievalClient satisfies it.
type RetrievalBackend interface {
	Search(ctx context.Context, query, namespace string, topK int) ([]RetrievalResult, error)
}

// GenerationBackend is the generation contract. *GenerationClient satisfies it.
type GenerationBackend interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// ChainStatus tracks a chain execution through its lifecycle
type ChainStatus string

const (
	ChainStatusIdle      ChainStatus = "idle"
	ChainStatusRunning   ChainStatus = "running"
	ChainStatusCompleted ChainStatus = "completed"
	ChainStatusFailed    ChainStatus = "failed"
)

// Step targets. A step with no target produces a synthetic result.
const (
	TargetNone       = ""
	TargetRetrieval  = "retrieval"
	TargetGeneration = "generation"
)

// Fixed parameters for backend calls made from within a chain.
const (
	chainRetrievalTopK    = 5
	chainGenMaxTokens     = 256
	chainDefaultNamespace = "default"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// PromptTemplate is a literal string with a fixed set of named placeholders,
// extracted once when the catalog is built so rendering can only fail on a
// missing context key, never on a malformed template.
type PromptTemplate struct {
	raw          string
	placeholders []string
}

// ParseTemplate compiles a template string, recording its placeholders.
func ParseTemplate(raw string) PromptTemplate {
	matches := placeholderPattern.FindAllStringSubmatch(raw, -1)
	placeholders := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			placeholders = append(placeholders, m[1])
		}
	}
	return PromptTemplate{raw: raw, placeholders: placeholders}
}

// Render substitutes every placeholder from the chain context. A placeholder
// with no matching key fails with MissingContextKeyError.
func (t PromptTemplate) Render(stepAction string, chainContext map[string]interface{}) (string, error) {
	rendered := t.raw
	for _, name := range t.placeholders {
		value, ok := chainContext[name]
		if !ok {
			return "", &MissingContextKeyError{Key: name, Step: stepAction}
		}
		rendered = strings.ReplaceAll(rendered, "{"+name+"}", fmt.Sprintf("%v", value))
	}
	return rendered, nil
}

// Empty reports whether the template holds no text at all.
func (t PromptTemplate) Empty() bool {
	return t.raw == ""
}

// ChainStep is one entry in a chain type's ordered step list. Generation
// steps store their generated text in the context under OutputKey so the
// next step's template can reference it by name.
type ChainStep struct {
	Action    string
	Target    string
	Template  PromptTemplate
	OutputKey string
}

// StepResult pairs a step's action name with the fields it produced.
type StepResult struct {
	Step   string                 `json:"step"`
	Result map[string]interface{} `json:"result"`
}

// ChainExecution is the engine's record of one run, reported in logs.
type ChainExecution struct {
	ID        string
	ChainType string
	Status    ChainStatus
	StepIndex int
	StartedAt time.Time
	Error     string
}

// builtinChainCatalog returns the fixed chain-type catalog. The catalog is
// built once at startup and never mutated afterward.
func builtinChainCatalog() map[string][]ChainStep {
	return map[string][]ChainStep{
		"document_analysis": {
			{Action: "extract", Target: TargetGeneration, Template: ParseTemplate("Extract key information from: {text}"), OutputKey: "extracted_info"},
			{Action: "summarize", Target: TargetGeneration, Template: ParseTemplate("Summarize the following: {extracted_info}"), OutputKey: "summary"},
			{Action: "classify", Target: TargetGeneration, Template: ParseTemplate("Classify this document: {summary}"), OutputKey: "classification"},
			{Action: "insights", Target: TargetGeneration, Template: ParseTemplate("Generate insights for: {classification}"), OutputKey: "insights"},
		},
		"rag_enhanced_qa": {
			{Action: "retrieve", Target: TargetRetrieval, OutputKey: "passages"},
			{Action: "rerank", Target: TargetGeneration, Template: ParseTemplate("Rank the following passages by relevance to the question: {query}\n\nPassages:\n{passages}"), OutputKey: "passages"},
			{Action: "generate", Target: TargetGeneration, Template: ParseTemplate("Based on the following context, answer the question: {query}\n\nContext:\n{passages}\n\nAnswer:"), OutputKey: "answer"},
			{Action: "validate", Target: TargetGeneration, Template: ParseTemplate("Validate that this answer is supported by the context: {answer}"), OutputKey: "validation"},
		},
	}
}

// catalogFile is the YAML shape of an external catalog file.
type catalogFile struct {
	Chains map[string][]struct {
		Action    string `yaml:"action"`
		Target    string `yaml:"target"`
		Template  string `yaml:"template"`
		OutputKey string `yaml:"output_key"`
	} `yaml:"chains"`
}

// LoadChainCatalog builds the catalog, merging an optional YAML file over
// the built-in entries. File entries are validated at load time so a bad
// catalog fails startup, not a request.
func LoadChainCatalog(path string) (map[string][]ChainStep, error) {
	catalog := builtinChainCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse chain catalog %s: %w", path, err)
	}

	for chainType, rawSteps := range file.Chains {
		if len(rawSteps) == 0 {
			return nil, fmt.Errorf("chain catalog %s: chain %s has no steps", path, chainType)
		}
		steps := make([]ChainStep, 0, len(rawSteps))
		for i, raw := range rawSteps {
			if raw.Action == "" {
				return nil, fmt.Errorf("chain catalog %s: chain %s step %d has no action", path, chainType, i)
			}
			switch raw.Target {
			case TargetNone, TargetRetrieval, TargetGeneration:
			default:
				return nil, fmt.Errorf("chain catalog %s: chain %s step %s has unknown target %q", path, chainType, raw.Action, raw.Target)
			}
			if raw.Target == TargetGeneration && raw.Template == "" {
				return nil, fmt.Errorf("chain catalog %s: chain %s step %s targets generation without a template", path, chainType, raw.Action)
			}
			steps = append(steps, ChainStep{
				Action:    raw.Action,
				Target:    raw.Target,
				Template:  ParseTemplate(raw.Template),
				OutputKey: raw.OutputKey,
			})
		}
		catalog[chainType] = steps
	}

	return catalog, nil
}

// ChainEngine executes catalogued prompt chains, threading a shared context
// through strictly sequential steps.
type ChainEngine struct {
	catalog    map[string][]ChainStep
	retrieval  RetrievalBackend
	generation GenerationBackend
	log        *logger.Logger
}

// NewChainEngine creates an engine over a prebuilt catalog.
func NewChainEngine(catalog map[string][]ChainStep, retrieval RetrievalBackend, generation GenerationBackend, log *logger.Logger) *ChainEngine {
	return &ChainEngine{
		catalog:    catalog,
		retrieval:  retrieval,
		generation: generation,
		log:        log,
	}
}

// ChainTypes returns the catalogued chain type names.
func (e *ChainEngine) ChainTypes() []string {
	types := make([]string, 0, len(e.catalog))
	for name := range e.catalog {
		types = append(types, name)
	}
	return types
}

// Execute runs the named chain over a context seeded from inputs. Steps run
// strictly in order; each step's result fields are merged into the context
// before the next step starts, so keys written by step i are visible to step
// i+1's template and no earlier. On any step failure the completed steps are
// discarded and the error propagates.
func (e *ChainEngine) Execute(ctx context.Context, tenantID, chainType string, inputs map[string]interface{}) ([]StepResult, error) {
	steps, ok := e.catalog[chainType]
	if !ok {
		return nil, &UnknownChainTypeError{ChainType: chainType}
	}

	execution := ChainExecution{
		ID:        uuid.New().String(),
		ChainType: chainType,
		Status:    ChainStatusIdle,
		StartedAt: time.Now(),
	}

	chainContext := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		chainContext[k] = v
	}

	execution.Status = ChainStatusRunning
	results := make([]StepResult, 0, len(steps))

	for i, step := range steps {
		execution.StepIndex = i

		stepResult, err := e.executeStep(ctx, step, chainContext)
		if err != nil {
			execution.Status = ChainStatusFailed
			execution.Error = err.Error()
			e.log.Error(tenantID, execution.ID, "Chain execution failed", map[string]interface{}{
				"chain_type": chainType,
				"step":       step.Action,
				"step_index": i,
				"error":      err.Error(),
			})
			return nil, err
		}

		for k, v := range stepResult {
			chainContext[k] = v
		}
		results = append(results, StepResult{Step: step.Action, Result: stepResult})
	}

	execution.Status = ChainStatusCompleted
	e.log.InfoWithDuration(tenantID, execution.ID, "Chain execution completed",
		float64(time.Since(execution.StartedAt).Milliseconds()), map[string]interface{}{
			"chain_type": chainType,
			"steps":      len(steps),
		})
	return results, nil
}

// executeStep runs one step and returns its result fields.
func (e *ChainEngine) executeStep(ctx context.Context, step ChainStep, chainContext map[string]interface{}) (map[string]interface{}, error) {
	switch step.Target {
	case TargetRetrieval:
		return e.retrievalStep(ctx, step, chainContext)
	case TargetGeneration:
		return e.generationStep(ctx, step, chainContext)
	default:
		// No backend and no template is a valid catalog entry, the step
		// just echoes its action over the current context.
		return map[string]interface{}{
			"result": fmt.Sprintf("Processed %s with context: %v", step.Action, chainContext),
		}, nil
	}
}

func (e *ChainEngine) retrievalStep(ctx context.Context, step ChainStep, chainContext map[string]interface{}) (map[string]interface{}, error) {
	query, ok := chainContext["query"].(string)
	if !ok || query == "" {
		return nil, &MissingContextKeyError{Key: "query", Step: step.Action}
	}

	namespace := chainDefaultNamespace
	if ns, ok := chainContext["namespace"].(string); ok && ns != "" {
		namespace = ns
	}

	results, err := e.retrieval.Search(ctx, query, namespace, chainRetrievalTopK)
	if err != nil {
		return nil, err
	}

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Content
	}

	stepResult := map[string]interface{}{
		"results": results,
	}
	if step.OutputKey != "" {
		stepResult[step.OutputKey] = strings.Join(contents, "\n")
	}
	return stepResult, nil
}

func (e *ChainEngine) generationStep(ctx context.Context, step ChainStep, chainContext map[string]interface{}) (map[string]interface{}, error) {
	prompt, err := step.Template.Render(step.Action, chainContext)
	if err != nil {
		return nil, err
	}

	generated, err := e.generation.Generate(ctx, GenerationRequest{
		Prompt:    prompt,
		MaxTokens: chainGenMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	stepResult := map[string]interface{}{
		"text":        generated.Text,
		"tokens_used": generated.TokensUsed,
		"model":       generated.Model,
		"latency_ms":  generated.LatencyMs,
	}
	if step.OutputKey != "" {
		stepResult[step.OutputKey] = generated.Text
	}
	return stepResult, nil
}
