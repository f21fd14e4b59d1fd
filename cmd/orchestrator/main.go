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

// Package main is the entry point for the AI Advisor Orchestrator service.
//
// The Orchestrator fans a single client request out to the retrieval,
// generation, and workflow-automation backends:
// - Answers enhanced RAG queries (retrieve, then generate over the context)
// - Executes catalogued prompt chains with shared step context
// - Triggers workflow-engine executions with tenant metadata
// - Records an audit row for every externally consequential action
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8000)
//	DATABASE_URL - PostgreSQL connection string (config store + audit sink)
//	RETRIEVAL_URL - retrieval backend base URL
//	LLM_INFERENCE_URL - generation backend base URL
//	WORKFLOW_ENGINE_URL - workflow engine base URL
//	WORKFLOW_API_KEY - workflow dispatch credential (optional)
//	REDIS_URL - Redis URL for caching and rate limiting (optional)
package main

import (
	"aiadvisor/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
