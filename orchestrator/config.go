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
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// ServiceConfig holds every externally supplied setting the orchestrator
// needs. It is built once in Run() and passed explicitly to constructors;
// nothing reads the environment after startup.
type ServiceConfig struct {
	Port string

	// Backend base URLs
	RetrievalURL      string
	LLMInferenceURL   string
	WorkflowEngineURL string

	// Dispatch credential for the workflow engine. Empty means workflow
	// triggering is not configured.
	WorkflowAPIKey string

	// Postgres connection string for the domain-config store and the
	// audit sink. Empty means static fallback config and no-op audit.
	DatabaseURL string

	// Redis URL for domain-config caching and rate limiting. Optional.
	RedisURL string

	// HS256 signing key for tenant-context bearer tokens. Optional.
	JWTSigningKey string

	// Optional YAML file merged over the built-in chain catalog.
	ChainCatalogFile string

	// Per-tenant request budget per minute. Zero disables rate limiting.
	RateLimitPerMinute int
}

// LoadServiceConfig builds the config from environment variables.
func LoadServiceConfig() ServiceConfig {
	rateLimit := 0
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateLimit = n
		}
	}

	return ServiceConfig{
		Port:               getEnv("PORT", "8000"),
		RetrievalURL:       getEnv("RETRIEVAL_URL", "http://localhost:8001"),
		LLMInferenceURL:    getEnv("LLM_INFERENCE_URL", "http://localhost:8002"),
		WorkflowEngineURL:  getEnv("WORKFLOW_ENGINE_URL", "http://localhost:5678"),
		WorkflowAPIKey:     os.Getenv("WORKFLOW_API_KEY"),
		DatabaseURL:        databaseURLFromEnv(),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		ChainCatalogFile:   os.Getenv("CHAIN_CATALOG_FILE"),
		RateLimitPerMinute: rateLimit,
	}
}

// databaseURLFromEnv returns DATABASE_URL if set, otherwise assembles a
// connection string from the split DATABASE_* variables.
func databaseURLFromEnv() string {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL
	}

	host := os.Getenv("DATABASE_HOST")
	if host == "" {
		return ""
	}

	port := getEnv("DATABASE_PORT", "5432")
	name := getEnv("DATABASE_NAME", "aiadvisor")
	user := getEnv("DATABASE_USER", "postgres")
	password := os.Getenv("DATABASE_PASSWORD")
	sslMode := getEnv("DATABASE_SSLMODE", "require")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, name, sslMode)
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
