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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"aiadvisor/platform/shared/logger"
)

// DomainConfig selects the system prompt, retrieval namespace, and default
// model for a tenant-facing vertical. Immutable once resolved for a request.
type DomainConfig struct {
	Domain       string `json:"domain"`
	SystemPrompt string `json:"system_prompt"`
	Namespace    string `json:"namespace"`
	Model        string `json:"model"`
}

// Static fallback tables. Each table defaults to its "default" entry when a
// domain is absent from that specific table, so partial coverage is fine.
var (
	fallbackSystemPrompts = map[string]string{
		"legal":      "You are a legal AI assistant. Answer precisely, cite the provided context, and flag any compliance concerns.",
		"finance":    "You are a financial analysis assistant. Be quantitative, cite the provided context, and never fabricate figures.",
		"healthcare": "You are a clinical decision-support assistant. Answer from the provided context only and defer to clinicians.",
		"hr":         "You are a human-resources assistant. Answer from the provided context and keep personal data confidential.",
		"support":    "You are a customer-support assistant. Answer from the provided context in a clear, friendly tone.",
		"default":    "You are a helpful AI assistant. Answer the question using the provided context.",
	}

	fallbackNamespaces = map[string]string{
		"legal":      "legal-docs",
		"finance":    "finance-docs",
		"healthcare": "healthcare-docs",
		"hr":         "hr-docs",
		"support":    "support-docs",
		"default":    "default",
	}

	fallbackModels = map[string]string{
		"default": "llama3-70b",
	}
)

const domainCacheTTL = 5 * time.Minute

// DomainConfigResolver maps a domain name to its DomainConfig with a
// two-tier lookup: the Postgres domains table first, then the static
// fallback tables. Resolve never fails.
type DomainConfigResolver struct {
	db    *sql.DB       // nil when no config store is configured
	cache *redis.Client // nil when no Redis is configured
	log   *logger.Logger
}

// NewDomainConfigResolver creates a resolver. Both db and cache may be nil;
// resolution then comes entirely from the static tables.
func NewDomainConfigResolver(db *sql.DB, cache *redis.Client, log *logger.Logger) *DomainConfigResolver {
	return &DomainConfigResolver{
		db:    db,
		cache: cache,
		log:   log,
	}
}

// Resolve returns a usable DomainConfig for the domain. Store rows take
// precedence field-by-field over the static fallback, so a partial row
// (only namespace set, say) still gets static defaults for the rest.
// Store failures are logged and absorbed.
func (r *DomainConfigResolver) Resolve(ctx context.Context, domain string) DomainConfig {
	config := r.fallback(domain)

	if cached, ok := r.cacheGet(ctx, domain); ok {
		return cached
	}

	if r.db != nil {
		var systemPrompt, namespace, model sql.NullString
		row := r.db.QueryRowContext(ctx,
			`SELECT system_prompt, namespace, default_model FROM domains WHERE name = $1`, domain)
		err := row.Scan(&systemPrompt, &namespace, &model)
		switch err {
		case nil:
			if systemPrompt.Valid && systemPrompt.String != "" {
				config.SystemPrompt = systemPrompt.String
			}
			if namespace.Valid && namespace.String != "" {
				config.Namespace = namespace.String
			}
			if model.Valid && model.String != "" {
				config.Model = model.String
			}
			r.cacheSet(ctx, domain, config)
		case sql.ErrNoRows:
			// Unknown domain, static fallback applies
		default:
			r.log.Warn("", "", "Domain config store lookup failed, using static fallback", map[string]interface{}{
				"domain": domain,
				"error":  err.Error(),
			})
		}
	}

	return config
}

// fallback builds a config from the static tables only.
func (r *DomainConfigResolver) fallback(domain string) DomainConfig {
	config := DomainConfig{Domain: domain}

	if prompt, ok := fallbackSystemPrompts[domain]; ok {
		config.SystemPrompt = prompt
	} else {
		config.SystemPrompt = fallbackSystemPrompts["default"]
	}

	if namespace, ok := fallbackNamespaces[domain]; ok {
		config.Namespace = namespace
	} else {
		config.Namespace = fallbackNamespaces["default"]
	}

	if model, ok := fallbackModels[domain]; ok {
		config.Model = model
	} else {
		config.Model = fallbackModels["default"]
	}

	return config
}

func (r *DomainConfigResolver) cacheGet(ctx context.Context, domain string) (DomainConfig, bool) {
	if r.cache == nil {
		return DomainConfig{}, false
	}

	data, err := r.cache.Get(ctx, domainCacheKey(domain)).Result()
	if err != nil {
		return DomainConfig{}, false
	}

	var config DomainConfig
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return DomainConfig{}, false
	}
	return config, true
}

func (r *DomainConfigResolver) cacheSet(ctx context.Context, domain string, config DomainConfig) {
	if r.cache == nil {
		return
	}

	data, err := json.Marshal(config)
	if err != nil {
		return
	}
	// Cache write failures are ignored, next Resolve hits the store again
	r.cache.Set(ctx, domainCacheKey(domain), data, domainCacheTTL)
}

func domainCacheKey(domain string) string {
	return "domain_config:" + domain
}
