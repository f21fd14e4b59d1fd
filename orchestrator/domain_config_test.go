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
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiadvisor/platform/shared/logger"
)

const domainQuery = `SELECT system_prompt, namespace, default_model FROM domains WHERE name = $1`

func TestResolveStaticFallback(t *testing.T) {
	resolver := NewDomainConfigResolver(nil, nil, logger.New("test"))

	config := resolver.Resolve(context.Background(), "legal")
	assert.Equal(t, "legal", config.Domain)
	assert.Equal(t, "legal-docs", config.Namespace)
	assert.Equal(t, "llama3-70b", config.Model)
	assert.NotEmpty(t, config.SystemPrompt)
}

func TestResolveUnknownDomainUsesDefaults(t *testing.T) {
	resolver := NewDomainConfigResolver(nil, nil, logger.New("test"))

	config := resolver.Resolve(context.Background(), "unknown_domain")
	assert.Equal(t, "unknown_domain", config.Domain)
	assert.Equal(t, fallbackSystemPrompts["default"], config.SystemPrompt)
	assert.Equal(t, "default", config.Namespace)
	assert.Equal(t, "llama3-70b", config.Model)
}

// Resolve must be deterministic: same input, same output, across calls.
func TestResolveFallbackDeterministic(t *testing.T) {
	resolver := NewDomainConfigResolver(nil, nil, logger.New("test"))

	first := resolver.Resolve(context.Background(), "no_such_domain")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, resolver.Resolve(context.Background(), "no_such_domain"))
	}
}

func TestResolveStoreRowTakesPrecedence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(domainQuery)).
		WithArgs("legal").
		WillReturnRows(sqlmock.NewRows([]string{"system_prompt", "namespace", "default_model"}).
			AddRow("Custom legal prompt", "legal-v2", "mixtral-8x7b"))

	resolver := NewDomainConfigResolver(db, nil, logger.New("test"))
	config := resolver.Resolve(context.Background(), "legal")

	assert.Equal(t, "Custom legal prompt", config.SystemPrompt)
	assert.Equal(t, "legal-v2", config.Namespace)
	assert.Equal(t, "mixtral-8x7b", config.Model)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A partial store row keeps static defaults for its missing fields.
func TestResolvePartialRowFieldPrecedence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(domainQuery)).
		WithArgs("finance").
		WillReturnRows(sqlmock.NewRows([]string{"system_prompt", "namespace", "default_model"}).
			AddRow(nil, "finance-v2", nil))

	resolver := NewDomainConfigResolver(db, nil, logger.New("test"))
	config := resolver.Resolve(context.Background(), "finance")

	assert.Equal(t, "finance-v2", config.Namespace)
	assert.Equal(t, fallbackSystemPrompts["finance"], config.SystemPrompt)
	assert.Equal(t, "llama3-70b", config.Model)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveNoRowFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(domainQuery)).
		WithArgs("healthcare").
		WillReturnRows(sqlmock.NewRows([]string{"system_prompt", "namespace", "default_model"}))

	resolver := NewDomainConfigResolver(db, nil, logger.New("test"))
	config := resolver.Resolve(context.Background(), "healthcare")

	assert.Equal(t, "healthcare-docs", config.Namespace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Resolve never fails: a store error is logged and the fallback is used.
func TestResolveStoreErrorFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(domainQuery)).
		WithArgs("hr").
		WillReturnError(errors.New("connection refused"))

	resolver := NewDomainConfigResolver(db, nil, logger.New("test"))
	config := resolver.Resolve(context.Background(), "hr")

	assert.Equal(t, "hr-docs", config.Namespace)
	assert.Equal(t, fallbackSystemPrompts["hr"], config.SystemPrompt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
