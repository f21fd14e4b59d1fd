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
	"errors"
	"fmt"
	"net/http"
)

// Error kinds exposed to callers. These are the stable machine-readable
// identifiers in error response bodies; changing one breaks clients.
const (
	KindBadRequest          = "bad_request"
	KindUnknownChainType    = "unknown_chain_type"
	KindMissingContextKey   = "missing_context_key"
	KindWorkflowNotFound    = "workflow_not_found"
	KindWorkflowNotConf     = "workflow_not_configured"
	KindUpstreamError       = "upstream_error"
	KindUpstreamUnreachable = "upstream_unreachable"
	KindRateLimited         = "rate_limit_exceeded"
	KindInternal            = "internal_error"
)

// UpstreamError reports a backend that answered with a non-2xx status or
// could not be reached at all. Exactly one of StatusCode and Err is set.
type UpstreamError struct {
	Backend    string // "retrieval", "generation", "workflow_engine"
	StatusCode int    // non-zero when the backend responded
	Err        error  // non-nil on transport failure
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend unreachable: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s backend returned status %d", e.Backend, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the failure was a transport error rather than
// an HTTP-level one.
func (e *UpstreamError) Unreachable() bool {
	return e.Err != nil
}

// UnknownChainTypeError is returned when a requested chain type is not in
// the catalog. No backend call is made.
type UnknownChainTypeError struct {
	ChainType string
}

func (e *UnknownChainTypeError) Error() string {
	return fmt.Sprintf("unknown chain type: %s", e.ChainType)
}

// MissingContextKeyError is returned when a prompt template references a
// placeholder that has no matching key in the chain context.
type MissingContextKeyError struct {
	Key  string
	Step string
}

func (e *MissingContextKeyError) Error() string {
	return fmt.Sprintf("step %s: no context key for placeholder {%s}", e.Step, e.Key)
}

// WorkflowNotFoundError is returned when the workflow engine's existence
// check does not return 200 for the given workflow.
type WorkflowNotFoundError struct {
	WorkflowID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.WorkflowID)
}

// ErrWorkflowNotConfigured is returned when no dispatch credential is
// configured for the workflow engine.
var ErrWorkflowNotConfigured = errors.New("workflow engine credential not configured")

// translateError maps a typed failure to its HTTP status and machine-readable
// kind. Every handler funnels errors through here so the mapping lives in one
// place.
func translateError(err error) (status int, kind string) {
	var upstream *UpstreamError
	var unknownChain *UnknownChainTypeError
	var missingKey *MissingContextKeyError
	var notFound *WorkflowNotFoundError

	switch {
	case errors.As(err, &unknownChain):
		return http.StatusBadRequest, KindUnknownChainType
	case errors.As(err, &missingKey):
		return http.StatusBadRequest, KindMissingContextKey
	case errors.As(err, &notFound):
		return http.StatusNotFound, KindWorkflowNotFound
	case errors.Is(err, ErrWorkflowNotConfigured):
		return http.StatusServiceUnavailable, KindWorkflowNotConf
	case errors.As(err, &upstream):
		if upstream.Unreachable() {
			return http.StatusBadGateway, KindUpstreamUnreachable
		}
		return http.StatusBadGateway, KindUpstreamError
	default:
		return http.StatusInternalServerError, KindInternal
	}
}
