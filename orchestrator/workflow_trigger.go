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

	"aiadvisor/platform/shared/logger"
)

// WorkflowBackend is the workflow engine contract. *WorkflowClient
// satisfies it.
type WorkflowBackend interface {
	Exists(ctx context.Context, workflowID string) error
	Dispatch(ctx context.Context, workflowID string, payload map[string]interface{}) (map[string]interface{}, error)
}

// WorkflowTriggerRequest asks for one workflow execution.
type WorkflowTriggerRequest struct {
	WorkflowID string                 `json:"workflow_id"`
	Inputs     map[string]interface{} `json:"inputs"`
	TenantID   string                 `json:"tenant_id"`
	UserID     string                 `json:"user_id,omitempty"`
}

// WorkflowTriggerCoordinator validates a workflow before dispatching it and
// writes exactly one audit record per trigger, success or failure.
type WorkflowTriggerCoordinator struct {
	workflows     WorkflowBackend
	credentialSet bool
	audit         AuditRecorder
	log           *logger.Logger
}

// NewWorkflowTriggerCoordinator wires the coordinator. credentialSet
// reflects whether a dispatch credential was configured at startup.
func NewWorkflowTriggerCoordinator(workflows WorkflowBackend, credentialSet bool, audit AuditRecorder, log *logger.Logger) *WorkflowTriggerCoordinator {
	return &WorkflowTriggerCoordinator{
		workflows:     workflows,
		credentialSet: credentialSet,
		audit:         audit,
		log:           log,
	}
}

// Trigger checks the dispatch credential, verifies the workflow exists,
// and dispatches it with tenant and user metadata merged into the payload.
// Exactly one audit record is written per call regardless of outcome; an
// audit sink failure never fails the trigger (the recorder absorbs it).
func (c *WorkflowTriggerCoordinator) Trigger(ctx context.Context, requestID string, req WorkflowTriggerRequest) (map[string]interface{}, error) {
	record, err := c.trigger(ctx, req)

	audit := AuditRecord{
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Action:       "workflow_trigger",
		ResourceType: "workflow",
		ResourceID:   req.WorkflowID,
		Status:       "success",
		Details: map[string]interface{}{
			"workflow_id": req.WorkflowID,
		},
	}
	if err != nil {
		audit.Status = "error"
		audit.Details["error"] = err.Error()
	}
	c.audit.Record(audit)

	if err != nil {
		c.log.Error(req.TenantID, requestID, "Workflow trigger failed", map[string]interface{}{
			"workflow_id": req.WorkflowID,
			"error":       err.Error(),
		})
		return nil, err
	}

	c.log.Info(req.TenantID, requestID, "Workflow dispatched", map[string]interface{}{
		"workflow_id": req.WorkflowID,
	})
	return record, nil
}

func (c *WorkflowTriggerCoordinator) trigger(ctx context.Context, req WorkflowTriggerRequest) (map[string]interface{}, error) {
	if !c.credentialSet {
		return nil, ErrWorkflowNotConfigured
	}

	if err := c.workflows.Exists(ctx, req.WorkflowID); err != nil {
		return nil, err
	}

	payload := make(map[string]interface{}, len(req.Inputs)+2)
	for k, v := range req.Inputs {
		payload[k] = v
	}
	payload["tenant_id"] = req.TenantID
	payload["user_id"] = req.UserID

	return c.workflows.Dispatch(ctx, req.WorkflowID, payload)
}
