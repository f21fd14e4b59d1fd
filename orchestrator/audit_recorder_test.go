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
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Record must never fail the caller, even with no database behind it.
func TestRecordWithoutDatabase(t *testing.T) {
	recorder := NewPostgresAuditRecorder("")

	assert.NotPanics(t, func() {
		recorder.Record(AuditRecord{
			TenantID:     "tenant-1",
			Action:       "workflow_trigger",
			ResourceType: "workflow",
			ResourceID:   "wf1",
			Status:       "success",
		})
	})
	assert.True(t, recorder.IsHealthy())
}

func TestBatchWriterWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO audit_logs")
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("id-1", "tenant-1", "user-1", "workflow_trigger", "workflow", "wf1",
			"success", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	writer := newAuditBatchWriter(db, 100)
	err = writer.write([]*AuditRecord{{
		ID:           "id-1",
		TenantID:     "tenant-1",
		UserID:       "user-1",
		Action:       "workflow_trigger",
		ResourceType: "workflow",
		ResourceID:   "wf1",
		Status:       "success",
		Details:      map[string]interface{}{"workflow_id": "wf1"},
		Timestamp:    time.Now().UTC(),
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchWriterFlushesAtBatchSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO audit_logs")
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	writer := newAuditBatchWriter(db, 2)
	writer.add(&AuditRecord{ID: "a", TenantID: "t", Action: "x", ResourceType: "y", Status: "success", Timestamp: time.Now()})
	writer.add(&AuditRecord{ID: "b", TenantID: "t", Action: "x", ResourceType: "y", Status: "success", Timestamp: time.Now()})

	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failed write is logged and absorbed, never returned to Record callers.
func TestBatchWriterFlushAbsorbsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(assert.AnError)

	writer := newAuditBatchWriter(db, 100)
	writer.add(&AuditRecord{ID: "a", TenantID: "t", Action: "x", ResourceType: "y", Status: "error", Timestamp: time.Now()})

	assert.NotPanics(t, func() { writer.flushAll() })
}
