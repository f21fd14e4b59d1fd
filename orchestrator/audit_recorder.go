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
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// AuditRecord is one structured row describing an externally consequential
// action. Append-only; the orchestrator never reads these back.
type AuditRecord struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	UserID       string                 `json:"user_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Status       string                 `json:"status"` // "success" or "error"
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// AuditRecorder is a best-effort append-only sink. Record must never
// propagate failure to the caller; observability must not degrade the
// primary request path.
type AuditRecorder interface {
	Record(record AuditRecord)
}

// PostgresAuditRecorder writes audit records to Postgres through an async
// queue and a batch writer so callers never block on the database.
type PostgresAuditRecorder struct {
	db           *sql.DB
	batchWriter  *auditBatchWriter
	queue        chan *AuditRecord
	wg           sync.WaitGroup
	shutdownChan chan struct{}
}

// NewPostgresAuditRecorder creates the recorder. When the database is
// unavailable it degrades to a no-op recorder that only logs, so the
// service still starts.
func NewPostgresAuditRecorder(databaseURL string) *PostgresAuditRecorder {
	recorder := &PostgresAuditRecorder{
		queue:        make(chan *AuditRecord, 10000),
		shutdownChan: make(chan struct{}),
	}

	if databaseURL == "" {
		log.Printf("No audit database configured, audit records will be dropped")
		return recorder
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Printf("Failed to connect to audit database: %v", err)
		return recorder
	}

	if err := createAuditTable(db); err != nil {
		log.Printf("Failed to create audit table: %v", err)
	}

	recorder.db = db
	recorder.batchWriter = newAuditBatchWriter(db, 100)

	recorder.wg.Add(1)
	go recorder.processQueue()

	return recorder
}

// Record enqueues one audit record. It never fails: a full queue falls back
// to a direct write, a missing database drops the record with a warning.
func (r *PostgresAuditRecorder) Record(record AuditRecord) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if r.db == nil {
		log.Printf("Audit sink unavailable, dropping record action=%s resource=%s", record.Action, record.ResourceID)
		return
	}

	select {
	case r.queue <- &record:
	default:
		log.Printf("Audit queue full, writing directly")
		if err := r.batchWriter.write([]*AuditRecord{&record}); err != nil {
			log.Printf("Failed to write audit record: %v", err)
		}
	}
}

// IsHealthy reports whether the audit sink is reachable. A no-op recorder
// is always healthy.
func (r *PostgresAuditRecorder) IsHealthy() bool {
	if r.db == nil {
		return true
	}
	return r.db.Ping() == nil
}

// Shutdown flushes pending records and stops the background worker.
func (r *PostgresAuditRecorder) Shutdown() {
	if r.db == nil {
		return
	}
	close(r.shutdownChan)
	r.wg.Wait()
}

func (r *PostgresAuditRecorder) processQueue() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case record := <-r.queue:
			r.batchWriter.add(record)
		case <-ticker.C:
			r.batchWriter.flushAll()
		case <-r.shutdownChan:
			for {
				select {
				case record := <-r.queue:
					r.batchWriter.add(record)
				default:
					r.batchWriter.flushAll()
					return
				}
			}
		}
	}
}

// auditBatchWriter accumulates records and writes them in one transaction.
type auditBatchWriter struct {
	db        *sql.DB
	batchSize int
	records   []*AuditRecord
	mu        sync.Mutex
}

func newAuditBatchWriter(db *sql.DB, batchSize int) *auditBatchWriter {
	return &auditBatchWriter{
		db:        db,
		batchSize: batchSize,
		records:   make([]*AuditRecord, 0, batchSize),
	}
}

func (b *auditBatchWriter) add(record *AuditRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, record)
	if len(b.records) >= b.batchSize {
		b.flush()
	}
}

func (b *auditBatchWriter) flushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flush()
}

func (b *auditBatchWriter) flush() {
	if len(b.records) == 0 {
		return
	}
	if err := b.write(b.records); err != nil {
		log.Printf("Failed to write audit batch: %v", err)
	}
	b.records = b.records[:0]
}

func (b *auditBatchWriter) write(records []*AuditRecord) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_logs (
			id, tenant_id, user_id, action, resource_type, resource_id,
			status, details, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, record := range records {
		detailsJSON, _ := json.Marshal(record.Details)

		_, err = stmt.Exec(
			record.ID,
			record.TenantID,
			record.UserID,
			record.Action,
			record.ResourceType,
			record.ResourceID,
			record.Status,
			detailsJSON,
			record.Timestamp,
		)
		if err != nil {
			log.Printf("Failed to insert audit record: %v", err)
		}
	}

	return tx.Commit()
}

// createAuditTable creates the audit table if it doesn't exist
func createAuditTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(255) PRIMARY KEY,
		tenant_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255),
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id VARCHAR(255),
		status VARCHAR(20) NOT NULL,
		details JSONB,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	`

	_, err := db.Exec(query)
	return err
}
