package storage

import "time"

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one ingestion attempt recorded in the ledger. The ledger is an audit
// trail: resume decisions always come from the vector store.
type Run struct {
	ID          string     `json:"id"` // UUID
	Source      string     `json:"source"`
	Collection  string     `json:"collection"`
	DocHash     string     `json:"doc_hash"` // SHA256 hex of the document bytes
	// ChunkConfig fingerprints the chunking params the run used. Chunk
	// indices are only comparable between runs with the same value.
	ChunkConfig string     `json:"chunk_config,omitempty"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Skipped     int        `json:"skipped"`
	Embedded    int        `json:"embedded"`
	Written     int        `json:"written"`
	Batches     int        `json:"batches"`
	FailedBatch int        `json:"failed_batch,omitempty"` // 1-based, 0 when no batch failed
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
