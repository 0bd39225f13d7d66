// Package store persists detection records and video evidence
// metadata. A primary database sink (SQLite or Postgres) and a
// secondary append-only export sink are written together through the
// DualWriter.
package store

import (
	"context"
	"time"

	"github.com/platewatch/platewatch/internal/model"
)

// RecordFilter specifies criteria for listing detection records.
type RecordFilter struct {
	Plate         string             `json:"plate,omitempty"`
	TrackID       string             `json:"track_id,omitempty"`
	Status        model.RecordStatus `json:"status,omitempty"`
	MinConfidence float64            `json:"min_confidence,omitempty"`
	Since         time.Time          `json:"since,omitempty"`
	Until         time.Time          `json:"until,omitempty"`
	Limit         int                `json:"limit,omitempty"`
	Offset        int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the detection pipeline.
type Store interface {
	// Records
	UpsertRecord(ctx context.Context, rec *model.DetectionRecord) error
	FinalizeRecord(ctx context.Context, recordID string) error
	GetRecord(ctx context.Context, recordID string) (*model.DetectionRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.DetectionRecord, error)

	// Evidence
	PutEvidence(ctx context.Context, ev *model.VideoEvidence) error
	GetEvidence(ctx context.Context, evidenceID string) (*model.VideoEvidence, error)
	ListEvidence(ctx context.Context, limit int) ([]model.VideoEvidence, error)
	MarkEvidenceArchived(ctx context.Context, evidenceID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// BulkInserter is implemented by stores that can load many records in
// one operation; the import command prefers it over per-row upserts.
type BulkInserter interface {
	BulkInsertRecords(ctx context.Context, records []model.DetectionRecord) (int64, error)
}
