package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/platewatch/platewatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS detection_records (
	id                  TEXT PRIMARY KEY,
	track_id            TEXT NOT NULL,
	plate               TEXT NOT NULL,
	confidence          REAL NOT NULL,
	detector_confidence REAL NOT NULL,
	text_confidence     REAL NOT NULL,
	region              TEXT NOT NULL,
	frame_index         INTEGER NOT NULL,
	timestamp           DATETIME NOT NULL,
	status              TEXT NOT NULL DEFAULT 'active',
	image_path          TEXT,
	video_evidence_id   TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS video_evidence (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	width      INTEGER NOT NULL,
	height     INTEGER NOT NULL,
	archived   INTEGER NOT NULL DEFAULT 0,
	record_ids TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_plate ON detection_records(plate);
CREATE INDEX IF NOT EXISTS idx_records_track_id ON detection_records(track_id);
CREATE INDEX IF NOT EXISTS idx_records_status ON detection_records(status);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON detection_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_evidence_started_at ON video_evidence(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.DetectionRecord) error {
	regionJSON, err := json.Marshal(rec.Region)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal region")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detection_records
		 (id, track_id, plate, confidence, detector_confidence, text_confidence, region,
		  frame_index, timestamp, status, image_path, video_evidence_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   plate = excluded.plate, confidence = excluded.confidence,
		   detector_confidence = excluded.detector_confidence,
		   text_confidence = excluded.text_confidence, region = excluded.region,
		   frame_index = excluded.frame_index, timestamp = excluded.timestamp,
		   image_path = excluded.image_path,
		   video_evidence_id = excluded.video_evidence_id,
		   updated_at = excluded.updated_at
		 WHERE detection_records.status != 'finalized'`,
		rec.ID, rec.TrackID, rec.Plate, rec.Confidence, rec.DetectorConfidence,
		rec.TextConfidence, string(regionJSON), rec.FrameIndex, rec.Timestamp,
		string(rec.Status), rec.ImagePath, rec.VideoEvidenceID, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert record %s", rec.ID)
}

func (s *SQLiteStore) FinalizeRecord(ctx context.Context, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE detection_records SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.RecordStatusFinalized), time.Now().UTC(), recordID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize record %s", recordID)
	}
	return checkRowsAffected(res, "record", recordID)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, recordID string) (*model.DetectionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, track_id, plate, confidence, detector_confidence, text_confidence,
		        region, frame_index, timestamp, status, image_path, video_evidence_id,
		        created_at, updated_at
		 FROM detection_records WHERE id = ?`,
		recordID,
	)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.DetectionRecord, error) {
	query := `SELECT id, track_id, plate, confidence, detector_confidence, text_confidence,
	                 region, frame_index, timestamp, status, image_path, video_evidence_id,
	                 created_at, updated_at
	          FROM detection_records WHERE 1=1`
	var args []any

	if filter.Plate != "" {
		query += ` AND plate = ?`
		args = append(args, filter.Plate)
	}
	if filter.TrackID != "" {
		query += ` AND track_id = ?`
		args = append(args, filter.TrackID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, filter.Until)
	}
	query += ` ORDER BY timestamp DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.DetectionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) PutEvidence(ctx context.Context, ev *model.VideoEvidence) error {
	idsJSON, err := json.Marshal(ev.RecordIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO video_evidence
		 (id, path, started_at, ended_at, duration_ms, size_bytes, width, height, archived, record_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Path, ev.StartedAt, ev.EndedAt, ev.Duration.Milliseconds(),
		ev.SizeBytes, ev.Width, ev.Height, ev.Archived, string(idsJSON),
	)
	return eris.Wrapf(err, "sqlite: put evidence %s", ev.ID)
}

func (s *SQLiteStore) GetEvidence(ctx context.Context, evidenceID string) (*model.VideoEvidence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, started_at, ended_at, duration_ms, size_bytes, width, height, archived, record_ids
		 FROM video_evidence WHERE id = ?`,
		evidenceID,
	)
	return scanEvidence(row)
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, limit int) ([]model.VideoEvidence, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, started_at, ended_at, duration_ms, size_bytes, width, height, archived, record_ids
		 FROM video_evidence ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close()

	var evs []model.VideoEvidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, *ev)
	}
	return evs, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

func (s *SQLiteStore) MarkEvidenceArchived(ctx context.Context, evidenceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE video_evidence SET archived = 1 WHERE id = ?`,
		evidenceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark evidence archived %s", evidenceID)
	}
	return checkRowsAffected(res, "evidence", evidenceID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.DetectionRecord, error) {
	var r model.DetectionRecord
	var regionJSON string
	var imagePath, evidenceID sql.NullString

	err := row.Scan(&r.ID, &r.TrackID, &r.Plate, &r.Confidence, &r.DetectorConfidence,
		&r.TextConfidence, &regionJSON, &r.FrameIndex, &r.Timestamp, &r.Status,
		&imagePath, &evidenceID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("record not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	if err := json.Unmarshal([]byte(regionJSON), &r.Region); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal region")
	}
	r.ImagePath = imagePath.String
	r.VideoEvidenceID = evidenceID.String
	return &r, nil
}

func scanEvidence(row scannable) (*model.VideoEvidence, error) {
	var ev model.VideoEvidence
	var durationMs int64
	var idsJSON string

	err := row.Scan(&ev.ID, &ev.Path, &ev.StartedAt, &ev.EndedAt, &durationMs,
		&ev.SizeBytes, &ev.Width, &ev.Height, &ev.Archived, &idsJSON)
	if err == sql.ErrNoRows {
		return nil, eris.New("evidence not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan evidence")
	}

	ev.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(idsJSON), &ev.RecordIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record ids")
	}
	return &ev, nil
}
