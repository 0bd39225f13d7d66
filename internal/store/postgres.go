package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/platewatch/platewatch/internal/db"
	"github.com/platewatch/platewatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection;
// upserts and evidence writes run on every qualifying frame.
var preparedStatements = map[string]string{
	"upsert_record": `INSERT INTO detection_records
		 (id, track_id, plate, confidence, detector_confidence, text_confidence, region,
		  frame_index, timestamp, status, image_path, video_evidence_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   plate = excluded.plate, confidence = excluded.confidence,
		   detector_confidence = excluded.detector_confidence,
		   text_confidence = excluded.text_confidence, region = excluded.region,
		   frame_index = excluded.frame_index, timestamp = excluded.timestamp,
		   image_path = excluded.image_path,
		   video_evidence_id = excluded.video_evidence_id,
		   updated_at = excluded.updated_at
		 WHERE detection_records.status != 'finalized'`,
	"finalize_record": `UPDATE detection_records SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_record": `SELECT id, track_id, plate, confidence, detector_confidence, text_confidence,
		 region, frame_index, timestamp, status, image_path, video_evidence_id, created_at, updated_at
		 FROM detection_records WHERE id = $1`,
	"put_evidence": `INSERT INTO video_evidence
		 (id, path, started_at, ended_at, duration_ms, size_bytes, width, height, archived, record_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"get_evidence": `SELECT id, path, started_at, ended_at, duration_ms, size_bytes, width, height, archived, record_ids
		 FROM video_evidence WHERE id = $1`,
	"mark_archived": `UPDATE video_evidence SET archived = true WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS detection_records (
	id                  TEXT PRIMARY KEY,
	track_id            TEXT NOT NULL,
	plate               TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL,
	detector_confidence DOUBLE PRECISION NOT NULL,
	text_confidence     DOUBLE PRECISION NOT NULL,
	region              JSONB NOT NULL,
	frame_index         BIGINT NOT NULL,
	timestamp           TIMESTAMPTZ NOT NULL,
	status              TEXT NOT NULL DEFAULT 'active',
	image_path          TEXT,
	video_evidence_id   TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS video_evidence (
	id          TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	archived    BOOLEAN NOT NULL DEFAULT false,
	record_ids  JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_plate ON detection_records(plate);
CREATE INDEX IF NOT EXISTS idx_records_track_id ON detection_records(track_id);
CREATE INDEX IF NOT EXISTS idx_records_status ON detection_records(status);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON detection_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_evidence_started_at ON video_evidence(started_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.DetectionRecord) error {
	regionJSON, err := json.Marshal(rec.Region)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal region")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.pool.Exec(ctx, preparedStatements["upsert_record"],
		rec.ID, rec.TrackID, rec.Plate, rec.Confidence, rec.DetectorConfidence,
		rec.TextConfidence, regionJSON, rec.FrameIndex, rec.Timestamp,
		string(rec.Status), rec.ImagePath, rec.VideoEvidenceID, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.ID)
}

func (s *PostgresStore) FinalizeRecord(ctx context.Context, recordID string) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["finalize_record"],
		string(model.RecordStatusFinalized), time.Now().UTC(), recordID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize record %s", recordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("record not found: %s", recordID)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, recordID string) (*model.DetectionRecord, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_record"], recordID)
	rec, err := scanPgRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", recordID)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.DetectionRecord, error) {
	query := `SELECT id, track_id, plate, confidence, detector_confidence, text_confidence,
	                 region, frame_index, timestamp, status, image_path, video_evidence_id,
	                 created_at, updated_at
	          FROM detection_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Plate != "" {
		query += fmt.Sprintf(` AND plate = $%d`, argIdx)
		args = append(args, filter.Plate)
		argIdx++
	}
	if filter.TrackID != "" {
		query += fmt.Sprintf(` AND track_id = $%d`, argIdx)
		args = append(args, filter.TrackID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.MinConfidence > 0 {
		query += fmt.Sprintf(` AND confidence >= $%d`, argIdx)
		args = append(args, filter.MinConfidence)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND timestamp >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND timestamp < $%d`, argIdx)
		args = append(args, filter.Until)
		argIdx++
	}
	query += ` ORDER BY timestamp DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.DetectionRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) PutEvidence(ctx context.Context, ev *model.VideoEvidence) error {
	idsJSON, err := json.Marshal(ev.RecordIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record ids")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["put_evidence"],
		ev.ID, ev.Path, ev.StartedAt, ev.EndedAt, ev.Duration.Milliseconds(),
		ev.SizeBytes, ev.Width, ev.Height, ev.Archived, idsJSON,
	)
	return eris.Wrapf(err, "postgres: put evidence %s", ev.ID)
}

func (s *PostgresStore) GetEvidence(ctx context.Context, evidenceID string) (*model.VideoEvidence, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_evidence"], evidenceID)
	ev, err := scanPgEvidence(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get evidence %s", evidenceID)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, limit int) ([]model.VideoEvidence, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, path, started_at, ended_at, duration_ms, size_bytes, width, height, archived, record_ids
		 FROM video_evidence ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var evs []model.VideoEvidence
	for rows.Next() {
		ev, err := scanPgEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		evs = append(evs, *ev)
	}
	return evs, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

func (s *PostgresStore) MarkEvidenceArchived(ctx context.Context, evidenceID string) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["mark_archived"], evidenceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark evidence archived %s", evidenceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("evidence not found: %s", evidenceID)
	}
	return nil
}

// BulkInsertRecords imports records in one COPY, used by the records
// import command. Conflicting ids are not resolved; callers import
// into a clean table.
func (s *PostgresStore) BulkInsertRecords(ctx context.Context, records []model.DetectionRecord) (int64, error) {
	columns := []string{
		"id", "track_id", "plate", "confidence", "detector_confidence", "text_confidence",
		"region", "frame_index", "timestamp", "status", "image_path", "video_evidence_id",
		"created_at", "updated_at",
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		regionJSON, err := json.Marshal(r.Region)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal region")
		}
		rows = append(rows, []any{
			r.ID, r.TrackID, r.Plate, r.Confidence, r.DetectorConfidence, r.TextConfidence,
			regionJSON, r.FrameIndex, r.Timestamp, string(r.Status), r.ImagePath,
			r.VideoEvidenceID, r.CreatedAt, r.UpdatedAt,
		})
	}

	return db.CopyFrom(ctx, s.pool, "detection_records", columns, rows)
}

func scanPgRecord(row pgx.Row) (*model.DetectionRecord, error) {
	var r model.DetectionRecord
	var regionJSON []byte
	var imagePath, evidenceID *string

	err := row.Scan(&r.ID, &r.TrackID, &r.Plate, &r.Confidence, &r.DetectorConfidence,
		&r.TextConfidence, &regionJSON, &r.FrameIndex, &r.Timestamp, &r.Status,
		&imagePath, &evidenceID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(regionJSON, &r.Region); err != nil {
		return nil, eris.Wrap(err, "unmarshal region")
	}
	if imagePath != nil {
		r.ImagePath = *imagePath
	}
	if evidenceID != nil {
		r.VideoEvidenceID = *evidenceID
	}
	return &r, nil
}

func scanPgEvidence(row pgx.Row) (*model.VideoEvidence, error) {
	var ev model.VideoEvidence
	var durationMs int64
	var idsJSON []byte

	err := row.Scan(&ev.ID, &ev.Path, &ev.StartedAt, &ev.EndedAt, &durationMs,
		&ev.SizeBytes, &ev.Width, &ev.Height, &ev.Archived, &idsJSON)
	if err != nil {
		return nil, err
	}

	ev.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal(idsJSON, &ev.RecordIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal record ids")
	}
	return &ev, nil
}
