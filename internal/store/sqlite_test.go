package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewatch/platewatch/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testRecord(id, trackID string) *model.DetectionRecord {
	return &model.DetectionRecord{
		ID:                 id,
		TrackID:            trackID,
		Plate:              "ABC1234",
		Confidence:         0.72,
		DetectorConfidence: 0.9,
		TextConfidence:     0.72,
		Region:             model.Rect{X1: 100, Y1: 200, X2: 220, Y2: 260},
		FrameIndex:         42,
		Timestamp:          time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Status:             model.RecordStatusActive,
	}
}

func TestSQLiteStore_UpsertAndGetRecord(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "track-1")
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC1234", got.Plate)
	assert.Equal(t, "track-1", got.TrackID)
	assert.Equal(t, model.Rect{X1: 100, Y1: 200, X2: 220, Y2: 260}, got.Region)
	assert.Equal(t, model.RecordStatusActive, got.Status)

	// An improved reading updates the same row in place.
	rec.Plate = "ABC1239"
	rec.Confidence = 0.88
	rec.TextConfidence = 0.88
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err = s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC1239", got.Plate)
	assert.Equal(t, 0.88, got.Confidence)
}

func TestSQLiteStore_FinalizedRecordIsImmutable(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "track-1")
	require.NoError(t, s.UpsertRecord(ctx, rec))
	require.NoError(t, s.FinalizeRecord(ctx, "rec-1"))

	// Late upserts against a finalized record must not change it.
	rec.Plate = "ZZZ9999"
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC1234", got.Plate)
	assert.Equal(t, model.RecordStatusFinalized, got.Status)
}

func TestSQLiteStore_FinalizeRecord_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	err := s.FinalizeRecord(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_ListRecords_Filters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := testRecord("rec-a", "track-a")
	b := testRecord("rec-b", "track-b")
	b.Plate = "XYZ9876"
	b.Confidence = 0.91
	require.NoError(t, s.UpsertRecord(ctx, a))
	require.NoError(t, s.UpsertRecord(ctx, b))
	require.NoError(t, s.FinalizeRecord(ctx, "rec-b"))

	byPlate, err := s.ListRecords(ctx, RecordFilter{Plate: "XYZ9876"})
	require.NoError(t, err)
	require.Len(t, byPlate, 1)
	assert.Equal(t, "rec-b", byPlate[0].ID)

	active, err := s.ListRecords(ctx, RecordFilter{Status: model.RecordStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "rec-a", active[0].ID)

	confident, err := s.ListRecords(ctx, RecordFilter{MinConfidence: 0.8})
	require.NoError(t, err)
	require.Len(t, confident, 1)
	assert.Equal(t, "rec-b", confident[0].ID)

	all, err := s.ListRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_EvidenceRoundtripAndArchive(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ev := &model.VideoEvidence{
		ID:        "ev-1",
		Path:      "evidence/2026-08-29/track-1_120000.avi",
		StartedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 8, 29, 12, 0, 20, 0, time.UTC),
		Duration:  20 * time.Second,
		SizeBytes: 1 << 20,
		Width:     1920,
		Height:    1080,
		RecordIDs: []string{"rec-1", "rec-2"},
	}
	require.NoError(t, s.PutEvidence(ctx, ev))

	got, err := s.GetEvidence(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, ev.Path, got.Path)
	assert.Equal(t, 20*time.Second, got.Duration)
	assert.Equal(t, []string{"rec-1", "rec-2"}, got.RecordIDs)
	assert.False(t, got.Archived)

	require.NoError(t, s.MarkEvidenceArchived(ctx, "ev-1"))
	got, err = s.GetEvidence(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, got.Archived)

	list, err := s.ListEvidence(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
