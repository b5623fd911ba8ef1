package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustRecord(t *testing.T, id, year string, v any) Record {
	t.Helper()
	r, err := NewRecord(id, year, v)
	require.NoError(t, err)
	return r
}

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, Classrooms, mustRecord(t, "c1", "1403-1404", map[string]any{"name": "A"})))
	require.NoError(t, s.Put(ctx, Classrooms, mustRecord(t, "c2", "1404-1405", map[string]any{"name": "B"})))

	n, err := s.Count(ctx, Classrooms)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Upsert replaces in place.
	require.NoError(t, s.Put(ctx, Classrooms, mustRecord(t, "c1", "1403-1404", map[string]any{"name": "A2"})))
	got, err := s.Get(ctx, Classrooms, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"name":"A2"}`, string(got.Data))

	all, err := s.GetAll(ctx, Classrooms, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c1", all[0].ID, "upsert keeps insertion order")

	year, err := s.GetAll(ctx, Classrooms, "1404-1405")
	require.NoError(t, err)
	require.Len(t, year, 1)
	assert.Equal(t, "c2", year[0].ID)

	require.NoError(t, s.Delete(ctx, Classrooms, "c1"))
	got, err = s.Get(ctx, Classrooms, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a missing id is fine.
	require.NoError(t, s.Delete(ctx, Classrooms, "nope"))
}

func TestPutManyAndDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	recs := []Record{
		mustRecord(t, "s1", "y", map[string]any{"firstName": "a"}),
		mustRecord(t, "s2", "y", map[string]any{"firstName": "b"}),
		mustRecord(t, "s3", "y", map[string]any{"firstName": "c"}),
	}
	require.NoError(t, s.PutMany(ctx, Students, recs))
	require.NoError(t, s.DeleteMany(ctx, Students, []string{"s1", "s3"}))

	all, err := s.GetAll(ctx, Students, "y")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "s2", all[0].ID)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.Update(ctx, func(w Writer) error {
		if err := w.Put(Sessions, mustRecord(t, "x", "y", map[string]any{})); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Count(ctx, Sessions)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnknownCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAll(context.Background(), Collection("lessons"), "")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var v struct{ FontSize int }
	found, err := s.GetSetting(ctx, KeyAppSettings, &v)
	require.NoError(t, err)
	assert.False(t, found)

	v.FontSize = 18
	require.NoError(t, s.PutSetting(ctx, KeyAppSettings, v))

	var back struct{ FontSize int }
	found, err = s.GetSetting(ctx, KeyAppSettings, &back)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 18, back.FontSize)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range AllCollections {
		require.NoError(t, s.Put(ctx, c, mustRecord(t, "id", "y", map[string]any{})))
	}
	require.NoError(t, s.PutSetting(ctx, KeyWorkingDays, map[string]bool{"saturday": true}))

	require.NoError(t, s.ClearAll(ctx))

	for _, c := range AllCollections {
		n, err := s.Count(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, n, c)
	}
	var wd map[string]bool
	found, err := s.GetSetting(ctx, KeyWorkingDays, &wd)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenUpgradesOlderSchemaWithoutDataLoss(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "moshaver.db")

	// Simulate a database written by an app that only knew schema v1.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, migrate(ctx, db, 1))
	_, err = db.ExecContext(ctx,
		`INSERT INTO classrooms (id, academic_year, data) VALUES ('c1', 'y', '{"name":"old"}')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	got, err := s.Get(ctx, Classrooms, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"name":"old"}`, string(got.Data))

	// Collections added by later migrations are usable.
	require.NoError(t, s.Put(ctx, AttendanceRecords, mustRecord(t, "a", "y", map[string]any{})))

	// Reopening is idempotent.
	require.NoError(t, s.Close())
	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.Count(ctx, Classrooms)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "future.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `PRAGMA user_version = 99`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(ctx, path)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}
