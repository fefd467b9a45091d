package reportdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndListRuns(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	summary := csf.RoundSummary{Rounds: 10, Committed: 7, Rejected: 2, TimedOut: 1, Violations: 1, SuccessRate: 70}
	first, err := db.SaveRun(ctx, NewRun("byzantineTest", 7, 7, summary, base))
	require.NoError(t, err)
	second, err := db.SaveRun(ctx, NewRun("default", 9, 4, csf.RoundSummary{Rounds: 3, Committed: 3, SuccessRate: 100}, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, "byzantineTest", runs[1].Preset)
	assert.Equal(t, int64(7), runs[1].Seed)
	assert.Equal(t, 10, runs[1].Rounds)
	assert.Equal(t, 1, runs[1].Timeouts)
	assert.Equal(t, 2, runs[1].Rejected)
	assert.Equal(t, 1, runs[1].SafetyViolations)
	assert.InDelta(t, 70, runs[1].SuccessRate, 1e-9)
	assert.True(t, runs[1].CreatedAt.Equal(base))

	limited, err := db.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	saved, err := db.SaveRun(ctx, Run{Preset: "smallNetwork", NodeCount: 3, Rounds: 1, Committed: 1, SuccessRate: 100})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := db.GetRun(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "smallNetwork", got.Preset)

	_, err = db.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	db, err := Open(ctx, DriverSQLite, path, nil)
	require.NoError(t, err)
	_, err = db.SaveRun(ctx, Run{Preset: "default"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, DriverSQLite, path, nil)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestClosedAndInvalid(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, "mysql", "dsn", nil)
	assert.ErrorIs(t, err, ErrInvalidDriver)

	db := openSQLite(t)
	require.NoError(t, db.Close())
	_, err = db.SaveRun(ctx, Run{})
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.ListRuns(ctx, 0)
	assert.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM runs WHERE id = $1 LIMIT $2", pg.rebind("SELECT * FROM runs WHERE id = ? LIMIT ?"))
	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "id = ?", lite.rebind("id = ?"))
}
