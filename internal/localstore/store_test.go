package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/report-orchestrator/internal/errors"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uploader.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestStore_LoadEmpty(t *testing.T) {
	st, _ := openTemp(t)

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, snap.Version)
	assert.Empty(t, snap.SessionID)
	assert.Empty(t, snap.Items)
}

func TestStore_SaveLoadSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	st, path := openTemp(t)

	saved := &Snapshot{
		SessionID: "S00000001",
		AccessKey: "key",
		SavedAt:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Items: []Entry{
			{Serial: "SN1", ReportID: "R00000002", FileName: "export_1_SN1_20261001_100000.tar"},
			{Serial: "SN2", ReportID: "R00000001", FileName: "export_2_SN2_20261001_100500.tar"},
		},
	}
	require.NoError(t, st.Save(ctx, saved))
	require.NoError(t, st.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	snap, err := again.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S00000001", snap.SessionID)
	assert.True(t, saved.SavedAt.Equal(snap.SavedAt))
	// order of the queue is kept
	assert.Equal(t, saved.Items, snap.Items)
}

func TestStore_SaveReplacesItems(t *testing.T) {
	ctx := context.Background()
	st, _ := openTemp(t)

	require.NoError(t, st.Save(ctx, &Snapshot{Items: []Entry{{Serial: "A", ReportID: "R1"}, {Serial: "B", ReportID: "R2"}}}))
	require.NoError(t, st.Save(ctx, &Snapshot{SessionID: "S2", Items: []Entry{{Serial: "C", ReportID: "R3"}}}))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S2", snap.SessionID)
	assert.Equal(t, []Entry{{Serial: "C", ReportID: "R3"}}, snap.Items)
}

func TestStore_ClearKeepsSession(t *testing.T) {
	ctx := context.Background()
	st, _ := openTemp(t)

	require.NoError(t, st.Save(ctx, &Snapshot{SessionID: "S1", AccessKey: "k", Items: []Entry{{Serial: "A", ReportID: "R1"}}}))
	require.NoError(t, st.Clear(ctx))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S1", snap.SessionID)
	assert.Empty(t, snap.Items)
}

func TestStore_RejectsNewerVersion(t *testing.T) {
	ctx := context.Background()
	st, _ := openTemp(t)
	require.NoError(t, st.Save(ctx, &Snapshot{SessionID: "S1"}))

	_, err := st.db.ExecContext(ctx, "UPDATE snapshot SET version = ?", CurrentVersion+1)
	require.NoError(t, err)

	_, err = st.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
