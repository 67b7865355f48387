package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emissions-api/emissions_downloader/internal/cleanup"
	"github.com/emissions-api/emissions_downloader/internal/storage"
	"github.com/emissions-api/emissions_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteExpiredFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewDownloadRepository(db)

	now := time.Now()
	records := []storage.DownloadRecord{
		{ProductID: "old", Identifier: "S5P_OLD", FilePath: "S5P_OLD.nc", DownloadedAt: now.Add(-72 * time.Hour)},
		{ProductID: "gone", Identifier: "S5P_GONE", FilePath: "S5P_GONE.nc", DownloadedAt: now.Add(-72 * time.Hour)},
		{ProductID: "fresh", Identifier: "S5P_FRESH", FilePath: "S5P_FRESH.nc", DownloadedAt: now.Add(-time.Hour)},
	}

	for _, rec := range records {
		require.NoError(t, repo.TrackDownload(ctx, rec))
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "S5P_OLD.nc"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "S5P_FRESH.nc"), []byte("fresh"), 0o644))

	removed, err := cleanup.DeleteExpiredFiles(ctx, repo, dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = os.Stat(filepath.Join(dir, "S5P_OLD.nc"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dir, "S5P_FRESH.nc"))
	assert.NoError(t, err)

	left, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].ProductID)
}

func TestDeleteExpiredFiles_NothingTracked(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	defer db.Close()

	removed, err := cleanup.DeleteExpiredFiles(context.Background(), sqlite.NewDownloadRepository(db), t.TempDir(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
