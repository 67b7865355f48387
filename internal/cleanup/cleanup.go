package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emissions-api/emissions_downloader/internal/logctx"
	"github.com/emissions-api/emissions_downloader/internal/storage"
)

// DeleteExpiredFiles deletes product files tracked longer than keepDuration
// and forgets their records. It returns the number of records removed.
func DeleteExpiredFiles(ctx context.Context, repo storage.DownloadRepository, dir string, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	records, err := repo.GetDownloads(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list downloads: %w", err)
	}

	removed := 0

	for _, rec := range records {
		if now.Sub(rec.DownloadedAt) <= keepDuration {
			continue
		}

		filePath := filepath.Join(dir, rec.FilePath)

		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete expired file", "file", filePath, "err", err)

			return removed, err
		}

		if err := repo.DeleteDownload(ctx, rec.ProductID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return removed, fmt.Errorf("failed to delete download record: %w", err)
		}

		removed++

		logger.Info("deleted expired file", "file", filePath, "downloaded_at", rec.DownloadedAt)
	}

	return removed, nil
}
