package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/emissions-api/emissions_downloader/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

var _ storage.DownloadRepository = (*DownloadRepository)(nil)

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, identifier, file_path, country, downloaded_at FROM downloads ORDER BY downloaded_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	downloads := []storage.DownloadRecord{}

	for rows.Next() {
		var (
			record       storage.DownloadRecord
			country      sql.NullString
			downloadedAt string
		)

		if err := rows.Scan(&record.ProductID, &record.Identifier, &record.FilePath, &country, &downloadedAt); err != nil {
			return nil, err
		}

		record.Country = country.String

		record.DownloadedAt, err = time.Parse(time.RFC3339, downloadedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid downloaded_at for %s: %w", record.ProductID, err)
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

func (r *DownloadRepository) TrackDownload(ctx context.Context, record storage.DownloadRecord) error {
	downloadedAt := record.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (product_id, identifier, file_path, country, downloaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(product_id) DO NOTHING
	`, record.ProductID, record.Identifier, record.FilePath, record.Country, downloadedAt.UTC().Format(time.RFC3339))

	return err
}

func (r *DownloadRepository) DeleteDownload(ctx context.Context, productID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE product_id = ?`, productID)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
