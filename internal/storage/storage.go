package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("download record not found")

// DownloadRecord represents a product that was downloaded into the storage
// directory. FilePath is relative to that directory.
type DownloadRecord struct {
	ProductID    string    `json:"product_id"`
	Identifier   string    `json:"identifier"`
	FilePath     string    `json:"file_path"`
	Country      string    `json:"country"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	// TrackDownload records a product. Tracking a product twice keeps the
	// first record.
	TrackDownload(ctx context.Context, record DownloadRecord) error
	DeleteDownload(ctx context.Context, productID string) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
