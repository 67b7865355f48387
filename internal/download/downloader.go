// Package download runs one search-and-download cycle for the configured
// country against a product catalog.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emissions-api/emissions_downloader/internal/catalog"
	"github.com/emissions-api/emissions_downloader/internal/geo"
	"github.com/emissions-api/emissions_downloader/internal/logctx"
	"github.com/emissions-api/emissions_downloader/internal/storage"
	"github.com/emissions-api/emissions_downloader/internal/telemetry"
	"github.com/google/uuid"
)

// The cycle always covers the same country, product and day.
const (
	Country         = "DE"
	Product         = "L2__CO____"
	ProcessingLevel = "L2"

	DefaultStorage = "data"

	dirPerm = 0755
)

var (
	Begin = time.Date(2019, time.September, 10, 0, 0, 0, 0, time.UTC)
	End   = time.Date(2019, time.September, 11, 0, 0, 0, 0, time.UTC)
)

type Config struct {
	// Storage is the directory products are downloaded into.
	Storage string
}

// Uploader copies a downloaded file somewhere else.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

type Option func(*Downloader)

// WithLedger records every downloaded product.
func WithLedger(repo storage.DownloadWriteRepository) Option {
	return func(d *Downloader) {
		d.ledger = repo
	}
}

// WithMirror uploads every downloaded product.
func WithMirror(u Uploader) Option {
	return func(d *Downloader) {
		d.mirror = u
	}
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) {
		d.telemetry = tel
	}
}

type Downloader struct {
	storage   string
	countries geo.Table
	client    catalog.Client

	ledger    storage.DownloadWriteRepository
	mirror    Uploader
	telemetry *telemetry.Telemetry
}

// Result describes a completed cycle.
type Result struct {
	RunID    uuid.UUID
	Country  geo.Country
	Products []catalog.Product
	Storage  string
}

func NewDownloader(cfg Config, countries geo.Table, client catalog.Client, opts ...Option) *Downloader {
	if cfg.Storage == "" {
		cfg.Storage = DefaultStorage
	}

	d := &Downloader{
		storage:   cfg.Storage,
		countries: countries,
		client:    client,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download searches the catalog for the fixed product over the country's
// bounding box and downloads every match into the storage directory.
func (d *Downloader) Download(ctx context.Context) (*Result, error) {
	runID := uuid.New()

	logger := logctx.LoggerFromContext(ctx).With("run_id", runID.String())
	ctx = logctx.WithLogger(ctx, logger)

	var result *Result

	err := d.telemetry.InstrumentCycle(ctx, func(ctx context.Context) error {
		var err error

		result, err = d.run(ctx, runID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (d *Downloader) run(ctx context.Context, runID uuid.UUID) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	country, err := d.countries.Lookup(Country)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve country: %w", err)
	}

	box := country.Box
	polygon := geo.PolygonWKT(box.Lon1, box.Lat1, box.Lon2, box.Lat2)

	if err := os.MkdirAll(d.storage, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	filter := catalog.Filter{
		Polygon:         polygon,
		Begin:           Begin,
		End:             End,
		Product:         Product,
		ProcessingLevel: ProcessingLevel,
	}

	result, err := d.client.Search(ctx, filter, logger.Info)
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}

	logger.Info("found products", "count", len(result.Products), "country", country.Code)

	if err := d.client.Download(ctx, result.Products, d.storage, logger.Info); err != nil {
		return nil, fmt.Errorf("failed to download products: %w", err)
	}

	if err := checkIdentifiers(result.Products); err != nil {
		return nil, err
	}

	if err := d.track(ctx, country, result.Products); err != nil {
		return nil, err
	}

	if err := d.upload(ctx, result.Products); err != nil {
		return nil, err
	}

	return &Result{
		RunID:    runID,
		Country:  country,
		Products: result.Products,
		Storage:  d.storage,
	}, nil
}

// checkIdentifiers guards the ledger and mirror, which derive paths from
// product identifiers.
func checkIdentifiers(products []catalog.Product) error {
	for _, p := range products {
		if !catalog.SafeIdentifier(p.Identifier) {
			return fmt.Errorf("product %s has unsafe identifier %q", p.UUID, p.Identifier)
		}
	}

	return nil
}

func (d *Downloader) track(ctx context.Context, country geo.Country, products []catalog.Product) error {
	if d.ledger == nil {
		return nil
	}

	now := time.Now()

	for _, p := range products {
		err := d.ledger.TrackDownload(ctx, storage.DownloadRecord{
			ProductID:    p.UUID,
			Identifier:   p.Identifier,
			FilePath:     p.LocalName(),
			Country:      country.Code,
			DownloadedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to track download of %s: %w", p.Identifier, err)
		}
	}

	return nil
}

func (d *Downloader) upload(ctx context.Context, products []catalog.Product) error {
	if d.mirror == nil {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx)

	for _, p := range products {
		key, err := d.mirror.Upload(ctx, filepath.Join(d.storage, p.LocalName()))
		if err != nil {
			return fmt.Errorf("failed to mirror product: %w", err)
		}

		logger.Debug("mirrored product", "identifier", p.Identifier, "key", key)
	}

	return nil
}
