package catalog

import (
	"context"

	"github.com/emissions-api/emissions_downloader/internal/telemetry"
)

// InstrumentedClient wraps a Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

var _ Client = (*InstrumentedClient)(nil)

// NewInstrumentedClient creates a new instrumented catalog client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Search searches the catalog with telemetry and counts the products found.
func (c *InstrumentedClient) Search(ctx context.Context, filter Filter, logFn LogFunc) (*SearchResult, error) {
	var result *SearchResult

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "search", func(ctx context.Context) error {
		result, err = c.client.Search(ctx, filter, logFn)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	c.telemetry.RecordProductsFound(filter.Product, len(result.Products))

	return result, nil
}

// Download downloads products with telemetry.
func (c *InstrumentedClient) Download(ctx context.Context, products []Product, outputDir string, logFn LogFunc) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "download", func(ctx context.Context) error {
		return c.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
			return c.client.Download(ctx, products, outputDir, logFn)
		})
	})
}
