package download

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emissions-api/emissions_downloader/internal/catalog"
	"github.com/emissions-api/emissions_downloader/internal/geo"
	"github.com/emissions-api/emissions_downloader/internal/logctx"
	"github.com/emissions-api/emissions_downloader/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var germany = geo.Country{
	Code: "DE",
	Name: "Germany",
	Box:  geo.BoundingBox{Lon1: 5.98865807458, Lat1: 47.3024876979, Lon2: 15.0169958839, Lat2: 54.983104153},
}

type fakeClient struct {
	products    []catalog.Product
	searchErr   error
	downloadErr error

	calls          []string
	filter         catalog.Filter
	downloaded     []catalog.Product
	downloadCalled bool
	outputDir      string
}

func (f *fakeClient) Search(_ context.Context, filter catalog.Filter, logFn catalog.LogFunc) (*catalog.SearchResult, error) {
	f.calls = append(f.calls, "search")
	f.filter = filter

	logFn("searching catalog", "query", filter.Query())

	if f.searchErr != nil {
		return nil, f.searchErr
	}

	return &catalog.SearchResult{Products: f.products, TotalCount: len(f.products)}, nil
}

func (f *fakeClient) Download(_ context.Context, products []catalog.Product, outputDir string, _ catalog.LogFunc) error {
	f.calls = append(f.calls, "download")
	f.downloadCalled = true
	f.downloaded = products
	f.outputDir = outputDir

	return f.downloadErr
}

type fakeLedger struct {
	records []storage.DownloadRecord
	err     error
}

func (f *fakeLedger) TrackDownload(_ context.Context, rec storage.DownloadRecord) error {
	f.records = append(f.records, rec)

	return f.err
}

func (f *fakeLedger) DeleteDownload(context.Context, string) error {
	return nil
}

type fakeMirror struct {
	paths []string
	err   error
}

func (f *fakeMirror) Upload(_ context.Context, localPath string) (string, error) {
	f.paths = append(f.paths, localPath)

	return filepath.Base(localPath), f.err
}

func testContext(buf *bytes.Buffer) context.Context {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return logctx.WithLogger(context.Background(), logger)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any

	scanner := bufio.NewScanner(strings.NewReader(buf.String()))
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))

		lines = append(lines, line)
	}

	return lines
}

func findLog(lines []map[string]any, msg string) map[string]any {
	for _, l := range lines {
		if l["msg"] == msg {
			return l
		}
	}

	return nil
}

func TestDownload_CreatesStorageWithZeroProducts(t *testing.T) {
	var buf bytes.Buffer

	dir := filepath.Join(t.TempDir(), "data")
	client := &fakeClient{}

	d := NewDownloader(Config{Storage: dir}, geo.Table{"DE": germany}, client)

	result, err := d.Download(testContext(&buf))
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.True(t, client.downloadCalled, "download runs even without products")
	assert.Empty(t, client.downloaded)
	assert.Equal(t, dir, client.outputDir)
	assert.Equal(t, []string{"search", "download"}, client.calls)

	found := findLog(logLines(t, &buf), "found products")
	require.NotNil(t, found)
	assert.EqualValues(t, 0, found["count"])

	assert.Equal(t, dir, result.Storage)
	assert.Equal(t, "DE", result.Country.Code)
	assert.NotEqual(t, uuid.Nil, result.RunID)
}

func TestDownload_BuildsFilter(t *testing.T) {
	client := &fakeClient{}

	_, err := NewDownloader(Config{Storage: t.TempDir()}, geo.Table{"DE": germany}, client).Download(context.Background())
	require.NoError(t, err)

	assert.Equal(t, catalog.Filter{
		Polygon:         "POLYGON((5.98865807458 47.3024876979,5.98865807458 54.983104153,15.0169958839 54.983104153,15.0169958839 47.3024876979,5.98865807458 47.3024876979))",
		Begin:           Begin,
		End:             End,
		Product:         "L2__CO____",
		ProcessingLevel: "L2",
	}, client.filter)
	assert.Equal(t, "2019-09-10T00:00:00.000Z", client.filter.Begin.Format(catalog.TimestampLayout))
	assert.Equal(t, "2019-09-11T00:00:00.000Z", client.filter.End.Format(catalog.TimestampLayout))
}

func TestDownload_ForwardsClientLogsWithRunID(t *testing.T) {
	var buf bytes.Buffer

	client := &fakeClient{}

	result, err := NewDownloader(Config{Storage: t.TempDir()}, geo.Table{"DE": germany}, client).Download(testContext(&buf))
	require.NoError(t, err)

	searching := findLog(logLines(t, &buf), "searching catalog")
	require.NotNil(t, searching)
	assert.Equal(t, "INFO", searching["level"])
	assert.Equal(t, result.RunID.String(), searching["run_id"])
}

func TestDownload_UnknownCountry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	client := &fakeClient{}

	_, err := NewDownloader(Config{Storage: dir}, geo.Table{}, client).Download(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, geo.ErrUnknownCountry)
	assert.Empty(t, client.calls, "no catalog call may happen")

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_StorageIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	client := &fakeClient{}

	_, err := NewDownloader(Config{Storage: file}, geo.Table{"DE": germany}, client).Download(context.Background())
	require.Error(t, err)

	var pathErr *os.PathError
	assert.ErrorAs(t, err, &pathErr)
	assert.Empty(t, client.calls)
}

func TestDownload_PropagatesCatalogErrors(t *testing.T) {
	searchErr := &catalog.NetworkError{Operation: "search", StatusCode: 503}
	downloadErr := &catalog.AuthenticationError{Operation: "download", Err: errors.New("HTTP 401")}

	tests := []struct {
		name      string
		client    *fakeClient
		wantErr   error
		wantCalls []string
	}{
		{
			name:      "search",
			client:    &fakeClient{searchErr: searchErr},
			wantErr:   searchErr,
			wantCalls: []string{"search"},
		},
		{
			name:      "download",
			client:    &fakeClient{products: []catalog.Product{{UUID: "a", Identifier: "A"}}, downloadErr: downloadErr},
			wantErr:   downloadErr,
			wantCalls: []string{"search", "download"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}

			d := NewDownloader(Config{Storage: t.TempDir()}, geo.Table{"DE": germany}, tt.client, WithLedger(ledger))

			_, err := d.Download(context.Background())
			require.Error(t, err)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, tt.client.calls)
			assert.Empty(t, ledger.records)
		})
	}
}

func TestDownload_LedgerAndMirror(t *testing.T) {
	dir := t.TempDir()
	products := []catalog.Product{
		{UUID: "uuid-a", Identifier: "S5P_A"},
		{UUID: "uuid-b", Identifier: "S5P_B"},
	}

	ledger := &fakeLedger{}
	mirror := &fakeMirror{}

	d := NewDownloader(Config{Storage: dir}, geo.Table{"DE": germany}, &fakeClient{products: products},
		WithLedger(ledger), WithMirror(mirror), WithTelemetry(nil))

	result, err := d.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, products, result.Products)

	require.Len(t, ledger.records, 2)
	assert.Equal(t, "uuid-a", ledger.records[0].ProductID)
	assert.Equal(t, "S5P_A.nc", ledger.records[0].FilePath)
	assert.Equal(t, "DE", ledger.records[0].Country)
	assert.False(t, ledger.records[0].DownloadedAt.IsZero())

	assert.Equal(t, []string{filepath.Join(dir, "S5P_A.nc"), filepath.Join(dir, "S5P_B.nc")}, mirror.paths)
}

func TestDownload_HookErrors(t *testing.T) {
	products := []catalog.Product{{UUID: "uuid-a", Identifier: "S5P_A"}}
	boom := errors.New("boom")

	t.Run("ledger", func(t *testing.T) {
		mirror := &fakeMirror{}

		d := NewDownloader(Config{Storage: t.TempDir()}, geo.Table{"DE": germany}, &fakeClient{products: products},
			WithLedger(&fakeLedger{err: boom}), WithMirror(mirror))

		_, err := d.Download(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, mirror.paths)
	})

	t.Run("mirror", func(t *testing.T) {
		d := NewDownloader(Config{Storage: t.TempDir()}, geo.Table{"DE": germany}, &fakeClient{products: products},
			WithMirror(&fakeMirror{err: boom}))

		_, err := d.Download(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestNewDownloader_DefaultStorage(t *testing.T) {
	d := NewDownloader(Config{}, geo.Table{}, &fakeClient{})

	assert.Equal(t, "data", d.storage)
}

func TestDownload_UnsafeIdentifierSkipsHooks(t *testing.T) {
	ledger := &fakeLedger{}
	mirror := &fakeMirror{}

	d := NewDownloader(Config{Storage: t.TempDir()}, geo.Table{"DE": germany},
		&fakeClient{products: []catalog.Product{{UUID: "uuid-a", Identifier: "../escaped"}}},
		WithLedger(ledger), WithMirror(mirror))

	_, err := d.Download(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsafe identifier")

	assert.Empty(t, ledger.records)
	assert.Empty(t, mirror.paths)
}
