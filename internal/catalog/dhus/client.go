package dhus

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/emissions-api/emissions_downloader/internal/catalog"
	"github.com/emissions-api/emissions_downloader/internal/progress"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://s5phub.copernicus.eu/dhus"
	DefaultUsername = "s5pguest"
	DefaultPassword = "s5pguest"

	defaultPageSize  = 100
	dirPerm          = 0755
	progressInterval = int64(100 * 1024 * 1024) // 100MB
	partSuffix       = ".part"
)

// Options configures a Client. Zero values fall back to the public
// Sentinel-5P hub with guest credentials.
type Options struct {
	BaseURL  string
	Username string
	Password string

	// TokenURL switches authentication from HTTP basic to an OAuth2
	// password grant against this endpoint.
	TokenURL string
	ClientID string

	PageSize    int
	RequestRate float64 // requests per second, <= 0 means unlimited
	MaxParallel int

	HTTPClient *http.Client
}

type Client struct {
	opts    Options
	limiter *rate.Limiter
	base    *http.Client

	mu         sync.Mutex
	authorized *http.Client
}

var _ catalog.Client = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	if opts.Username == "" && opts.Password == "" {
		opts.Username, opts.Password = DefaultUsername, DefaultPassword
	}

	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}

	limit := rate.Inf
	if opts.RequestRate > 0 {
		limit = rate.Limit(opts.RequestRate)
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Client{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		base:    base,
	}
}

// Name identifies the client in metrics.
func (c *Client) Name() string {
	return "dhus"
}

// Search returns every product matching filter, following pagination.
func (c *Client) Search(ctx context.Context, filter catalog.Filter, logFn catalog.LogFunc) (*catalog.SearchResult, error) {
	logFn = orDiscard(logFn)
	query := filter.Query()

	logFn("searching catalog", "query", query)

	result := &catalog.SearchResult{Products: []catalog.Product{}}
	seen := make(map[string]struct{})

	for offset := 0; ; {
		page, err := c.searchPage(ctx, query, offset)
		if err != nil {
			return nil, err
		}

		result.TotalCount = int(page.Feed.TotalResults)

		for _, e := range page.Feed.Entries {
			if e == nil {
				continue
			}

			p := e.product()
			if err := checkProduct("search", p); err != nil {
				return nil, err
			}

			// Results can shift between pages while the catalog ingests.
			if _, dup := seen[p.UUID]; dup {
				logFn("skipping duplicate product", "uuid", p.UUID, "identifier", p.Identifier)

				continue
			}

			seen[p.UUID] = struct{}{}
			result.Products = append(result.Products, p)
		}

		received := len(page.Feed.Entries)
		offset += received

		logFn("received search page", "received", received, "offset", offset, "total", result.TotalCount)

		if received == 0 || offset >= result.TotalCount {
			break
		}
	}

	return result, nil
}

func (c *Client) searchPage(ctx context.Context, query string, offset int) (*searchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("start", strconv.Itoa(offset))
	params.Set("rows", strconv.Itoa(c.opts.PageSize))
	params.Set("format", "json")
	params.Set("orderby", "ingestiondate desc")

	var resp searchResponse
	if err := c.getJSON(ctx, "search", "/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Download fetches products into outputDir, at most MaxParallel at a time.
// The first failure cancels the remaining downloads.
func (c *Client) Download(ctx context.Context, products []catalog.Product, outputDir string, logFn catalog.LogFunc) error {
	logFn = orDiscard(logFn)

	if err := os.MkdirAll(outputDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxParallel)

	for _, p := range products {
		p := p
		g.Go(func() error {
			if err := c.downloadProduct(ctx, p, outputDir, logFn); err != nil {
				return fmt.Errorf("product %s: %w", p.Identifier, err)
			}

			return nil
		})
	}

	return g.Wait()
}

func (c *Client) downloadProduct(ctx context.Context, p catalog.Product, outputDir string, logFn catalog.LogFunc) error {
	if err := checkProduct("download", p); err != nil {
		return err
	}

	target := filepath.Join(outputDir, p.LocalName())

	var meta productResponse
	if err := c.getJSON(ctx, "checksum", fmt.Sprintf("/odata/v1/Products('%s')?$format=json", p.UUID), &meta); err != nil {
		return err
	}

	expected := strings.ToLower(meta.D.Checksum.Value)

	done, err := hasChecksum(target, expected)
	if err != nil {
		return err
	}

	if done {
		logFn("skipping already downloaded product", "identifier", p.Identifier, "path", target)

		return nil
	}

	size := int64(meta.D.ContentLength)

	logFn("downloading product", "identifier", p.Identifier, "size", humanize.Bytes(uint64(size)))

	resp, err := c.do(ctx, "download", fmt.Sprintf("/odata/v1/Products('%s')/$value", p.UUID))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	part := target + partSuffix

	actual, err := writeFile(part, progress.NewReader(resp.Body, size, progressInterval, func(read, total int64) {
		logFn("download progress",
			"identifier", p.Identifier,
			"downloaded", humanize.Bytes(uint64(read)),
			"total", humanize.Bytes(uint64(total)))
	}))
	if err != nil {
		_ = os.Remove(part)

		return err
	}

	if expected != "" && actual != expected {
		_ = os.Remove(part)

		return &catalog.ChecksumError{Product: p.Identifier, Expected: expected, Actual: actual}
	}

	if err := os.Rename(part, target); err != nil {
		return fmt.Errorf("failed to move product into place: %w", err)
	}

	logFn("downloaded product", "identifier", p.Identifier, "path", target)

	return nil
}

// checkProduct rejects products that cannot be addressed or stored safely.
func checkProduct(operation string, p catalog.Product) error {
	switch {
	case p.UUID == "":
		return &catalog.NetworkError{Operation: operation, APIMessage: fmt.Sprintf("malformed product %q: missing uuid", p.Identifier)}
	case !catalog.SafeIdentifier(p.Identifier):
		return &catalog.NetworkError{Operation: operation, APIMessage: fmt.Sprintf("malformed product %s: unsafe identifier %q", p.UUID, p.Identifier)}
	}

	return nil
}

// writeFile streams r into path and returns the hex MD5 of what was written.
func writeFile(path string, r io.Reader) (string, error) {
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create target file: %w", err)
	}

	hash := md5.New()

	if _, err := io.Copy(io.MultiWriter(out, hash), r); err != nil {
		out.Close()

		return "", &catalog.NetworkError{Operation: "download", APIMessage: err.Error(), Err: err}
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close target file: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// hasChecksum reports whether path exists with the given MD5. An empty
// checksum accepts any existing file.
func hasChecksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to open existing file: %w", err)
	}
	defer f.Close()

	if expected == "" {
		return true, nil
	}

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return false, fmt.Errorf("failed to hash existing file: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)) == expected, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, v any) error {
	resp, err := c.do(ctx, operation, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &catalog.NetworkError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: "malformed response: " + err.Error(),
			Err:        err,
		}
	}

	return nil
}

// do performs a rate-limited, authenticated GET. Non-2xx responses are
// turned into typed errors and their bodies closed.
func (c *Client) do(ctx context.Context, operation, path string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpClient, err := c.httpClient(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.opts.TokenURL == "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &catalog.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()

		return nil, &catalog.AuthenticationError{Operation: operation, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		return nil, &catalog.NetworkError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: strings.TrimSpace(string(b)),
		}
	}

	return resp, nil
}

// httpClient returns the client to send requests with. With a token URL the
// password grant runs once, on first use.
func (c *Client) httpClient(ctx context.Context) (*http.Client, error) {
	if c.opts.TokenURL == "" {
		return c.base, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authorized != nil {
		return c.authorized, nil
	}

	conf := &oauth2.Config{
		ClientID: c.opts.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: c.opts.TokenURL},
	}

	tok, err := conf.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.base), c.opts.Username, c.opts.Password)
	if err != nil {
		return nil, &catalog.AuthenticationError{Operation: "token", Err: err}
	}

	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	c.authorized = oauth2.NewClient(refreshCtx, conf.TokenSource(refreshCtx, tok))

	return c.authorized, nil
}

func orDiscard(logFn catalog.LogFunc) catalog.LogFunc {
	if logFn == nil {
		return func(string, ...any) {}
	}

	return logFn
}
