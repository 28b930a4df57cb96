package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agent-router/internal/config"
	"agent-router/internal/metrics"
	"agent-router/internal/model"
)

// maxRecordBytes caps the size of a registry response body.
const maxRecordBytes = 1 << 20

const userAgent = "agent-router/1.0"

// HTTPDirectory reads agent and device records from the registry's HTTP API.
type HTTPDirectory struct {
	httpClient  *http.Client
	baseURL     *url.URL
	entryPath   string
	backendPath string
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewHTTPDirectory creates an HTTPDirectory with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable lookup metrics.
func NewHTTPDirectory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*HTTPDirectory, error) {
	u, err := url.Parse(cfg.Registry.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry base_url: %w", err)
	}

	timeout := time.Duration(cfg.Registry.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Registry.IdleConnections,
		MaxIdleConnsPerHost: cfg.Registry.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPDirectory{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:     u,
		entryPath:   cfg.Registry.EntryPath,
		backendPath: cfg.Registry.BackendPath,
		timeout:     timeout,
		logger:      logger.With("component", "registry_http"),
		metrics:     m,
	}, nil
}

// LookupEntry fetches the agent record for subdomain.
func (d *HTTPDirectory) LookupEntry(ctx context.Context, subdomain string) (entry *model.RoutingEntry, err error) {
	start := time.Now()
	defer func() { observe(d.metrics, StageEntry, start, err) }()

	body, err := d.get(ctx, d.entryPath, "subname", subdomain)
	if err != nil {
		return nil, err
	}
	return decodeEntry(subdomain, body)
}

// LookupBackend fetches the device record for id.
func (d *HTTPDirectory) LookupBackend(ctx context.Context, id string) (backend *model.BackendEndpoint, err error) {
	start := time.Now()
	defer func() { observe(d.metrics, StageBackend, start, err) }()

	body, err := d.get(ctx, d.backendPath, "address", id)
	if err != nil {
		return nil, err
	}
	return decodeBackend(id, body)
}

// get issues GET base+path?key=value and returns the response body.
func (d *HTTPDirectory) get(ctx context.Context, path, key, value string) ([]byte, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	u := *d.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = url.Values{key: {value}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrLookupTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	d.logger.Debug("registry request", "path", path, key, value)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRecordBytes))
		return nil, fmt.Errorf("%w: %s returned %d %s",
			ErrLookupTransport, path, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrLookupTransport, err)
	}
	return body, nil
}
