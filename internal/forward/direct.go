package forward

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"agent-router/internal/config"
	"agent-router/internal/metrics"
	"agent-router/internal/model"
)

// Direct builds a fresh outbound request for every forward. Redirects from
// the backend are relayed to the caller, never followed.
type Direct struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewDirect creates a Direct strategy with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable forward metrics.
func NewDirect(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Direct {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Forward.IdleConnections,
		MaxIdleConnsPerHost: cfg.Forward.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Direct{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: time.Duration(cfg.Forward.TimeoutSeconds) * time.Second,
		logger:  logger.With("component", "forward_direct"),
		metrics: m,
	}
}

// Name implements Strategy.
func (d *Direct) Name() string { return "direct" }

// Forward implements Strategy.
func (d *Direct) Forward(w http.ResponseWriter, r *http.Request, fr *model.ForwardRequest) error {
	ctx := r.Context()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var body io.Reader = http.NoBody
	if br, ok := bodyReader(fr.Body); ok {
		body = br
	}

	req, err := http.NewRequestWithContext(ctx, fr.Method, fr.Target, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrForwardTransport, err)
	}
	req.Header = fr.Header.Clone()
	if _, ok := req.Header["User-Agent"]; !ok {
		// Send no User-Agent rather than Go's default, as Rewrite does.
		req.Header.Set("User-Agent", "")
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	d.observe(start, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForwardTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	copyResponseHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	// The status is already sent, so a mid-stream failure can only be logged
	// and the caller sees a truncated body.
	if _, err := io.Copy(w, resp.Body); err != nil {
		d.logger.Error("streaming response body",
			"err", err,
			"target", fr.Target,
		)
	}
	return nil
}

func (d *Direct) observe(start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	d.metrics.ForwardDuration.WithLabelValues(d.Name()).Observe(time.Since(start).Seconds())
	d.metrics.ForwardTotal.WithLabelValues(d.Name(), result).Inc()
}
