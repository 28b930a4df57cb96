package forward

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"agent-router/internal/config"
	"agent-router/internal/metrics"
	"agent-router/internal/model"
)

type errorKey struct{}

// forwardedHeaders are client-supplied proxy headers that ReverseProxy strips
// in Rewrite mode.
var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

// Rewrite hands the request to httputil.ReverseProxy, pointing it at the
// forward target. It has its own transport so that it does not share the
// failure modes of Direct's connection pool.
type Rewrite struct {
	proxy   *httputil.ReverseProxy
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRewrite creates a Rewrite strategy. The metrics parameter is optional.
func NewRewrite(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Rewrite {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Forward.IdleConnections

	rw := &Rewrite{
		timeout: time.Duration(cfg.Forward.TimeoutSeconds) * time.Second,
		logger:  logger.With("component", "forward_rewrite"),
		metrics: m,
	}
	rw.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = targetFrom(pr.In.Context())
			pr.Out.Host = ""
			// ReverseProxy drops these before Rewrite runs; Direct sends them.
			for _, h := range forwardedHeaders {
				if v, ok := pr.In.Header[h]; ok {
					pr.Out.Header[h] = append([]string(nil), v...)
				}
			}
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler: func(_ http.ResponseWriter, r *http.Request, err error) {
			// Leave the response unwritten; Forward reports the failure.
			if p, ok := r.Context().Value(errorKey{}).(*error); ok {
				*p = err
			}
		},
		ErrorLog: slog.NewLogLogger(rw.logger.Handler(), slog.LevelWarn),
	}
	return rw
}

// Name implements Strategy.
func (rw *Rewrite) Name() string { return "rewrite" }

// Forward implements Strategy.
func (rw *Rewrite) Forward(w http.ResponseWriter, r *http.Request, fr *model.ForwardRequest) error {
	target, err := url.Parse(fr.Target)
	if err != nil {
		return fmt.Errorf("%w: parse target: %w", ErrFallback, err)
	}

	var proxyErr error
	ctx := context.WithValue(r.Context(), errorKey{}, &proxyErr)
	ctx = context.WithValue(ctx, targetKey{}, target)
	if rw.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rw.timeout)
		defer cancel()
	}

	in := r.Clone(ctx)
	in.Method = fr.Method
	in.Header = fr.Header.Clone()
	in.Body = http.NoBody
	in.ContentLength = 0
	if br, ok := bodyReader(fr.Body); ok {
		in.Body = io.NopCloser(br)
		in.ContentLength = int64(len(fr.Body))
	}

	start := time.Now()
	rw.proxy.ServeHTTP(w, in)
	rw.observe(start, proxyErr)

	if proxyErr != nil {
		return fmt.Errorf("%w: %w", ErrFallback, proxyErr)
	}
	return nil
}

type targetKey struct{}

func targetFrom(ctx context.Context) *url.URL {
	u, _ := ctx.Value(targetKey{}).(*url.URL)
	if u == nil {
		return &url.URL{}
	}
	c := *u
	return &c
}

func (rw *Rewrite) observe(start time.Time, err error) {
	if rw.metrics == nil {
		return
	}
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	rw.metrics.ForwardDuration.WithLabelValues(rw.Name()).Observe(time.Since(start).Seconds())
	rw.metrics.ForwardTotal.WithLabelValues(rw.Name(), result).Inc()
}
