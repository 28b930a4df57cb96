// Package service implements the subdomain routing pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"agent-router/internal/config"
	"agent-router/internal/forward"
	"agent-router/internal/metrics"
	"agent-router/internal/model"
	"agent-router/internal/page"
	"agent-router/internal/registry"
	"agent-router/internal/route"
)

// LookupError reports which registry stage failed.
type LookupError struct {
	Stage     string
	Subdomain string
	Err       error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolve %s for %q: %v", e.Stage, e.Subdomain, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Settings are the parts of the configuration that can change on reload.
// A Settings value is never modified; a request takes one snapshot and
// uses it throughout.
type Settings struct {
	classifier       *route.Classifier
	credentialHeader string
	methodPolicy     string
	fallback         bool
}

func newSettings(cfg *config.Config) *Settings {
	return &Settings{
		classifier:       route.NewClassifier(cfg.Domain.Root, cfg.Domain.LocalSuffix),
		credentialHeader: cfg.Forward.CredentialHeader,
		methodPolicy:     cfg.Forward.MethodPolicy,
		fallback:         !cfg.Forward.DisableFallback,
	}
}

// Classify returns the routing subdomain for host, if any.
func (st *Settings) Classify(host string) (string, bool) {
	return st.classifier.Classify(host)
}

// Allowed reports whether a method may be forwarded under the method policy.
func (st *Settings) Allowed(method string) bool {
	if st.methodPolicy == config.MethodPolicyPost {
		return method == http.MethodGet || method == http.MethodPost
	}
	return true
}

// RootDomain returns the root domain.
func (st *Settings) RootDomain() string { return st.classifier.Root() }

// CredentialHeader returns the name of the header injected into forwards.
func (st *Settings) CredentialHeader() string { return st.credentialHeader }

// MethodPolicy returns the method policy.
func (st *Settings) MethodPolicy() string { return st.methodPolicy }

// RouterService resolves subdomains to backends and forwards requests to them.
type RouterService struct {
	directory registry.Directory
	primary   forward.Strategy
	fallback  forward.Strategy
	settings  atomic.Pointer[Settings]
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewRouterService creates a RouterService. The metrics parameter is optional.
func NewRouterService(
	dir registry.Directory,
	primary, fallback forward.Strategy,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *RouterService {
	s := &RouterService{
		directory: dir,
		primary:   primary,
		fallback:  fallback,
		logger:    logger.With("component", "router_service"),
		metrics:   m,
	}
	s.settings.Store(newSettings(cfg))
	return s
}

// Apply replaces the reloadable settings with those from cfg. Requests
// already holding a snapshot keep it.
func (s *RouterService) Apply(cfg *config.Config) {
	s.settings.Store(newSettings(cfg))
}

// Settings returns the settings currently in effect.
func (s *RouterService) Settings() *Settings {
	return s.settings.Load()
}

// Resolve looks up the routing entry for subdomain and then its backend.
// Errors are *LookupError wrapping a registry sentinel.
func (s *RouterService) Resolve(ctx context.Context, subdomain string) (*model.Route, error) {
	entry, err := s.directory.LookupEntry(ctx, subdomain)
	if err == nil && !entry.Valid() {
		err = registry.ErrEntryNotFound
	}
	if err != nil {
		return nil, &LookupError{Stage: registry.StageEntry, Subdomain: subdomain, Err: err}
	}

	backend, err := s.directory.LookupBackend(ctx, entry.BackendID)
	if err == nil && !backend.Usable() {
		err = registry.ErrBackendNotFound
	}
	if err != nil {
		return nil, &LookupError{Stage: registry.StageBackend, Subdomain: subdomain, Err: err}
	}

	return &model.Route{
		Subdomain: subdomain,
		Entry:     entry,
		Backend:   backend,
	}, nil
}

// BuildForwardRequest rewrites r for the route's backend and injects the
// entry's credential.
func (s *RouterService) BuildForwardRequest(r *http.Request, rt *model.Route, st *Settings) (*model.ForwardRequest, error) {
	fr, err := forward.NewRequest(r, rt.Backend.BaseURL)
	if err != nil {
		return nil, err
	}
	fr.Header.Set(st.credentialHeader, rt.Entry.Credential)
	return fr, nil
}

// Forward sends fr through the primary strategy. When the primary cannot
// reach the backend and the caller is still waiting, the fallback gets one try.
func (s *RouterService) Forward(w http.ResponseWriter, r *http.Request, fr *model.ForwardRequest, st *Settings) error {
	err := s.primary.Forward(w, r, fr)
	if err == nil {
		return nil
	}
	if !errors.Is(err, forward.ErrForwardTransport) || !st.fallback {
		return err
	}
	if r.Context().Err() != nil {
		return err
	}

	s.logger.Warn("primary forward failed, trying fallback",
		"err", err,
		"target", fr.Target,
		"primary", s.primary.Name(),
		"fallback", s.fallback.Name(),
	)
	if s.metrics != nil {
		s.metrics.FallbacksTotal.Inc()
	}

	if ferr := s.fallback.Forward(w, r, fr); ferr != nil {
		return fmt.Errorf("%w (primary: %v)", ferr, err)
	}
	return nil
}

// Instructions returns the data for the instruction page of rt.
func (s *RouterService) Instructions(rt *model.Route, r *http.Request, st *Settings) page.Instructions {
	return page.Instructions{
		TargetURL:   forward.Target(rt.Backend.BaseURL, r.URL),
		HeaderName:  st.credentialHeader,
		HeaderValue: rt.Entry.Credential,
	}
}
