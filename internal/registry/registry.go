// Package registry resolves subdomains to routing entries and backend
// endpoints through an external registry.
package registry

import (
	"context"
	"errors"
	"time"

	"agent-router/internal/metrics"
	"agent-router/internal/model"
)

var (
	// ErrLookupTransport is returned when the registry could not be reached,
	// timed out, or answered with a non-2xx status.
	ErrLookupTransport = errors.New("registry lookup failed")

	// ErrMalformedRecord is returned when the registry answered 2xx with a body
	// that is not JSON.
	ErrMalformedRecord = errors.New("malformed registry record")

	// ErrEntryNotFound is returned when no usable routing entry exists for a subdomain.
	ErrEntryNotFound = errors.New("routing entry not found")

	// ErrBackendNotFound is returned when the backend is missing, has no base
	// URL, or is not active. The cases are deliberately indistinguishable.
	ErrBackendNotFound = errors.New("backend not found or inactive")
)

// Lookup stages used in logs and metrics.
const (
	StageEntry   = "entry"
	StageBackend = "backend"
)

// Directory looks up routing entries and backend endpoints.
type Directory interface {
	// LookupEntry returns the routing entry registered for subdomain.
	LookupEntry(ctx context.Context, subdomain string) (*model.RoutingEntry, error)
	// LookupBackend returns the usable backend endpoint registered under id.
	LookupBackend(ctx context.Context, id string) (*model.BackendEndpoint, error)
}

// observe records the outcome of one lookup. m may be nil.
func observe(m *metrics.Metrics, stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RegistryDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	result := metrics.ResultOK
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrBackendNotFound):
		result = metrics.ResultNotFound
	case err != nil:
		result = metrics.ResultError
	}
	m.RegistryLookups.WithLabelValues(stage, result).Inc()
}
