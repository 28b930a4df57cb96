// Package model defines the request-scoped types shared by the router packages.
package model

import (
	"net/http"
)

// StateActive is the only backend state that may receive forwarded traffic.
const StateActive = "Active"

// RoutingEntry maps a subdomain to a backend and the credential injected
// into requests forwarded to it.
type RoutingEntry struct {
	ID         string
	Subdomain  string
	BackendID  string
	Credential string
}

// Valid reports whether the entry can be used to route traffic.
func (e *RoutingEntry) Valid() bool {
	return e != nil && e.BackendID != "" && e.Credential != ""
}

// BackendEndpoint is a registered backend an entry points at.
type BackendEndpoint struct {
	ID      string
	BaseURL string
	State   string
}

// Usable reports whether the endpoint may receive forwarded traffic.
func (b *BackendEndpoint) Usable() bool {
	return b != nil && b.BaseURL != "" && b.State == StateActive
}

// Route is a fully resolved subdomain.
type Route struct {
	Subdomain string
	Entry     *RoutingEntry
	Backend   *BackendEndpoint
}

// ForwardRequest is an inbound request rewritten for a backend.
type ForwardRequest struct {
	Method string
	Target string
	Header http.Header
	// Body is buffered so a failed forward can be replayed by the fallback.
	Body []byte
}
