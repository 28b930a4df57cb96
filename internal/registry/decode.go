package registry

import (
	"fmt"

	"github.com/tidwall/gjson"

	"agent-router/internal/model"
)

// Registry record field names.
const (
	fieldEntryID        = "id"
	fieldEntrySubdomain = "subname"
	fieldEntryBackend   = "deviceAddress"
	fieldEntryCred      = "agentAddress"

	fieldBackendID      = "address"
	fieldBackendBaseURL = "ngrokUrl"
	fieldBackendState   = "status"
)

// decodeEntry parses an agent record. A nil body means the record is absent.
func decodeEntry(subdomain string, body []byte) (*model.RoutingEntry, error) {
	doc, err := parseRecord(body)
	if err != nil {
		return nil, err
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("subdomain %q: %w", subdomain, ErrEntryNotFound)
	}

	entry := &model.RoutingEntry{
		ID:         doc.Get(fieldEntryID).String(),
		Subdomain:  doc.Get(fieldEntrySubdomain).String(),
		BackendID:  doc.Get(fieldEntryBackend).String(),
		Credential: doc.Get(fieldEntryCred).String(),
	}
	if entry.Subdomain == "" {
		entry.Subdomain = subdomain
	}
	if !entry.Valid() {
		return nil, fmt.Errorf("subdomain %q: record lacks %s or %s: %w",
			subdomain, fieldEntryBackend, fieldEntryCred, ErrEntryNotFound)
	}
	return entry, nil
}

// decodeBackend parses a device record. A nil body means the record is absent.
func decodeBackend(id string, body []byte) (*model.BackendEndpoint, error) {
	doc, err := parseRecord(body)
	if err != nil {
		return nil, err
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("backend %q: %w", id, ErrBackendNotFound)
	}

	backend := &model.BackendEndpoint{
		ID:      doc.Get(fieldBackendID).String(),
		BaseURL: doc.Get(fieldBackendBaseURL).String(),
		State:   doc.Get(fieldBackendState).String(),
	}
	if backend.ID == "" {
		backend.ID = id
	}
	if !backend.Usable() {
		return nil, fmt.Errorf("backend %q: state %q: %w", id, backend.State, ErrBackendNotFound)
	}
	return backend, nil
}

func parseRecord(body []byte) (gjson.Result, error) {
	if body == nil {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrMalformedRecord
	}
	return gjson.ParseBytes(body), nil
}
