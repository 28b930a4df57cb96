// Package forward sends rewritten requests to agent backends and relays the
// responses to the original caller.
package forward

import (
	"bytes"
	"errors"
	"net/http"

	"agent-router/internal/model"
)

var (
	// ErrForwardTransport is returned by Direct when the backend could not be
	// reached. Nothing has been written to the caller when it is returned.
	ErrForwardTransport = errors.New("forward transport failure")

	// ErrFallback is returned by Rewrite when the backend could not be reached.
	ErrFallback = errors.New("fallback forward failure")
)

// Strategy forwards a request to a backend and writes the backend's response.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string
	// Forward sends fr and relays the response to w. r is the inbound request;
	// its context bounds the outbound call.
	Forward(w http.ResponseWriter, r *http.Request, fr *model.ForwardRequest) error
}

// HopByHopHeaders are connection-scoped headers that are never forwarded.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyResponseHeader adds every backend header to dst except hop-by-hop ones.
func copyResponseHeader(dst, src http.Header) {
	for key, vals := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range HopByHopHeaders {
		if http.CanonicalHeaderKey(key) == http.CanonicalHeaderKey(h) {
			return true
		}
	}
	return false
}

// bodyReader returns a fresh reader over the buffered body. ok is false for
// an empty body, in which case callers send http.NoBody.
func bodyReader(body []byte) (r *bytes.Reader, ok bool) {
	if len(body) == 0 {
		return nil, false
	}
	return bytes.NewReader(body), true
}
