package forward

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"agent-router/internal/model"
)

// Target joins a backend base URL with the inbound path and query.
// Trailing slashes on base are dropped; the query is appended only when non-empty.
func Target(base string, u *url.URL) string {
	target := strings.TrimRight(base, "/") + u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

// NewRequest rewrites r for the backend at base. The body is read fully so
// that it can be sent more than once.
func NewRequest(r *http.Request, base string) (*model.ForwardRequest, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}

	return &model.ForwardRequest{
		Method: r.Method,
		Target: Target(base, r.URL),
		Header: forwardHeader(r.Header),
		Body:   body,
	}, nil
}

// forwardHeader copies src without Host, hop-by-hop headers, and any header
// named in Connection.
func forwardHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range HopByHopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
	return dst
}
