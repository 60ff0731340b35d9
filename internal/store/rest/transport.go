package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/lenmed/importer/internal/logging"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingTransport{next: http.DefaultTransport},
	}
}

// loggingTransport logs every PostgREST round-trip at debug level.
//
// Log fields:
//   - method: HTTP method
//   - table: the table segment of /rest/v1/{table}
//   - status: response status, 0 when the request failed
//   - duration_ms: round-trip time in milliseconds
type loggingTransport struct {
	next http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	logger := logging.FromContext(req.Context())
	args := []any{
		"method", req.Method,
		"table", tableOf(req.URL.Path),
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		logger.Warn("postgrest request failed", append(args, "error", err)...)
	} else {
		logger.Debug("postgrest request", args...)
	}
	return resp, err
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *loggingTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.next.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

func tableOf(path string) string {
	_, table, ok := strings.Cut(path, "/rest/v1/")
	if !ok {
		return path
	}
	return table
}
