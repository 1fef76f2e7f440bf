// Package testutil provides testing utilities for the trading cache service.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// UpstreamResponse defines the behavior of one mock upstream path.
type UpstreamResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Upstream is a configurable mock source-of-truth service for warming tests.
type Upstream struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[string][]UpstreamResponse
	requests  map[string]int
}

// NewUpstream starts a mock upstream. It is closed by t.Cleanup when t is given.
func NewUpstream(t interface{ Cleanup(func()) }) *Upstream {
	u := &Upstream{
		responses: make(map[string][]UpstreamResponse),
		requests:  make(map[string]int),
	}
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	if t != nil {
		t.Cleanup(u.server.Close)
	}
	return u
}

// URL returns the base URL of the mock upstream.
func (u *Upstream) URL() string {
	return u.server.URL
}

// Close shuts down the server.
func (u *Upstream) Close() {
	u.server.Close()
}

// SetResponse makes path always answer with resp.
func (u *Upstream) SetResponse(path string, resp UpstreamResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.responses[path] = []UpstreamResponse{resp}
}

// SetSequence makes path answer with each response in turn; the last one repeats.
func (u *Upstream) SetSequence(path string, resps ...UpstreamResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.responses[path] = append([]UpstreamResponse(nil), resps...)
}

// Requests returns how many requests path received.
func (u *Upstream) Requests(path string) int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.requests[path]
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	n := u.requests[r.URL.Path]
	u.requests[r.URL.Path]++
	seq := u.responses[r.URL.Path]
	u.mu.Unlock()

	if len(seq) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
		return
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	resp := seq[n]

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// JSON creates a 200 OK JSON response.
func JSON(body string) UpstreamResponse {
	return UpstreamResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// Status creates an empty response with the given status code.
func Status(code int) UpstreamResponse {
	return UpstreamResponse{StatusCode: code}
}
