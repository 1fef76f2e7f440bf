package warming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Loaded is a value fetched from a source of truth.
type Loaded struct {
	Value any

	// TTL overrides the data type's TTL when positive.
	TTL time.Duration
}

// Loader fetches the current value of a key from its source of truth.
type Loader interface {
	Load(ctx context.Context, key string) (Loaded, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key string) (Loaded, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, key string) (Loaded, error) { return f(ctx, key) }

// HTTPLoaderConfig holds the HTTP loader configuration.
type HTTPLoaderConfig struct {
	// BaseURL is joined with the escaped key: GET <BaseURL>/<key>.
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	Retry  RetryPolicy
	Client *http.Client
	Now    func() time.Time
	Logger *zerolog.Logger
}

// DefaultHTTPLoaderConfig returns a loader configuration for baseURL.
func DefaultHTTPLoaderConfig(baseURL string) HTTPLoaderConfig {
	return HTTPLoaderConfig{
		BaseURL:   baseURL,
		UserAgent: "tradecache/1.0",
		Timeout:   10 * time.Second,
		Retry:     DefaultRetryPolicy(),
		Now:       time.Now,
	}
}

// validator is the last known body of a key and its ETag.
type validator struct {
	etag  string
	value any
}

// HTTPLoader loads JSON documents from an upstream HTTP service. It retries
// by error class, sends If-None-Match for keys it has seen and derives the
// TTL from Cache-Control max-age or Expires.
type HTTPLoader struct {
	cfg    HTTPLoaderConfig
	client *http.Client
	logger zerolog.Logger

	mu         sync.Mutex
	validators map[string]validator
}

// NewHTTPLoader creates an HTTP loader.
func NewHTTPLoader(cfg HTTPLoaderConfig) (*HTTPLoader, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.Default.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	logger := log.With().Str("component", "http-loader").Str("base_url", cfg.BaseURL).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPLoader{
		cfg:        cfg,
		client:     client,
		logger:     logger,
		validators: make(map[string]validator),
	}, nil
}

// Load fetches key from the upstream.
func (l *HTTPLoader) Load(ctx context.Context, key string) (Loaded, error) {
	target := strings.TrimRight(l.cfg.BaseURL, "/") + "/" + url.PathEscape(key)

	var out Loaded
	err := retryWithBackoff(ctx, l.cfg.Retry, l.logger, func() error {
		loaded, err := l.fetch(ctx, key, target)
		if err != nil {
			return err
		}
		out = loaded
		return nil
	})
	if err != nil {
		return Loaded{}, err
	}
	return out, nil
}

// fetch performs a single attempt.
func (l *HTTPLoader) fetch(ctx context.Context, key, target string) (Loaded, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Loaded{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}

	l.mu.Lock()
	known, haveValidator := l.validators[key]
	l.mu.Unlock()
	if haveValidator {
		req.Header.Set("If-None-Match", known.etag)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		UpstreamRequests.WithLabelValues("network_error").Inc()
		l.logger.Warn().Err(err).Str("url", target).Msg("Upstream request failed")
		return Loaded{}, &UpstreamError{URL: target, Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && haveValidator {
		ConditionalHits.Inc()
		l.logger.Debug().Str("url", target).Msg("304 Not Modified - reusing last body")
		return Loaded{Value: known.value, TTL: l.freshness(resp.Header)}, nil
	}

	if class := classifyStatus(resp.StatusCode); class != "" {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		l.logger.Warn().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream error response")
		return Loaded{}, &UpstreamError{URL: target, StatusCode: resp.StatusCode, Class: class}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Loaded{}, &UpstreamError{URL: target, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Err: err}
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		// non-JSON bodies are cached verbatim
		value = string(body)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		l.mu.Lock()
		l.validators[key] = validator{etag: etag, value: value}
		l.mu.Unlock()
	}

	return Loaded{Value: value, TTL: l.freshness(resp.Header)}, nil
}

// freshness returns the remaining lifetime advertised by the response, or 0.
// Cache-Control max-age takes precedence over Expires.
func (l *HTTPLoader) freshness(h http.Header) time.Duration {
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	expires := h.Get("Expires")
	if expires == "" {
		return 0
	}
	t, err := http.ParseTime(expires)
	if err != nil {
		return 0
	}
	if ttl := t.Sub(l.cfg.Now()); ttl > 0 {
		return ttl
	}
	return 0
}
