package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Retry and backoff constants.
const (
	// DefaultMaxRetries is the number of additional attempts after the
	// first, when RequestOptions.MaxRetries is left zero.
	DefaultMaxRetries = 3

	baseBackoff       = 1 * time.Second
	maxRetryAfter     = 60 * time.Second
	defaultRetryAfter = 5 * time.Second
	userAgent         = "msgraph-go/0.1"
)

// Client-side rate limiting. Graph allows roughly 10,000 requests per
// 10 minutes; staying under that proactively avoids most 429 responses.
const (
	requestsPerSecond = 10
	requestBurst      = 15
)

// requestTimeout bounds every HTTP call so a hung connection surfaces as a
// transient failure instead of blocking the caller indefinitely.
const requestTimeout = 30 * time.Second

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs" — the auth package's
// Manager is the production implementation and the only token cache; the
// client asks it on every call.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// RequestOptions carries the optional parts of a Graph request.
// At most one of JSON and Raw may be set.
type RequestOptions struct {
	// Params are query parameters appended to the path.
	Params url.Values

	// JSON is marshaled as the request body with Content-Type application/json.
	JSON any

	// Raw is sent verbatim with Content-Type application/octet-stream.
	Raw []byte

	// MaxRetries is the number of additional attempts after the first for
	// transient failures. Zero means DefaultMaxRetries; negative disables
	// retries entirely.
	MaxRetries int
}

// Client is the resilient request executor for the Microsoft Graph API.
// It injects authorization, negotiates content headers, applies a
// client-side rate limit, and retries transient failures with bounded
// backoff. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Request executes one logical Graph operation and returns the response
// body as JSON. A success with an empty body (e.g. 204 No Content) returns
// nil. Transient failures (429, 5xx, network errors, timeouts) are retried
// per the backoff policy; other error statuses surface immediately as a
// *GraphError.
func (c *Client) Request(ctx context.Context, method, path string, opts *RequestOptions) (json.RawMessage, error) {
	body, err := c.do(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, nil
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("graph: %s %s returned a non-JSON body", method, path)
	}

	return json.RawMessage(body), nil
}

// do runs the retry loop for one logical request and returns the raw
// response body bytes.
func (c *Client) do(ctx context.Context, method, path string, opts *RequestOptions) ([]byte, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	params := advancedQueryParams(opts.Params)

	var jsonBody []byte
	if opts.JSON != nil {
		var err error

		jsonBody, err = json.Marshal(opts.JSON)
		if err != nil {
			return nil, fmt.Errorf("graph: marshaling request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}

		fullURL += sep + params.Encode()
	}

	header := buildHeaders(params, jsonBody, opts.Raw)

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("graph: request canceled: %w", err)
		}

		resp, err := c.doOnce(ctx, method, fullURL, header, bodyBytes(jsonBody, opts.Raw))
		if err != nil {
			// Token acquisition failures are never transient from this
			// side: the lifecycle manager has already exhausted silent
			// refresh and its one interactive escalation, so looping here
			// would reopen the browser prompt unattended.
			var tokErr *tokenError
			if errors.As(err, &tokErr) {
				return nil, fmt.Errorf("graph: %s %s: %w", method, path, err)
			}

			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
			}

			// Network errors and client-side timeouts are transient.
			if attempt < maxRetries {
				if sleepErr := c.backoff(ctx, method, path, attempt, expBackoff(attempt)); sleepErr != nil {
					return nil, sleepErr
				}

				continue
			}

			return nil, fmt.Errorf("graph: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if readErr != nil {
				return nil, fmt.Errorf("graph: reading response body: %w", readErr)
			}

			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return respBody, nil
		}

		if readErr != nil {
			respBody = []byte("(failed to read response body)")
		}

		if IsRetryable(resp.StatusCode) && attempt < maxRetries {
			if sleepErr := c.backoff(ctx, method, path, attempt, retryDelay(resp, attempt)); sleepErr != nil {
				return nil, sleepErr
			}

			continue
		}

		graphErr := &GraphError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Message:    string(respBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, graphErr
	}
}

// doOnce executes a single HTTP attempt. The bearer token is fetched fresh
// from the TokenSource on every attempt — the lifecycle manager is the only
// token cache.
func (c *Client) doOnce(ctx context.Context, method, fullURL string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, &tokenError{err: err}
	}

	for k, vs := range header {
		req.Header[k] = vs
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("client-request-id", uuid.NewString())

	return c.httpClient.Do(req)
}

// tokenError marks a failed bearer-token acquisition. It is excluded from
// the transient-failure retry path and unwraps to the manager's error so
// callers can still match auth sentinels with errors.Is/As.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string {
	return "obtaining token: " + e.err.Error()
}

func (e *tokenError) Unwrap() error {
	return e.err
}

// backoff logs the retry and sleeps for the given delay, honoring context
// cancellation between attempts.
func (c *Client) backoff(ctx context.Context, method, path string, attempt int, delay time.Duration) error {
	c.logger.Warn("retrying request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", delay),
	)

	if err := c.sleepFunc(ctx, delay); err != nil {
		return fmt.Errorf("graph: request canceled: %w", err)
	}

	return nil
}

// buildHeaders computes the content negotiation headers for a request.
//
// Outlook message bodies default to HTML; when the caller is searching or
// explicitly selecting body content, plain text rendering is requested.
// Advanced query shapes (full-text search, substring or collection-
// membership filters) only return consistent results under eventual
// consistency, so that mode is requested for them.
func buildHeaders(params url.Values, jsonBody, rawBody []byte) http.Header {
	header := http.Header{}

	if params.Has("$search") || strings.Contains(params.Get("$select"), "body") {
		header.Set("Prefer", `outlook.body-content-type="text"`)
	}

	if needsEventualConsistency(params) {
		header.Set("ConsistencyLevel", "eventual")
	}

	switch {
	case jsonBody != nil:
		header.Set("Content-Type", "application/json")
	case rawBody != nil:
		header.Set("Content-Type", "application/octet-stream")
	}

	return header
}

// needsEventualConsistency reports whether the query shape requires the
// eventual-consistency mode: full-text search, or a filter using substring
// or collection-membership predicates.
func needsEventualConsistency(params url.Values) bool {
	if params.Has("$search") {
		return true
	}

	filter := params.Get("$filter")

	return strings.Contains(filter, "contains(") || strings.Contains(filter, "/any(")
}

// advancedQueryParams returns a copy of params with $count=true defaulted
// for query shapes that require eventual consistency. The caller's values
// are never mutated.
func advancedQueryParams(params url.Values) url.Values {
	out := url.Values{}
	for k, vs := range params {
		out[k] = append([]string(nil), vs...)
	}

	if needsEventualConsistency(out) && !out.Has("$count") {
		out.Set("$count", "true")
	}

	return out
}

// bodyBytes returns a fresh reader for the request body, or nil when there
// is none. A new reader per attempt keeps retries safe.
func bodyBytes(jsonBody, rawBody []byte) io.Reader {
	switch {
	case jsonBody != nil:
		return bytes.NewReader(jsonBody)
	case rawBody != nil:
		return bytes.NewReader(rawBody)
	default:
		return nil
	}
}

// retryDelay returns the backoff for a retryable HTTP response. Throttling
// honors the Retry-After header (default 5s when absent) capped at 60s;
// server errors use exponential backoff.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		delay := defaultRetryAfter
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}

		return min(delay, maxRetryAfter)
	}

	return expBackoff(attempt)
}

// expBackoff computes the exponential backoff for the given attempt:
// 1s, 2s, 4s, ...
func expBackoff(attempt int) time.Duration {
	return baseBackoff << attempt
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Request().
// Returns an error if the URL doesn't start with the expected base.
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
