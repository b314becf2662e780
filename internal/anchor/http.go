package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient speaks JSON to an anchor gateway: a small service that fronts
// the actual ledger node. Transport failures, timeouts and non-2xx replies
// all collapse into ErrUnavailable; the gateway being down is the same
// condition as the gateway not existing.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)
var _ Admin = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithTimeout sets the per-call timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) { h.httpClient.Timeout = d }
}

// NewHTTPClient validates the gateway URL and builds a client with a 10s
// default timeout.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid anchor gateway url %q", baseURL)
	}
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

func (h *HTTPClient) Submit(ctx context.Context, fingerprint string) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	err := h.do(ctx, http.MethodPost, "/anchors", map[string]string{"fingerprint": fingerprint}, &out)
	if err != nil {
		return "", writeErr(err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("%w: gateway returned empty reference", ErrUnavailable)
	}
	return out.Reference, nil
}

func (h *HTTPClient) Query(ctx context.Context, fingerprint string) (bool, error) {
	var out struct {
		Present bool `json:"present"`
	}
	err := h.do(ctx, http.MethodGet, "/anchors/"+url.PathEscape(fingerprint), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return out.Present, nil
}

func (h *HTTPClient) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Configured: true,
		Endpoint:   h.baseURL,
		CheckedAt:  time.Now().UTC(),
	}
	var out struct {
		Ledger         string `json:"ledger"`
		LatestPosition int64  `json:"latest_position"`
		Submitter      string `json:"submitter"`
		Authorized     bool   `json:"authorized"`
	}
	if err := h.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return st, nil
	}
	st.Reachable = true
	st.Ledger = out.Ledger
	st.LatestPosition = out.LatestPosition
	st.Submitter = out.Submitter
	st.Authorized = out.Authorized
	return st, nil
}

func (h *HTTPClient) Authorize(ctx context.Context, account string) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	err := h.do(ctx, http.MethodPost, "/authorizations", map[string]string{"account": account}, &out)
	if err != nil {
		return "", writeErr(err)
	}
	return out.Reference, nil
}

func (h *HTTPClient) Deauthorize(ctx context.Context, account string) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	err := h.do(ctx, http.MethodDelete, "/authorizations/"+url.PathEscape(account), nil, &out)
	if err != nil {
		return "", writeErr(err)
	}
	return out.Reference, nil
}

func (h *HTTPClient) Authorized(ctx context.Context, account string) (bool, error) {
	var out struct {
		Authorized bool `json:"authorized"`
	}
	err := h.do(ctx, http.MethodGet, "/authorizations/"+url.PathEscape(account), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return out.Authorized, nil
}

// errNotFound marks a definitive 404 from the gateway. Query and Authorized
// translate it into a plain "not present" answer; write calls treat it as
// unavailability.
var errNotFound = errors.New("anchor gateway: not found")

func isNotFound(err error) bool { return errors.Is(err, errNotFound) }

// writeErr maps a definitive 404 on a write route to plain unavailability:
// a gateway without the route is a gateway we cannot use.
func writeErr(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read at most 1KB of the error body for the log line.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: gateway returned %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
	}
	return nil
}
