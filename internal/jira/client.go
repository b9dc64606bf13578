// Package jira is a read-only client for the Jira Data Center REST API (v2).
// Every outbound request passes through a shared token-bucket rate limiter so
// the scanner cannot overwhelm the instance, and HTTP failures are classified
// into fatal and transient so callers can decide whether to retry.
package jira

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrAuth indicates the credentials were rejected (HTTP 401).
var ErrAuth = errors.New("authentication failed")

// ErrPermission indicates the credentials lack the required scope (HTTP 403).
var ErrPermission = errors.New("permission denied")

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jira: unexpected status %d from %s", e.Code, e.URL)
}

// IsFatal reports whether err is an authentication or permission failure.
// Fatal errors must abort the scan rather than be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrPermission)
}

// IsTransient reports whether err is worth retrying: rate-limit rejections,
// server-side errors, and network-level failures.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	// Timeouts, resets, truncated transfers.
	return true
}

// ClientConfig holds the connection settings for a Client.
type ClientConfig struct {
	BaseURL   string
	Token     string // personal access token; preferred on DC 8.14+
	Username  string // basic auth, used when Token is empty
	Password  string
	VerifySSL bool
	// RateLimit is the maximum number of requests per second. Zero means 50.
	RateLimit int
	// Timeout bounds each request; attachment downloads override it per call.
	Timeout time.Duration
}

// Client talks to a single Jira Data Center instance.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	auth    func(*http.Request)
}

// NewClient validates cfg and returns a ready Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("jira: base URL is required")
	}
	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, errors.New("jira: either a token or username+password is required")
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 50
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
	}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	auth := func(req *http.Request) {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}
	if cfg.Token != "" {
		token := cfg.Token
		auth = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Transport: transport, Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(limit), limit),
		auth:    auth,
	}, nil
}

// get performs a rate-limited GET and classifies error statuses.
// The caller owns the response body.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jira: build request: %w", err)
	}
	c.auth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("%w (check credentials)", ErrAuth)
	case resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w (check token scope)", ErrPermission)
	default:
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
}

// getJSON performs a GET against an API path and decodes the JSON body into v.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("jira: decode %s: %w", path, err)
	}
	return nil
}

// searchFields is the field list requested on every search page.
const searchFields = "key,attachment,project,status,updated"

// CountIssues returns the total number of issues matching jql.
// Data Center has no approximate-count endpoint, so this issues a search
// with maxResults=0 and reads the total.
func (c *Client) CountIssues(ctx context.Context, jql string) (int, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", "0")
	q.Set("fields", "key")

	var res SearchResult
	if err := c.getJSON(ctx, "/rest/api/2/search", q, &res); err != nil {
		return 0, err
	}
	return res.Total, nil
}

// SearchIssues fetches one page of issues matching jql starting at startAt.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", searchFields)

	var res SearchResult
	if err := c.getJSON(ctx, "/rest/api/2/search", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// OpenAttachment opens a streaming reader over the attachment bytes at
// contentURL. The caller must close the returned reader.
func (c *Client) OpenAttachment(ctx context.Context, contentURL string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, contentURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// TestConnection verifies the base URL and credentials by fetching the
// current user.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/rest/api/2/myself")
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
