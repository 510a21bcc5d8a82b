// Package loopback provides the single outbound HTTP primitive for the
// wizard engine core. Every core module that needs local HTTP goes through
// this client; hosts outside the loopback allowlist are rejected before any
// I/O happens, which turns the loopback invariant into a call-site check.
package loopback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"udos/internal/logging"
)

// ErrorKind classifies loopback client failures.
type ErrorKind string

const (
	KindNonLoopback   ErrorKind = "non_loopback"
	KindTimeout       ErrorKind = "timeout"
	KindConnectError  ErrorKind = "connect_error"
	KindHTTPError     ErrorKind = "http_error"
	KindMalformedBody ErrorKind = "malformed_body"
)

// Error is a typed loopback client error.
type Error struct {
	Kind       ErrorKind
	StatusCode int    // set for KindHTTPError
	Host       string // set for KindNonLoopback
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the ErrorKind from an error, or "" if it is not a
// loopback error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// Response is the result of a loopback HTTP call.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	// JSON holds the parsed body when the response claims JSON content.
	JSON interface{}
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

const (
	// DefaultTimeout bounds a call when the caller does not specify one.
	DefaultTimeout = 2 * time.Second
	// MaxTimeout is the ceiling callers may raise the timeout to.
	MaxTimeout = 30 * time.Second
)

// allowlist is the fixed set of permitted hosts.
var allowlist = map[string]bool{
	"127.0.0.1": true,
	"::1":       true,
	"localhost": true,
}

// Client issues loopback-only HTTP requests. The zero value is not usable;
// construct with New.
type Client struct {
	httpClient *http.Client
}

// New creates a loopback client. Redirects are never followed.
func New() *Client {
	return &Client{
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NormalizeHost rewrites wildcard binds to 127.0.0.1 and strips brackets
// from IPv6 literals. Returns the normalized host.
func NormalizeHost(host string) string {
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	switch host {
	case "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return host
}

// CheckURL validates that the URL targets a loopback host. It returns the
// (possibly rewritten) URL or a KindNonLoopback error without doing I/O.
func CheckURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &Error{Kind: KindConnectError, Message: fmt.Sprintf("invalid url: %v", err)}
	}

	host := u.Hostname()
	normalized := NormalizeHost(host)
	if !allowlist[normalized] {
		logging.LoopbackWarn("blocked non-loopback target host=%s url=%s", host, rawURL)
		return "", &Error{
			Kind:    KindNonLoopback,
			Host:    host,
			Message: fmt.Sprintf("host %q is outside the loopback allowlist", host),
		}
	}

	if normalized != host {
		// Rewrite wildcard binds in place so the dial hits loopback.
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(normalized, port)
		} else {
			u.Host = normalized
		}
		return u.String(), nil
	}
	return rawURL, nil
}

// Get issues a GET against a loopback URL.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, headers, timeout)
}

// Post issues a POST against a loopback URL. A non-nil body is sent as JSON
// unless the caller sets an explicit Content-Type header.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte, headers map[string]string, timeout time.Duration) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, body, headers, timeout)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, timeout time.Duration) (*Response, error) {
	checked, err := CheckURL(rawURL)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, checked, reader)
	if err != nil {
		return nil, &Error{Kind: KindConnectError, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	if body != nil && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{Kind: KindTimeout, Message: fmt.Sprintf("%s %s timed out after %v", method, checked, timeout)}
		}
		return nil, &Error{Kind: KindConnectError, Message: fmt.Sprintf("%s %s: %v", method, checked, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnectError, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	out := &Response{Status: resp.StatusCode, Headers: resp.Header, Body: data}

	// Content-type is inferred; bodies that claim JSON but fail to parse
	// are malformed, and the raw bytes ride along for diagnosis.
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(data) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return out, &Error{Kind: KindMalformedBody, Message: fmt.Sprintf("body claims JSON but does not parse: %v", err)}
		}
		out.JSON = parsed
	}

	logging.Loopback("%s %s -> %d in %v", method, checked, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		return out, &Error{Kind: KindHTTPError, StatusCode: resp.StatusCode, Message: fmt.Sprintf("%s %s returned %d", method, checked, resp.StatusCode)}
	}
	return out, nil
}
