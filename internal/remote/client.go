package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/modmirror/internal/transfer"
)

// DefaultUserAgent is the client identifier sent with every request.
const DefaultUserAgent = "curl/7.73.0"

// Client fetches repository content over HTTP(S).
type Client struct {
	httpClient *http.Client
	operation  string
}

// userAgentTransport sets the User-Agent header on every outgoing request.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)

	return t.base.RoundTrip(req)
}

func newTransport(userAgent string) http.RoundTripper {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &userAgentTransport{agent: userAgent, base: otelhttp.NewTransport(http.DefaultTransport)}
}

// NewContentClient returns a client for streaming file content from the CDN.
// There is no overall timeout: bodies have no known length and may be large.
func NewContentClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Transport: newTransport(userAgent)},
		operation:  "fetch_content",
	}
}

// NewAPIClient returns a client for catalog metadata requests. A non-empty token
// is sent as an OAuth2 bearer token to lift anonymous rate limits.
func NewAPIClient(userAgent, token string) *Client {
	transport := newTransport(userAgent)

	if token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   transport,
		}
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		operation:  "fetch_metadata",
	}
}

// Open issues a GET for uri and returns the response body. Non-2xx responses
// are reported as *transfer.NetworkError.
func (c *Client) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transfer.NetworkError{Operation: c.operation, URL: uri, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()

		return nil, &transfer.NetworkError{
			Operation:  c.operation,
			URL:        uri,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	return resp.Body, nil
}

var _ transfer.Source = (*Client)(nil)
