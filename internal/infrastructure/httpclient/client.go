package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxBodyBytes bounds how much of a response body is read
const DefaultMaxBodyBytes = 16 << 20

// Client is the network transport behind the fetch gate. It only performs the
// request; pacing, retries and status classification belong to the gate.
type Client struct {
	httpClient   *http.Client
	maxBodyBytes int64
	log          logrus.FieldLogger
}

// NewClient creates a transport with the given per-request timeout
func NewClient(timeout time.Duration, log logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBodyBytes: DefaultMaxBodyBytes,
		log:          log,
	}
}

// Get fetches url with the given headers and returns status and body.
// Redirects are followed by the underlying client.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (int, []byte, error) {
	resp, err := c.doRequest(ctx, url, headers)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := readLimitedBody(resp.Body, c.maxBodyBytes)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read body: %w", err)
	}

	c.log.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode, "bytes": len(body)}).Debug("[HTTP] response")
	return resp.StatusCode, body, nil
}

// doRequest executes an HTTP GET request with the caller's headers
func (c *Client) doRequest(ctx context.Context, reqURL string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// readLimitedBody reads at most limit bytes
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}
