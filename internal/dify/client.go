package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds non-streaming requests.
const DefaultTimeout = 30 * time.Second

// Client represents the Dify API client
type Client struct {
	baseURL       string
	apiKey        string
	datasetAPIKey string
	client        *http.Client
	streamClient  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for non-streaming requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithDatasetAPIKey sets the key used for the knowledge (dataset) endpoints.
func WithDatasetAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.datasetAPIKey = key
	}
}

// WithStreamTimeout caps how long a streamed answer may take end to end.
func WithStreamTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.streamClient = &http.Client{Timeout: d}
	}
}

// NewClient creates a new Dify API client. Streaming requests use a client
// without an overall timeout; they are bounded by the caller's context.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path, key string, body io.Reader, contentType string) (*http.Request, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	} else {
		logrus.Debugf("No API key provided for %s %s", method, path)
	}
	return req, nil
}

// doJSON sends a request and decodes a JSON response into out (when non-nil).
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	logrus.Debugf("Dify request: %s %s", req.Method, req.URL.Path)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logrus.Debugf("Dify request failed with status %d: %s", resp.StatusCode, string(body))
		return newAPIError(resp.StatusCode, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func jsonBody(v interface{}) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bytes.NewReader(data), nil
}
