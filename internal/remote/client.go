package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldsync/fieldsync/internal/loggy"
)

// Client is the HTTP implementation of Authority.
type Client struct {
	baseURL    string
	token      string
	deviceName string
	httpClient *http.Client
	logger     *loggy.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithDeviceName sets the device identification header sent on every request.
func WithDeviceName(name string) ClientOption {
	return func(c *Client) { c.deviceName = name }
}

// NewClient creates a new HTTP client for the remote authority
func NewClient(baseURL, token string, timeout time.Duration, logger *loggy.Logger, opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetToken updates the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}

// FetchByID returns the current remote snapshot or ErrNotFound.
func (c *Client) FetchByID(ctx context.Context, table, id string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/api/tables/%s/records/%s", c.baseURL, url.PathEscape(table), url.PathEscape(id))

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	var record map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decoding fetch response: %w", err)
	}

	return record, nil
}

// Upsert creates or replaces the record identified by payload["id"].
func (c *Client) Upsert(ctx context.Context, table string, payload map[string]any) error {
	endpoint := fmt.Sprintf("%s/api/tables/%s/records", c.baseURL, url.PathEscape(table))

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling upsert payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// DeleteByID removes the record. A 404 counts as success: last delete wins.
func (c *Client) DeleteByID(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/api/tables/%s/records/%s", c.baseURL, url.PathEscape(table), url.PathEscape(id))

	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Add("Content-Type", "application/json")
	if c.deviceName != "" {
		req.Header.Add("X-Device-Name", c.deviceName)
	}

	return req, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		// If we can't decode the error body, return a generic one
		return APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
