// Package testutil provides testing utilities for API and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// Client drives the HTTP API in tests and, when a validator is attached,
// checks every response against the OpenAPI document.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	Validator   *OpenAPIValidator
	ValidateAPI bool
	t           *testing.T
}

// RequestOption adjusts an outgoing request.
type RequestOption func(*http.Request)

// WithQuery sets the request query string.
func WithQuery(q url.Values) RequestOption {
	return func(r *http.Request) {
		r.URL.RawQuery = q.Encode()
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// NewClient creates a client without response validation.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: newHTTPClient()}
}

// NewClientWithValidation loads the OpenAPI document at specPath and
// validates every response against it.
func NewClientWithValidation(t *testing.T, baseURL, specPath string) *Client {
	t.Helper()
	c := NewClientWithValidator(baseURL, NewOpenAPIValidator(t, specPath))
	c.t = t
	return c
}

// NewClientWithValidator creates a client sharing a preloaded validator.
// Call SetT before making requests so validation failures are reported.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	c := NewClient(baseURL)
	c.Validator = validator
	c.ValidateAPI = true
	return c
}

// SetT sets the test used to report validation failures.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy of the client that skips validation,
// for negative tests that expect responses outside the contract.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.ValidateAPI = false
	return &clone
}

// GET performs a GET request.
func (c *Client) GET(path string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(http.MethodGet, path, nil, opts...)
}

// POST sends body as JSON.
func (c *Client) POST(path string, body any, opts ...RequestOption) (*http.Response, error) {
	return c.Do(http.MethodPost, path, body, opts...)
}

// PUT sends body as JSON.
func (c *Client) PUT(path string, body any, opts ...RequestOption) (*http.Response, error) {
	return c.Do(http.MethodPut, path, body, opts...)
}

// DELETE performs a DELETE request.
func (c *Client) DELETE(path string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(http.MethodDelete, path, nil, opts...)
}

// Do sends a request with an optional JSON body. A []byte body is sent as
// is, which lets tests post malformed JSON.
func (c *Client) Do(method, path string, body any, opts ...RequestOption) (*http.Response, error) {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if c.ValidateAPI && c.Validator != nil && c.t != nil {
		c.Validator.ValidateResponse(c.t, req, resp)
	}
	return resp, nil
}

func (c *Client) newRequest(method, path string, body any) (*http.Request, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		return data, nil
	}
}

// DecodeJSON decodes the response body into v and closes it. It fails the
// test when the response is not JSON.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		t.Fatalf("decode response: content type %q is not JSON (status %d)", resp.Header.Get("Content-Type"), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ErrorMessage decodes the {"error":{"message":...}} envelope and returns
// the message.
func ErrorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	DecodeJSON(t, resp, &body)
	return body.Error.Message
}

// ReadBody reads and returns the response body as a string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
