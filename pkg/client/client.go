package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:9090/api"
	DefaultTimeout = 10 * time.Second
)

// ErrNotFound is returned when the API does not know the process.
var ErrNotFound = errors.New("process not found")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the HTTP API of a running procdash.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	CACert   string       // PEM file trusted in addition to the system pool
	Insecure bool         // Skip TLS verification
}

// New creates a client. A CA file that cannot be loaded is an error.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure || cfg.CACert != "" {
		tlsConfig, err := setupClientTLS(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

func setupClientTLS(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.Insecure {
		// #nosec G402 -- explicit opt-in for self-signed local certificates
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", cfg.CACert)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// List returns every configured process in configuration order.
func (c *Client) List(ctx context.Context) ([]ProcessStatus, error) {
	var out []ProcessStatus
	err := c.do(ctx, http.MethodGet, "/processes", &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, name string) (ProcessStatus, error) {
	var out ProcessStatus
	err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(name), &out)
	return out, err
}

// Start, Stop and Restart return the state after the action completed.
func (c *Client) Start(ctx context.Context, name string) (ProcessStatus, error) {
	return c.action(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) (ProcessStatus, error) {
	return c.action(ctx, name, "stop")
}

func (c *Client) Restart(ctx context.Context, name string) (ProcessStatus, error) {
	return c.action(ctx, name, "restart")
}

func (c *Client) action(ctx context.Context, name, verb string) (ProcessStatus, error) {
	c.logger.Debug("process action", "name", name, "action", verb)
	var out ProcessStatus
	err := c.do(ctx, http.MethodPost, "/processes/"+url.PathEscape(name)+"/"+verb, &out)
	return out, err
}

// Logs returns the last tail lines, or the whole buffer when tail is 0.
func (c *Client) Logs(ctx context.Context, name string, tail int) (Logs, error) {
	p := "/processes/" + url.PathEscape(name) + "/logs"
	if tail > 0 {
		p += "?tail=" + strconv.Itoa(tail)
	}
	var out Logs
	err := c.do(ctx, http.MethodGet, p, &out)
	return out, err
}

// History returns recorded lifecycle events, newest first.
func (c *Client) History(ctx context.Context, name string, limit int) ([]HistoryEvent, error) {
	p := "/processes/" + url.PathEscape(name) + "/history"
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var out []HistoryEvent
	err := c.do(ctx, http.MethodGet, p, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}
