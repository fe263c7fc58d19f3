// Package client talks to a running idlewatch daemon over its HTTP API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client provides HTTP client functionality to communicate with the idlewatch daemon
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
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/idlewatch",
		Timeout: 10 * time.Second,
	}
}

// New creates a new idlewatch API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/idlewatch"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the supervisor snapshot: latest verdict, pause flag, and
// every worker's state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, c.baseURL+"/status", &st)
	return st, err
}

// WorkerStatus returns the state of a single supervised worker.
func (c *Client) WorkerStatus(ctx context.Context, name string) (WorkerStatus, error) {
	var st WorkerStatus
	u := fmt.Sprintf("%s/status?name=%s", c.baseURL, url.QueryEscape(name))
	err := c.do(ctx, http.MethodGet, u, &st)
	return st, err
}

// Sessions returns the current login sessions and their idle readings.
func (c *Client) Sessions(ctx context.Context) (Sessions, error) {
	var rd Sessions
	err := c.do(ctx, http.MethodGet, c.baseURL+"/sessions", &rd)
	return rd, err
}

// Check asks the daemon to run one supervision cycle now and returns the verdict.
func (c *Client) Check(ctx context.Context) (Verdict, error) {
	var cr CheckResult
	err := c.do(ctx, http.MethodPost, c.baseURL+"/check", &cr)
	return cr.Verdict, err
}

// Pause holds all run-when-idle workers stopped until Resume.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/pause", nil)
}

// Resume lifts a pause.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/resume", nil)
}

// RecentVerdicts returns persisted cycle verdicts, newest first.
func (c *Client) RecentVerdicts(ctx context.Context, limit int) ([]HistoryVerdict, error) {
	var vs []HistoryVerdict
	u := fmt.Sprintf("%s/history?limit=%d", c.baseURL, limit)
	err := c.do(ctx, http.MethodGet, u, &vs)
	return vs, err
}

// WorkerHistory returns persisted runs of the named worker, newest first.
func (c *Client) WorkerHistory(ctx context.Context, name string, limit int) ([]WorkerRun, error) {
	var runs []WorkerRun
	u := fmt.Sprintf("%s/history?name=%s&limit=%d", c.baseURL, url.QueryEscape(name), limit)
	err := c.do(ctx, http.MethodGet, u, &runs)
	return runs, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	// Handle insecure mode (skip verification)
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a request and decodes the JSON response into out when non-nil.
// None of the API endpoints take a request body; parameters travel in the query.
func (c *Client) do(ctx context.Context, method, u string, out any) error {
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

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
