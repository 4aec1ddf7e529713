// Package target talks HTTP to the system under test. Client implements
// the service a session drives: login, logout and task steps.
package target

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/credentials"
	"github.com/wesleyorama2/herd/internal/task"
	"github.com/wesleyorama2/herd/pkg/jsonpath"
)

// maxResponseBody caps how much of a response is read into memory.
const maxResponseBody = 10 << 20

// ClientConfig contains HTTP transport settings.
type ClientConfig struct {
	// Timeout for a whole request, including reading the body
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// MaxConnsPerHost limits the total connections per host; 0 is unlimited
	MaxConnsPerHost int
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultClientConfig returns settings suited to many concurrent sessions
// sharing one client.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// LoginConfig describes the target's authentication endpoints.
type LoginConfig struct {
	Method        string
	Path          string
	UsernameField string
	PasswordField string
	// TokenPath locates the access token in the login response.
	TokenPath    string
	ExpectStatus []int

	LogoutMethod       string
	LogoutPath         string
	LogoutExpectStatus []int
}

// DefaultLoginConfig posts {"username","password"} to /login, reads
// accessToken, and logs out with DELETE /logout.
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		Method:             http.MethodPost,
		Path:               "/login",
		UsernameField:      "username",
		PasswordField:      "password",
		TokenPath:          "accessToken",
		ExpectStatus:       []int{http.StatusOK},
		LogoutMethod:       http.MethodDelete,
		LogoutPath:         "/logout",
		LogoutExpectStatus: []int{http.StatusOK, http.StatusNoContent},
	}
}

// Client is safe for concurrent use by every session of a run.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	login      LoginConfig
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With(zap.String("component", "target"))
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, cfg ClientConfig, login LoginConfig, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		httpClient: newHTTPClient(cfg),
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    make(map[string]string),
		login:      login,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHTTPClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Login authenticates cred and returns the access token.
func (c *Client) Login(ctx context.Context, cred credentials.Credential) (string, error) {
	payload, err := json.Marshal(map[string]string{
		c.login.UsernameField: cred.Username,
		c.login.PasswordField: cred.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode login body: %w", err)
	}

	status, body, err := c.do(ctx, c.login.Method, c.login.Path, payload, nil)
	if err != nil {
		return "", err
	}
	if !slices.Contains(c.login.ExpectStatus, status) {
		return "", task.NewUnexpectedStatus(status, c.login.ExpectStatus, body)
	}

	token, err := jsonpath.Extract(body, c.login.TokenPath)
	if err != nil {
		return "", &task.PayloadError{Field: c.login.TokenPath, Reason: "no access token in login response", Err: err}
	}
	return token, nil
}

// Logout closes the remote session of token.
func (c *Client) Logout(ctx context.Context, token string) error {
	status, body, err := c.do(ctx, c.login.LogoutMethod, c.login.LogoutPath, nil, bearer(token))
	if err != nil {
		return err
	}
	if !slices.Contains(c.login.LogoutExpectStatus, status) {
		return task.NewUnexpectedStatus(status, c.login.LogoutExpectStatus, body)
	}
	return nil
}

// Execute runs step with the session's token and scratch. Path, body and
// header values are resolved from scratch; the response is checked and
// extracted by the step.
func (c *Client) Execute(ctx context.Context, step *task.Step, token string, scratch task.Scratch) error {
	headers := bearer(token)
	for key, value := range step.Headers {
		headers[key] = scratch.Resolve(value)
	}

	var payload []byte
	if step.Body != "" {
		payload = []byte(scratch.Resolve(step.Body))
	}

	status, body, err := c.do(ctx, step.Method, scratch.Resolve(step.Path), payload, headers)
	if err != nil {
		return err
	}
	return step.Apply(status, body, scratch)
}

// do sends one request and reads the response body. Only transport
// failures are returned as errors.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, headers map[string]string) (int, []byte, error) {
	op := method + " " + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, &task.TransportError{Op: op, Err: err}
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &task.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, &task.TransportError{Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.logger.Debug("request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))
	return resp.StatusCode, respBody, nil
}

func bearer(token string) map[string]string {
	headers := make(map[string]string)
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}
