package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"serverlink/internal/models"
)

const (
	apiPrefix = "/api/v4"

	HeaderVersionID     = "X-Version-Id"
	HeaderToken         = "Token"
	HeaderRequestedWith = "X-Requested-With"
)

// ErrNoOrigin is returned when a request is made before a base origin is set.
var ErrNoOrigin = errors.New("rest client has no base origin")

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	// RateLimit is the number of requests per second; zero or less disables limiting.
	RateLimit float64
	Burst     int
	Tracer    trace.Tracer
}

// Client talks to a chat server's v4 REST API. The base origin may be
// swapped at any time; requests pick up the origin current at send time.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer

	mu            sync.RWMutex
	baseOrigin    string
	serverVersion string
	token         string
}

// NewClient creates a Client without a base origin.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("rest")
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		tracer:     tracer,
	}
}

// WithBaseOrigin returns a new Client sharing the transport, limiter and
// tracer but pointed at origin. Session state is not carried over.
func (c *Client) WithBaseOrigin(origin string) *Client {
	return &Client{
		httpClient: c.httpClient,
		limiter:    c.limiter,
		tracer:     c.tracer,
		baseOrigin: origin,
	}
}

// SetBaseOrigin points the client at a new server and drops any session
// bound to the previous one.
func (c *Client) SetBaseOrigin(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if origin != c.baseOrigin {
		c.token = ""
		c.serverVersion = ""
	}
	c.baseOrigin = origin
}

func (c *Client) BaseOrigin() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseOrigin
}

// ServerVersion is the last X-Version-Id header seen from the server.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if _, err := c.do(ctx, "rest.Ping", http.MethodGet, "/system/ping", nil, &body); err != nil {
		return err
	}
	if body.Status != "OK" {
		return &models.ErrorDescriptor{
			Message:    fmt.Sprintf("unexpected ping status %q", body.Status),
			StatusCode: http.StatusOK,
		}
	}
	return nil
}

// ClientConfig fetches the server's client-facing configuration.
func (c *Client) ClientConfig(ctx context.Context) (map[string]string, error) {
	cfg := map[string]string{}
	if _, err := c.do(ctx, "rest.ClientConfig", http.MethodGet, "/config/client?format=old", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ClientLicense fetches the server's client-facing license summary.
func (c *Client) ClientLicense(ctx context.Context) (map[string]string, error) {
	license := map[string]string{}
	if _, err := c.do(ctx, "rest.ClientLicense", http.MethodGet, "/license/client?format=old", nil, &license); err != nil {
		return nil, err
	}
	return license, nil
}

// User is the subset of a user profile returned on login.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Roles     string `json:"roles,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// Login authenticates against the server and keeps the session token for
// subsequent requests.
func (c *Client) Login(ctx context.Context, loginID, password, mfaToken string) (*User, error) {
	in := map[string]string{
		"login_id": loginID,
		"password": password,
		"token":    mfaToken,
	}
	var user User
	header, err := c.do(ctx, "rest.Login", http.MethodPost, "/users/login", in, &user)
	if err != nil {
		return nil, err
	}
	if token := header.Get(HeaderToken); token != "" {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}
	return &user, nil
}

type apiError struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (c *Client) do(ctx context.Context, spanName, method, path string, in, out any) (http.Header, error) {
	c.mu.RLock()
	origin, token := c.baseOrigin, c.token
	c.mu.RUnlock()

	ctx, span := c.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("origin", origin),
			attribute.String("http.method", method),
		))
	defer span.End()

	if origin == "" {
		span.RecordError(ErrNoOrigin)
		return nil, ErrNoOrigin
	}

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, origin+apiPrefix+path, body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestedWith, "XMLHttpRequest")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if version := resp.Header.Get(HeaderVersionID); version != "" {
		c.mu.Lock()
		if c.baseOrigin == origin {
			c.serverVersion = version
		}
		c.mu.Unlock()
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		desc := decodeError(resp)
		span.RecordError(desc)
		span.SetStatus(codes.Error, desc.Message)
		return resp.Header, desc
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			span.RecordError(err)
			return resp.Header, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func decodeError(resp *http.Response) *models.ErrorDescriptor {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || (apiErr.ID == "" && apiErr.Message == "") {
		return &models.ErrorDescriptor{
			Message:    http.StatusText(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
	status := apiErr.StatusCode
	if status == 0 {
		status = resp.StatusCode
	}
	return &models.ErrorDescriptor{
		ServerErrorID: apiErr.ID,
		Message:       apiErr.Message,
		StatusCode:    status,
	}
}
