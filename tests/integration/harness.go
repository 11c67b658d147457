package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/api"
	"github.com/sirosfoundation/go-linkshare/internal/events"
	"github.com/sirosfoundation/go-linkshare/internal/mirror"
	"github.com/sirosfoundation/go-linkshare/internal/orchestrator"
	"github.com/sirosfoundation/go-linkshare/internal/server"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
	"github.com/sirosfoundation/go-linkshare/internal/storage/memory"
	"github.com/sirosfoundation/go-linkshare/internal/websocket"
	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// TestHarness runs the complete control server (API, metrics and event
// stream) on a loopback port, backed by an in-memory store.
type TestHarness struct {
	T            *testing.T
	Config       *config.Config
	Manager      *server.Manager
	Orchestrator *orchestrator.Orchestrator
	Hub          *events.Hub
	Storage      storage.Store
	Logger       *zap.Logger

	// Client is a pre-configured HTTP client for making requests
	Client *http.Client

	// BaseURL is the URL of the control server
	BaseURL string

	// Token is the bearer token sent with every request
	Token string
}

// TestHarnessOption configures the test harness
type TestHarnessOption func(*TestHarness)

// WithConfig sets a custom config for the test harness
func WithConfig(cfg *config.Config) TestHarnessOption {
	return func(h *TestHarness) {
		h.Config = cfg
	}
}

// NewTestHarness creates a new test harness with a running control server
func NewTestHarness(t *testing.T, opts ...TestHarnessOption) *TestHarness {
	t.Helper()

	gin.SetMode(gin.TestMode)

	logger, _ := zap.NewDevelopment()

	h := &TestHarness{
		T:      t,
		Logger: logger,
		Client: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.Config == nil {
		cfg := config.Default()
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = 0
		cfg.Server.ControlToken = "test-control-token-for-integration-tests"
		cfg.Storage.Type = "memory"
		cfg.Instances.BindHost = "127.0.0.1"
		cfg.Instances.DrainTimeoutSeconds = 2
		h.Config = cfg
	}
	h.Token = h.Config.Server.ControlToken

	h.Storage = memory.NewStore()
	h.Hub = events.NewHub()
	reg := prometheus.NewRegistry()

	orch, err := orchestrator.New(orchestrator.ConfigFrom(h.Config.Instances), logger,
		orchestrator.WithPublisher(h.Hub),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
	)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	h.Orchestrator = orch

	handlers := api.NewHandlers(h.Storage, orch, api.Options{
		StorageType: "memory",
		Mirror:      mirror.NewClient(h.Config.Mirror, logger),
		Version:     "test",
	}, logger)

	eventsProvider := server.NewEventsProvider(websocket.NewManager(h.Hub, nil, logger))

	h.Manager = server.NewManager(server.ServerConfigFrom(h.Config, handlers.Status), logger)
	h.Manager.AddProvider(server.NewControlProvider(handlers))
	h.Manager.AddProvider(server.NewMetricsProvider(reg))
	h.Manager.AddProvider(eventsProvider)

	if err := h.Manager.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start control server: %v", err)
	}
	h.BaseURL = "http://" + h.Manager.HTTPAddr().String()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		eventsProvider.Close()
		_ = h.Manager.Shutdown(ctx)
	})

	return h
}

// Request makes an HTTP request to the test server
func (h *TestHarness) Request(method, path string, body interface{}) *Response {
	h.T.Helper()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			h.T.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, h.BaseURL+path, bodyReader)
	if err != nil {
		h.T.Fatalf("Failed to create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	return h.Do(req)
}

// Do executes an HTTP request and returns a Response wrapper
func (h *TestHarness) Do(req *http.Request) *Response {
	h.T.Helper()

	resp, err := h.Client.Do(req)
	if err != nil {
		h.T.Fatalf("Request failed: %v", err)
	}

	return &Response{
		T:        h.T,
		Response: resp,
	}
}

// GET makes a GET request
func (h *TestHarness) GET(path string) *Response {
	return h.Request(http.MethodGet, path, nil)
}

// POST makes a POST request with a JSON body
func (h *TestHarness) POST(path string, body interface{}) *Response {
	return h.Request(http.MethodPost, path, body)
}

// DELETE makes a DELETE request
func (h *TestHarness) DELETE(path string) *Response {
	return h.Request(http.MethodDelete, path, nil)
}

// WithAuth returns a new request builder with authentication
func (h *TestHarness) WithAuth(token string) *AuthenticatedClient {
	return &AuthenticatedClient{
		harness: h,
		token:   token,
	}
}

// AuthenticatedClient wraps the harness with auth headers
type AuthenticatedClient struct {
	harness *TestHarness
	token   string
}

// GET makes an authenticated GET request
func (c *AuthenticatedClient) GET(path string) *Response {
	c.harness.T.Helper()
	req, _ := http.NewRequest(http.MethodGet, c.harness.BaseURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.harness.Do(req)
}

// POST makes an authenticated POST request
func (c *AuthenticatedClient) POST(path string, body interface{}) *Response {
	c.harness.T.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(jsonBody)
	}
	req, _ := http.NewRequest(http.MethodPost, c.harness.BaseURL+path, bodyReader)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.harness.Do(req)
}

// DELETE makes an authenticated DELETE request
func (c *AuthenticatedClient) DELETE(path string) *Response {
	c.harness.T.Helper()
	req, _ := http.NewRequest(http.MethodDelete, c.harness.BaseURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.harness.Do(req)
}

// Response wraps an HTTP response with assertion helpers
type Response struct {
	T        *testing.T
	Response *http.Response
	body     []byte
	bodyRead bool
}

// Body returns the response body as bytes
func (r *Response) Body() []byte {
	r.T.Helper()
	if !r.bodyRead {
		var err error
		r.body, err = io.ReadAll(r.Response.Body)
		if err != nil {
			r.T.Fatalf("Failed to read response body: %v", err)
		}
		r.Response.Body.Close()
		r.bodyRead = true
	}
	return r.body
}

// JSON unmarshals the response body into the given target
func (r *Response) JSON(target interface{}) *Response {
	r.T.Helper()
	if err := json.Unmarshal(r.Body(), target); err != nil {
		r.T.Fatalf("Failed to unmarshal response: %v\nBody: %s", err, string(r.Body()))
	}
	return r
}

// Status asserts the response status code
func (r *Response) Status(expected int) *Response {
	r.T.Helper()
	if r.Response.StatusCode != expected {
		r.T.Errorf("Expected status %d, got %d\nBody: %s", expected, r.Response.StatusCode, string(r.Body()))
	}
	return r
}

// Header returns the value of a response header
func (r *Response) Header(name string) string {
	return r.Response.Header.Get(name)
}

// HasHeader asserts that a header exists
func (r *Response) HasHeader(name string) *Response {
	r.T.Helper()
	if r.Header(name) == "" {
		r.T.Errorf("Expected header %q to be present", name)
	}
	return r
}

// BodyContains asserts the response body contains a substring
func (r *Response) BodyContains(substr string) *Response {
	r.T.Helper()
	if !bytes.Contains(r.Body(), []byte(substr)) {
		r.T.Errorf("Expected body to contain %q\nBody: %s", substr, string(r.Body()))
	}
	return r
}

// BodyEquals asserts the response body equals exactly
func (r *Response) BodyEquals(expected string) *Response {
	r.T.Helper()
	if string(r.Body()) != expected {
		r.T.Errorf("Expected body:\n%s\nGot:\n%s", expected, string(r.Body()))
	}
	return r
}

// Pretty returns pretty-printed JSON for debugging
func (r *Response) Pretty() string {
	var v interface{}
	if err := json.Unmarshal(r.Body(), &v); err != nil {
		return string(r.Body())
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return string(pretty)
}

// Debug logs the response for debugging
func (r *Response) Debug() *Response {
	fmt.Printf("=== Response ===\nStatus: %d\nHeaders: %v\nBody:\n%s\n================\n",
		r.Response.StatusCode, r.Response.Header, r.Pretty())
	return r
}
