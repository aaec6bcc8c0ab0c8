// Package blob implements the narrow blob backend client the persistence
// layer calls for every byte-level put/get/delete/health operation (spec
// §6.1). It is grounded on the teacher's daemon.Client: the same
// request-with-deadline shape and atomic request counter, generalized
// from a unix-socket JSON-RPC protocol to the HTTP REST routes the spec
// requires, and wrapped in the errors package's CircuitBreaker so a run
// of backend failures fails fast instead of stacking up retries.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	dberrors "github.com/fabstir/vectordb/internal/errors"
)

// DefaultTimeout is the per-call timeout applied when no context deadline
// is already closer (spec §5: "every blob backend call takes a per-call
// timeout (default 30s) and is cancellable").
const DefaultTimeout = 30 * time.Second

// Backend is the capability the persistence layer needs from a blob
// store: put, get, delete, health — nothing else (spec §6.1).
type Backend interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Health(ctx context.Context) error
}

// ErrNotFound is returned by Get/Delete when the backend reports 404.
var ErrNotFound = fmt.Errorf("blob: path not found")

// Client is the reference HTTP transport implementing Backend against
// the routes spec §6.1 documents exactly, so existing deployments
// interoperate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *dberrors.CircuitBreaker
	requestID  atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client (tests use this to
// inject a client pointed at an httptest.Server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCircuitBreaker overrides the client's circuit breaker (tests use
// this to install one with a short reset window).
func WithCircuitBreaker(cb *dberrors.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// NewClient builds a blob backend client against baseURL (e.g.
// "https://s5.example.com").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = dberrors.NewCircuitBreaker("blob-backend")
	}
	return c
}

func (c *Client) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) url(path string) string {
	return c.baseURL + "/s5/fs/" + strings.TrimPrefix(path, "/")
}

type successBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Put uploads data at path. Any 200 response is success (its body is not
// inspected); any other status is a BlobBackendError.
func (c *Client) Put(ctx context.Context, path string, data []byte) error {
	return c.breaker.Execute(func() error {
		reqCtx, cancel := c.deadline(ctx)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, c.url(path), bytes.NewReader(data))
		if err != nil {
			return dberrors.BlobBackendError("put", path, "io", err)
		}
		req.Header.Set("X-Request-Id", c.nextRequestID())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.wrapTransportError("put", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		return dberrors.BlobBackendError("put", path, fmt.Sprintf("status %d", resp.StatusCode), readBodyErr(resp.Body))
	})
}

// Get downloads the bytes at path. A 404 response surfaces as
// ErrNotFound, not a BlobBackendError, so callers can branch on it
// cheaply without inspecting error details.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	var result []byte
	err := c.breaker.Execute(func() error {
		reqCtx, cancel := c.deadline(ctx)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url(path), nil)
		if err != nil {
			return dberrors.BlobBackendError("get", path, "io", err)
		}
		req.Header.Set("X-Request-Id", c.nextRequestID())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.wrapTransportError("get", path, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return dberrors.BlobBackendError("get", path, "io", err)
			}
			result = body
			return nil
		case http.StatusNotFound:
			return ErrNotFound
		default:
			return dberrors.BlobBackendError("get", path, fmt.Sprintf("status %d", resp.StatusCode), readBodyErr(resp.Body))
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the blob at path. A 404 response is reported as
// ErrNotFound.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.breaker.Execute(func() error {
		reqCtx, cancel := c.deadline(ctx)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, c.url(path), nil)
		if err != nil {
			return dberrors.BlobBackendError("delete", path, "io", err)
		}
		req.Header.Set("X-Request-Id", c.nextRequestID())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.wrapTransportError("delete", path, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return nil
		case http.StatusNotFound:
			return ErrNotFound
		default:
			return dberrors.BlobBackendError("delete", path, fmt.Sprintf("status %d", resp.StatusCode), readBodyErr(resp.Body))
		}
	})
}

type healthBody struct {
	Status string `json:"status"`
}

// Health checks GET /health for {"status":"ok"}.
func (c *Client) Health(ctx context.Context) error {
	return c.breaker.Execute(func() error {
		reqCtx, cancel := c.deadline(ctx)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return dberrors.BlobBackendError("health", "/health", "io", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.wrapTransportError("health", "/health", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return dberrors.BlobBackendError("health", "/health", fmt.Sprintf("status %d", resp.StatusCode), nil)
		}

		var body healthBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return dberrors.BlobBackendError("health", "/health", "io", err)
		}
		if body.Status != "ok" {
			return dberrors.BlobBackendError("health", "/health", fmt.Sprintf("status field %q", body.Status), nil)
		}
		return nil
	})
}

func (c *Client) wrapTransportError(op, path string, err error) error {
	cause := "io"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cause = "timeout"
	case errors.Is(err, context.Canceled):
		cause = "cancelled"
	}
	return dberrors.BlobBackendError(op, path, cause, err)
}

func (c *Client) nextRequestID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}

func readBodyErr(r io.Reader) error {
	var body successBody
	if err := json.NewDecoder(r).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s", body.Error)
	}
	return nil
}

var _ Backend = (*Client)(nil)
