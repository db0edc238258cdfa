// Package client talks to the records backend over its JSON REST API.
// Every response is a {status, data | message} envelope; list payloads are
// normalized to listing.Page here so callers see one shape.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/listing"
	"resitrack.org/internal/obs"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	DefaultTimeout = 15 * time.Second
)

// ErrTransport wraps failures reaching the backend at all.
var ErrTransport = errors.New("client: transport failure")

// APIError is an error envelope or non-2xx answer from the backend.
type APIError struct {
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.HTTPStatus, e.Message)
}

// Envelope is the backend response wrapper.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type config struct {
	timeout time.Duration
	token   string
	logger  *zap.Logger
	http    *http.Client
}

// Option configures a Client.
type Option func(*config)

func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithToken sets the bearer token used when the context carries none.
func WithToken(token string) Option { return func(c *config) { c.token = token } }

func WithLogger(l *zap.Logger) Option { return func(c *config) { c.logger = l } }

func WithHTTPClient(h *http.Client) Option { return func(c *config) { c.http = h } }

// Client is safe for concurrent use.
type Client struct {
	rest  *resty.Client
	token string
	log   *zap.Logger
}

// New creates a client for the backend at baseURL. Failed calls are never
// retried.
func New(baseURL string, opts ...Option) *Client {
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = obs.Logger()
	}
	var rc *resty.Client
	if cfg.http != nil {
		rc = resty.NewWithClient(cfg.http)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(cfg.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Client{rest: rc, token: cfg.token, log: cfg.logger}
}

// call is one backend request.
type call struct {
	name   string
	method string
	path   string
	query  url.Values
	body   any
}

// do performs c and returns the envelope's data. A request id present in
// ctx is forwarded.
func (c *Client) do(ctx context.Context, cl call) (json.RawMessage, error) {
	req := c.rest.R().SetContext(ctx)
	if tok, ok := auth.TokenFromContext(ctx); ok {
		req.SetAuthToken(tok)
	} else if c.token != "" {
		req.SetAuthToken(c.token)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		req.SetHeader("X-Request-ID", id)
	}
	if len(cl.query) > 0 {
		req.SetQueryParamsFromValues(cl.query)
	}
	if cl.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(cl.body)
	}

	start := time.Now()
	resp, err := req.Execute(cl.method, cl.path)
	if err != nil {
		obs.ObserveUpstream(cl.name, "transport", time.Since(start))
		c.log.Warn("upstream call failed",
			zap.String("endpoint", cl.name),
			zap.String("method", cl.method),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, cl.method, cl.path, err)
	}

	data, err := unwrap(resp.StatusCode(), resp.Body())
	if err != nil {
		obs.ObserveUpstream(cl.name, "error", time.Since(start))
		c.log.Info("upstream rejected call",
			zap.String("endpoint", cl.name),
			zap.Int("status_code", resp.StatusCode()),
			zap.Error(err),
		)
		return nil, err
	}
	obs.ObserveUpstream(cl.name, "ok", time.Since(start))
	c.log.Debug("upstream call",
		zap.String("endpoint", cl.name),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return data, nil
}

func unwrap(code int, body []byte) (json.RawMessage, error) {
	var env Envelope
	decodeErr := json.Unmarshal(body, &env)
	if code < 200 || code > 299 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(code)
		}
		return nil, &APIError{HTTPStatus: code, Message: msg}
	}
	if decodeErr != nil {
		return nil, &APIError{HTTPStatus: code, Message: "malformed response envelope"}
	}
	if env.Status != StatusSuccess {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return nil, &APIError{HTTPStatus: code, Message: msg}
	}
	return env.Data, nil
}

func (c *Client) into(ctx context.Context, cl call, out any) error {
	data, err := c.do(ctx, cl)
	if err != nil {
		return err
	}
	if out == nil || isNull(data) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{HTTPStatus: http.StatusOK, Message: "unexpected payload for " + cl.name}
	}
	return nil
}

// decodeList accepts a bare array or an {items, totalPages} object.
func decodeList[T any](data json.RawMessage) (listing.Page[T], error) {
	trimmed := bytes.TrimSpace(data)
	if isNull(trimmed) {
		return listing.Page[T]{Items: []T{}, TotalPages: 1}, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return listing.Page[T]{}, err
		}
		return listing.Page[T]{Items: items, TotalPages: 1}, nil
	}
	var page listing.Page[T]
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return listing.Page[T]{}, err
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	if page.TotalPages < 1 {
		page.TotalPages = 1
	}
	return page, nil
}

func isNull(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || string(b) == "null"
}

type requestIDKey struct{}

// ContextWithRequestID stores the id forwarded as X-Request-ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the forwarded request id, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
