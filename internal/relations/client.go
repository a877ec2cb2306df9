package relations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/config"
)

const instrumentationName = "github.com/Additional-Code/signups/relations"

var clientTracer = otel.Tracer(instrumentationName)

// Client is the remote relation API as seen by the signup core.
//
// Get returns a nil payload and a nil error when the resource is absent
// (404, empty body or a JSON null). Transport failures and other non-2xx
// responses are returned as errors.
type Client interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
}

// ErrUnreachable marks requests that never got a response from the relation API.
var ErrUnreachable = errors.New("relation api unreachable")

// StatusError reports a non-successful response from the relation API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relations %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("relations %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError carrying the given status code.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == status
}

// Module provides the relation API client to Fx.
var Module = fx.Provide(New)

// Option tunes an HTTPClient beyond what config carries.
type Option func(*HTTPClient)

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// HTTPClient talks to the relation API over HTTP with bearer authentication.
type HTTPClient struct {
	baseURL  string
	token    string
	http     *http.Client
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds the relation API client from configuration.
func New(cfg config.Config, logger *zap.Logger) (Client, error) {
	return NewHTTPClient(cfg.Relations, logger)
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(cfg config.Relations, logger *zap.Logger, opts ...Option) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("relations base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("signups_relation_requests_total",
		metric.WithDescription("Relation API requests by method and status class."))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	duration, err := meter.Float64Histogram("signups_relation_request_duration_seconds",
		metric.WithDescription("Relation API request latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	c := &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.Named("relations"),
		requests: requests,
		duration: duration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get fetches path, mapping absence to a nil payload.
func (c *HTTPClient) Get(ctx context.Context, path string) (json.RawMessage, error) {
	payload, err := c.do(ctx, http.MethodGet, path, nil)
	if IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	return payload, err
}

// Post sends body encoded as JSON to path.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode relations payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, encoded)
}

// Delete issues a DELETE against path and returns whatever the API acknowledges with.
func (c *HTTPClient) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	path = strings.TrimLeft(path, "/")
	ctx, span := clientTracer.Start(ctx, "relations."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("relations.path", path),
		))
	defer span.End()

	start := time.Now()
	status := 0
	defer func() {
		attrs := metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status_class", statusClass(status)),
		)
		c.requests.Add(ctx, 1, attrs)
		c.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return nil, fmt.Errorf("build relations request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failed")
		c.logger.Warn("relations request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("relations %s %s: %w: %w", method, path, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body failed")
		return nil, fmt.Errorf("read relations response: %w", err)
	}

	if status < 200 || status > 299 {
		statusErr := &StatusError{Method: method, Path: path, StatusCode: status, Body: truncate(strings.TrimSpace(string(raw)), 512)}
		if status != http.StatusNotFound {
			span.RecordError(statusErr)
			span.SetStatus(codes.Error, http.StatusText(status))
			c.logger.Warn("relations request rejected", zap.String("method", method), zap.String("path", path), zap.Int("status", status))
		}
		return nil, statusErr
	}

	return normalise(raw), nil
}

// normalise maps empty and null bodies to a nil payload.
func normalise(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.RawMessage(trimmed)
}

func statusClass(status int) string {
	if status == 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", status/100)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
