package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/relations"
)

var searchTracer = otel.Tracer("github.com/Additional-Code/signups/search")

const publishedFilter = "published:1"

// Query describes a search against one or more relation types.
type Query struct {
	relations        []string
	raw              string
	limit            int
	ignorePublishing bool
}

// Relation starts a query scoped to the given relation type.
func Relation(name string) *Query {
	return &Query{relations: []string{name}}
}

// IgnorePublishingStatus drops the implicit published filter.
func (q *Query) IgnorePublishingStatus() *Query {
	q.ignorePublishing = true
	return q
}

// Limit caps the number of hits returned.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Raw sets a raw query string passed through to the backend.
func (q *Query) Raw(query string) *Query {
	q.raw = strings.TrimSpace(query)
	return q
}

// Relations returns the relation types the query is scoped to.
func (q *Query) Relations() []string {
	return append([]string(nil), q.relations...)
}

// MaxHits returns the configured hit cap, zero meaning backend default.
func (q *Query) MaxHits() int {
	return q.limit
}

// Compile renders the final query string.
func (q *Query) Compile() string {
	raw := q.raw
	if raw == "" {
		raw = "*"
	}
	if q.ignorePublishing {
		return raw
	}
	if raw == "*" {
		return publishedFilter
	}
	return "(" + raw + ") AND " + publishedFilter
}

// Result is a structured search result set.
type Result struct {
	Total int               `json:"total"`
	Data  []json.RawMessage `json:"data"`
}

// Backend executes search queries.
type Backend interface {
	Fetch(ctx context.Context, q *Query) (*Result, error)
}

// Module provides the search backend to Fx.
var Module = fx.Provide(NewBackend)

// HTTPBackend runs searches through the relation API's search endpoint.
type HTTPBackend struct {
	client     relations.Client
	path       string
	maxResults int
}

// NewBackend wires the default backend.
func NewBackend(cfg config.Config, client relations.Client) Backend {
	return NewHTTPBackend(client, cfg.Search.Path, cfg.Search.MaxResults)
}

// NewHTTPBackend constructs an HTTPBackend.
func NewHTTPBackend(client relations.Client, path string, maxResults int) *HTTPBackend {
	if path == "" {
		path = "search"
	}
	return &HTTPBackend{client: client, path: strings.Trim(path, "/"), maxResults: maxResults}
}

// Fetch executes q. An absent response yields an empty result.
func (b *HTTPBackend) Fetch(ctx context.Context, q *Query) (*Result, error) {
	limit := q.MaxHits()
	if b.maxResults > 0 && (limit <= 0 || limit > b.maxResults) {
		limit = b.maxResults
	}

	ctx, span := searchTracer.Start(ctx, "search.Fetch", trace.WithAttributes(
		attribute.StringSlice("search.relations", q.Relations()),
		attribute.Int("search.limit", limit),
	))
	defer span.End()

	params := url.Values{}
	params.Set("relation", strings.Join(q.Relations(), ","))
	params.Set("q", q.Compile())
	if limit > 0 {
		params.Set("size", strconv.Itoa(limit))
	}

	payload, err := b.client.Get(ctx, b.path+"?"+params.Encode())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	result := &Result{}
	if payload == nil {
		return result, nil
	}
	if err := json.Unmarshal(payload, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	span.SetAttributes(attribute.Int("search.hits", len(result.Data)))
	return result, nil
}
