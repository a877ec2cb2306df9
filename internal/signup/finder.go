package signup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/relations"
	"github.com/Additional-Code/signups/internal/search"
	"github.com/Additional-Code/signups/internal/structure"
)

var finderTracer = otel.Tracer("github.com/Additional-Code/signups/signup")

const (
	// SearchRelation is the relation type signups are indexed under.
	SearchRelation = "signup"
	// QueryLimit caps free-text query results.
	QueryLimit = 1000

	entryLookupConcurrency = 8
)

// ErrNilOwner is returned when an owning entry, order or identity is nil.
var ErrNilOwner = errors.New("owner is required")

// Finder fetches signups from the relation API and search backend.
type Finder struct {
	resolvers *Resolvers
	search    search.Backend
}

// Params defines dependencies for constructing Finder.
type Params struct {
	fx.In

	Client    relations.Client
	Search    search.Backend
	Entries   structure.Lookup
	Customers customer.Lookup
	Orders    commerce.Retriever
	Config    config.Config
	Logger    *zap.Logger
}

// Module provides the signup finder to Fx.
var Module = fx.Provide(NewFinder)

// NewFinder wires a Finder.
func NewFinder(p Params) *Finder {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{
		resolvers: &Resolvers{
			Client:    p.Client,
			Entries:   p.Entries,
			Customers: p.Customers,
			Orders:    p.Orders,
			Phone: PhoneDefaults{
				Region:      p.Config.Phone.DefaultRegion,
				CountryCode: p.Config.Phone.DefaultCountryCode,
			},
			Logger: logger.Named("signup"),
		},
		search: p.Search,
	}
}

// Wrap builds a signup around a caller-supplied payload using the finder's collaborators.
func (f *Finder) Wrap(raw json.RawMessage, opts ...Option) *Signup {
	return New(raw, append([]Option{WithResolvers(f.resolvers)}, opts...)...)
}

// Find fetches a signup by id. An absent signup, or an empty list in its
// place, yields (nil, nil).
func (f *Finder) Find(ctx context.Context, id string) (*Signup, error) {
	ctx, span := finderTracer.Start(ctx, "SignupFinder.Find", trace.WithAttributes(attribute.String("signup.id", id)))
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	raw, err := f.get(ctx, span, basePath+"/"+url.PathEscape(id))
	if err != nil || raw == nil || isEmptyList(raw) {
		return nil, err
	}
	return f.Wrap(raw), nil
}

// Resolve fetches a signup by its code. Unlike Find it always returns a
// signup, wrapping an empty payload when the API has nothing for code.
func (f *Finder) Resolve(ctx context.Context, code string) (*Signup, error) {
	ctx, span := finderTracer.Start(ctx, "SignupFinder.Resolve", trace.WithAttributes(attribute.String("signup.code", code)))
	defer span.End()

	raw, err := f.get(ctx, span, basePath+"/code/"+url.PathEscape(code))
	if err != nil {
		return nil, err
	}
	return f.Wrap(raw), nil
}

// All fetches every signup in backend order. A non-nil owner propagates its
// entry model to the returned signups.
func (f *Finder) All(ctx context.Context, owner structure.Entry) ([]*Signup, error) {
	ctx, span := finderTracer.Start(ctx, "SignupFinder.All")
	defer span.End()

	var opts []Option
	if owner != nil {
		opts = append(opts, WithEntryModel(owner.Model()))
	}
	return f.list(ctx, span, basePath, opts...)
}

// ForEntry fetches the signups of entry. Each signup resolves its entry with entry's model.
func (f *Finder) ForEntry(ctx context.Context, entry structure.Entry) ([]*Signup, error) {
	if entry == nil {
		return nil, ErrNilOwner
	}
	ctx, span := finderTracer.Start(ctx, "SignupFinder.ForEntry", trace.WithAttributes(
		attribute.String("entry.id", entry.ID()),
		attribute.String("entry.model", string(entry.Model())),
	))
	defer span.End()

	return f.list(ctx, span, basePath+"/entry/"+url.PathEscape(entry.ID()), WithEntryModel(entry.Model()))
}

// ForOrder fetches the signups placed through order.
func (f *Finder) ForOrder(ctx context.Context, order commerce.Order) ([]*Signup, error) {
	if order == nil {
		return nil, ErrNilOwner
	}
	ctx, span := finderTracer.Start(ctx, "SignupFinder.ForOrder", trace.WithAttributes(attribute.String("order.id", order.OrderID())))
	defer span.End()

	return f.list(ctx, span, basePath+"/order/"+url.PathEscape(order.OrderID()))
}

// CountForEntry returns how many signups entry has, 0 when the API reports nothing.
func (f *Finder) CountForEntry(ctx context.Context, entry structure.Entry) (int, error) {
	if entry == nil {
		return 0, ErrNilOwner
	}
	ctx, span := finderTracer.Start(ctx, "SignupFinder.CountForEntry", trace.WithAttributes(attribute.String("entry.id", entry.ID())))
	defer span.End()

	raw, err := f.get(ctx, span, basePath+"/count/"+url.PathEscape(entry.ID()))
	if err != nil || raw == nil {
		return 0, err
	}
	count, err := decodeCount(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return 0, err
	}
	return count, nil
}

// User fetches the signups of identity, keeping only those whose entry
// still exists. Relative order is preserved.
func (f *Finder) User(ctx context.Context, identity customer.Identity) ([]*Signup, error) {
	if identity == nil {
		return nil, ErrNilOwner
	}
	ctx, span := finderTracer.Start(ctx, "SignupFinder.User", trace.WithAttributes(attribute.String("customer.id", identity.AuthIdentifier())))
	defer span.End()

	signups, err := f.list(ctx, span, basePath+"/customer/"+url.PathEscape(identity.AuthIdentifier()))
	if err != nil {
		return nil, err
	}

	exists := make([]bool, len(signups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(entryLookupConcurrency)
	for i, s := range signups {
		g.Go(func() error {
			entry, err := s.Entry(gctx)
			if err != nil {
				return fmt.Errorf("resolve entry for signup %s: %w", s.ID(), err)
			}
			exists[i] = entry != nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entry lookup failed")
		return nil, err
	}

	kept := make([]*Signup, 0, len(signups))
	for i, s := range signups {
		if exists[i] {
			kept = append(kept, s)
		}
	}
	span.SetAttributes(attribute.Int("signups.dropped", len(signups)-len(kept)))
	return kept, nil
}

// Query runs a raw search over signups, ignoring publishing status and
// capped at QueryLimit hits. No hits yields a nil slice, which callers must
// tell apart from an empty one.
func (f *Finder) Query(ctx context.Context, query string) ([]*Signup, error) {
	ctx, span := finderTracer.Start(ctx, "SignupFinder.Query", trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	if f.search == nil {
		return nil, errors.New("search backend not configured")
	}
	result, err := f.search.Fetch(ctx, search.Relation(SearchRelation).
		IgnorePublishingStatus().
		Limit(QueryLimit).
		Raw(query))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}
	if result == nil || len(result.Data) == 0 {
		return nil, nil
	}

	signups := make([]*Signup, 0, len(result.Data))
	for _, hit := range result.Data {
		signups = append(signups, f.Wrap(hit))
	}
	return signups, nil
}

// Create posts fields to the relation API and returns the freshly fetched signup.
func (f *Finder) Create(ctx context.Context, fields map[string]any) (*Signup, error) {
	ctx, span := finderTracer.Start(ctx, "SignupFinder.Create")
	defer span.End()

	if fields == nil {
		fields = map[string]any{}
	}
	resp, err := f.resolvers.Client.Post(ctx, basePath, fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}

	id := ""
	if resp != nil {
		if decoded, err := payload.Decode(resp); err == nil {
			id = payload.ID(decoded["signup_id"])
		}
	}
	if id == "" {
		span.SetStatus(codes.Error, "missing signup id")
		return nil, fmt.Errorf("create signup: %w", ErrMissingSignupID)
	}
	span.SetAttributes(attribute.String("signup.id", id))

	return f.Find(ctx, id)
}

// CreateForEntry creates a signup attached to entry. fields is not modified.
func (f *Finder) CreateForEntry(ctx context.Context, entry structure.Entry, fields map[string]any) (*Signup, error) {
	if entry == nil {
		return nil, ErrNilOwner
	}
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["entry_id"] = idValue(entry.ID())
	return f.Create(ctx, merged)
}

func (f *Finder) get(ctx context.Context, span trace.Span, path string) (json.RawMessage, error) {
	raw, err := f.resolvers.Client.Get(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relations request failed")
		return nil, err
	}
	return raw, nil
}

func (f *Finder) list(ctx context.Context, span trace.Span, path string, opts ...Option) ([]*Signup, error) {
	raw, err := f.get(ctx, span, path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []*Signup{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("decode signup list: %w", err)
	}

	signups := make([]*Signup, 0, len(items))
	for _, item := range items {
		signups = append(signups, f.Wrap(item, opts...))
	}
	span.SetAttributes(attribute.Int("signups.count", len(signups)))
	return signups, nil
}

func decodeCount(raw json.RawMessage) (int, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("decode signup count: %w", err)
	}
	if obj, ok := v.(map[string]any); ok {
		v = obj["count"]
	}
	s := payload.String(v)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := json.Number(s).Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("decode signup count %q: not an integer", s)
	}
	return int(f), nil
}

func isEmptyList(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "[]"
}

// idValue sends numeric ids as JSON numbers.
func idValue(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}
