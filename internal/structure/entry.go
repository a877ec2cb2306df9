package structure

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/fx"

	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/relations"
)

// Model tags the kind of structural entry a lookup resolves to.
type Model string

// DefaultModel is the generic structure entry.
const DefaultModel Model = "entry"

// Entry is a structural entry owned by the CMS.
type Entry interface {
	ID() string
	Model() Model
}

// Record is the generic Entry backed by its raw API payload.
type Record struct {
	model  Model
	fields payload.Fields
}

// NewRecord wraps fields as an entry of the given model.
func NewRecord(model Model, fields payload.Fields) *Record {
	if model == "" {
		model = DefaultModel
	}
	return &Record{model: model, fields: fields}
}

// Ref is an entry known only by id, for calls that never read its fields.
func Ref(model Model, id string) *Record {
	return NewRecord(model, payload.Fields{"id": id})
}

func (r *Record) ID() string { return payload.ID(r.fields["id"]) }

func (r *Record) Model() Model { return r.model }

func (r *Record) Name() string { return r.fields.String("name") }

// Fields exposes the raw entry payload.
func (r *Record) Fields() payload.Fields { return r.fields }

// Lookup force-finds entries. Absence is reported as (nil, nil).
type Lookup interface {
	ForceFind(ctx context.Context, model Model, id string) (Entry, error)
}

// Module provides the entry lookup to Fx.
var Module = fx.Provide(
	fx.Annotate(NewLookup, fx.As(new(Lookup))),
)

// APILookup resolves entries through the relation API. Models map to their
// own endpoint; unknown models use the generic structure endpoint.
type APILookup struct {
	client    relations.Client
	endpoints map[Model]string
}

// NewAPILookup constructs an APILookup with the generic endpoint registered.
func NewAPILookup(client relations.Client) *APILookup {
	return &APILookup{
		client: client,
		endpoints: map[Model]string{
			DefaultModel: "builder/structures/entry/%s/basic",
		},
	}
}

// NewLookup builds an APILookup with the model endpoints from configuration.
func NewLookup(cfg config.Config, client relations.Client) *APILookup {
	l := NewAPILookup(client)
	for model, endpoint := range cfg.Relations.EntryEndpoints {
		l.Register(Model(model), endpoint)
	}
	return l
}

// Register binds model to an endpoint format taking the escaped id.
func (l *APILookup) Register(model Model, endpoint string) {
	l.endpoints[model] = endpoint
}

// ForceFind fetches the entry with id, tagging it with model.
func (l *APILookup) ForceFind(ctx context.Context, model Model, id string) (Entry, error) {
	if id == "" {
		return nil, nil
	}
	if model == "" {
		model = DefaultModel
	}
	endpoint, ok := l.endpoints[model]
	if !ok {
		endpoint = l.endpoints[DefaultModel]
	}

	raw, err := l.client.Get(ctx, fmt.Sprintf(endpoint, url.PathEscape(id)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	fields, err := payload.Decode(raw)
	if err != nil {
		return nil, err
	}
	return NewRecord(model, fields), nil
}
