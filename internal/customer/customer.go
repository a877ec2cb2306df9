package customer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/fx"

	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/relations"
)

// Model tags the customer type a lookup resolves to.
type Model string

// DefaultModel is the standard relation customer.
const DefaultModel Model = "customer"

// Identity is anything that can be authenticated and owns signups.
type Identity interface {
	AuthIdentifier() string
}

// Customer is a relation customer backed by its raw payload.
type Customer struct {
	model  Model
	fields payload.Fields
}

// New wraps fields as a customer of the given model.
func New(model Model, fields payload.Fields) *Customer {
	if model == "" {
		model = DefaultModel
	}
	return &Customer{model: model, fields: fields}
}

// Ref is a customer known only by id.
func Ref(id string) *Customer {
	return New(DefaultModel, payload.Fields{"id": id})
}

// AuthIdentifier returns the customer id.
func (c *Customer) AuthIdentifier() string { return payload.ID(c.fields["id"]) }

func (c *Customer) Model() Model { return c.model }

func (c *Customer) Mail() string { return c.fields.String("mail") }

// Name joins first and last name.
func (c *Customer) Name() string {
	return strings.TrimSpace(c.fields.String("firstname") + " " + c.fields.String("surname"))
}

// Lookup finds customers. Absence is reported as (nil, nil).
type Lookup interface {
	Find(ctx context.Context, model Model, id string) (Identity, error)
}

// Module provides the customer lookup to Fx.
var Module = fx.Provide(
	fx.Annotate(NewLookup, fx.As(new(Lookup))),
)

// APILookup resolves customers through the relation API.
type APILookup struct {
	client    relations.Client
	endpoints map[Model]string
}

// NewAPILookup constructs an APILookup.
func NewAPILookup(client relations.Client) *APILookup {
	return &APILookup{
		client: client,
		endpoints: map[Model]string{
			DefaultModel: "relations/customers/customer/%s",
		},
	}
}

// NewLookup builds an APILookup with the model endpoints from configuration.
func NewLookup(cfg config.Config, client relations.Client) *APILookup {
	l := NewAPILookup(client)
	for model, endpoint := range cfg.Relations.CustomerEndpoints {
		l.Register(Model(model), endpoint)
	}
	return l
}

// Register binds model to an endpoint format taking the escaped id.
func (l *APILookup) Register(model Model, endpoint string) {
	l.endpoints[model] = endpoint
}

// Find fetches the customer with id.
func (l *APILookup) Find(ctx context.Context, model Model, id string) (Identity, error) {
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
	if err != nil || raw == nil {
		return nil, err
	}
	fields, err := payload.Decode(raw)
	if err != nil {
		return nil, err
	}
	return New(model, fields), nil
}
