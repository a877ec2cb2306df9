package signup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/relations"
	"github.com/Additional-Code/signups/internal/structure"
)

const basePath = "relations/signups"

var (
	// ErrMissingSignupID is returned when a signup id is required but absent.
	ErrMissingSignupID = errors.New("signup id missing")
	// ErrDetached is returned when a remote call is made on a signup built without collaborators.
	ErrDetached = errors.New("signup has no relation client")
)

// Resolvers bundles the collaborators a signup resolves its relations through.
type Resolvers struct {
	Client    relations.Client
	Entries   structure.Lookup
	Customers customer.Lookup
	Orders    commerce.Retriever
	Phone     PhoneDefaults
	Logger    *zap.Logger
}

// Signup wraps a raw signup payload from the relation API.
//
// The payload is never mutated. Reads go through Attr or the typed accessors,
// relations are resolved on every call.
type Signup struct {
	raw           json.RawMessage
	fields        payload.Fields
	entryModel    structure.Model
	customerModel customer.Model
	resolvers     *Resolvers
}

// Option customises a Signup at construction.
type Option func(*Signup)

// WithEntryModel sets the model entry_id resolves to.
func WithEntryModel(model structure.Model) Option {
	return func(s *Signup) {
		if model != "" {
			s.entryModel = model
		}
	}
}

// WithCustomerModel sets the model customer_id resolves to.
func WithCustomerModel(model customer.Model) Option {
	return func(s *Signup) {
		if model != "" {
			s.customerModel = model
		}
	}
}

// WithResolvers attaches the collaborators used for relation lookups and deletion.
func WithResolvers(r *Resolvers) Option {
	return func(s *Signup) {
		s.resolvers = r
	}
}

// New wraps raw. Absent or malformed payloads produce a signup whose
// attributes all read as nil.
func New(raw json.RawMessage, opts ...Option) *Signup {
	s := &Signup{
		entryModel:    structure.DefaultModel,
		customerModel: customer.DefaultModel,
		fields:        payload.Fields{},
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		s.raw = append(json.RawMessage(nil), trimmed...)
		if fields, err := payload.Decode(trimmed); err == nil {
			s.fields = fields
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromFields wraps an already decoded payload.
func FromFields(fields map[string]any, opts ...Option) (*Signup, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return New(raw, opts...), nil
}

// ID returns the signup id.
func (s *Signup) ID() string { return payload.ID(s.fields["id"]) }

// Code returns the human-facing signup code.
func (s *Signup) Code() string { return s.fields.String("code") }

// EntryID returns the id of the owning structural entry.
func (s *Signup) EntryID() string { return payload.ID(s.fields["entry_id"]) }

// CustomerID returns the id of the owning customer.
func (s *Signup) CustomerID() string { return payload.ID(s.fields["customer_id"]) }

// OrderID returns the id of the owning order.
func (s *Signup) OrderID() string { return payload.ID(s.fields["order_id"]) }

// EntryModel reports which entry model entry_id resolves to.
func (s *Signup) EntryModel() structure.Model { return s.entryModel }

// CustomerModel reports which customer model customer_id resolves to.
func (s *Signup) CustomerModel() customer.Model { return s.customerModel }

// Raw returns a copy of the payload as received.
func (s *Signup) Raw() json.RawMessage {
	if s.raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), s.raw...)
}

// MarshalJSON emits the raw payload unchanged.
func (s *Signup) MarshalJSON() ([]byte, error) {
	if s == nil || s.raw == nil {
		return []byte("null"), nil
	}
	return s.Raw(), nil
}

// ToJSON is MarshalJSON without the error for callers that only log or print.
func (s *Signup) ToJSON() string {
	b, _ := s.MarshalJSON()
	return string(b)
}

// Delete removes the signup remotely and returns the API acknowledgement.
func (s *Signup) Delete(ctx context.Context) (json.RawMessage, error) {
	if s.resolvers == nil || s.resolvers.Client == nil {
		return nil, ErrDetached
	}
	id := s.ID()
	if id == "" {
		return nil, ErrMissingSignupID
	}
	return s.resolvers.Client.Delete(ctx, basePath+"/"+url.PathEscape(id))
}

func (s *Signup) logger() *zap.Logger {
	if s.resolvers == nil || s.resolvers.Logger == nil {
		return zap.NewNop()
	}
	return s.resolvers.Logger
}
