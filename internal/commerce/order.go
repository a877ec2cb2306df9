package commerce

import (
	"context"
	"net/url"

	"go.uber.org/fx"

	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/relations"
)

// Order is the minimal order capability signups rely on.
type Order interface {
	OrderID() string
}

// Record is an order backed by its raw payload.
type Record struct {
	fields payload.Fields
}

// NewRecord wraps an order payload.
func NewRecord(fields payload.Fields) *Record {
	return &Record{fields: fields}
}

// Ref is an order known only by id.
func Ref(orderID string) *Record {
	return NewRecord(payload.Fields{"id": orderID})
}

func (r *Record) OrderID() string { return payload.ID(r.fields["id"]) }

func (r *Record) Status() string { return r.fields.String("status") }

// Retriever loads orders. Absence is reported as (nil, nil).
type Retriever interface {
	Retrieve(ctx context.Context, orderID string) (Order, error)
}

// Module provides the order retriever to Fx.
var Module = fx.Provide(
	fx.Annotate(NewAPIRetriever, fx.As(new(Retriever))),
)

// APIRetriever loads orders from the commerce API.
type APIRetriever struct {
	client relations.Client
}

// NewAPIRetriever constructs an APIRetriever.
func NewAPIRetriever(client relations.Client) *APIRetriever {
	return &APIRetriever{client: client}
}

// Retrieve fetches the order with orderID.
func (r *APIRetriever) Retrieve(ctx context.Context, orderID string) (Order, error) {
	if orderID == "" {
		return nil, nil
	}
	raw, err := r.client.Get(ctx, "commerce/orders/"+url.PathEscape(orderID))
	if err != nil || raw == nil {
		return nil, err
	}
	fields, err := payload.Decode(raw)
	if err != nil {
		return nil, err
	}
	return NewRecord(fields), nil
}
