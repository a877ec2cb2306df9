package signup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/structure"
)

type accessor func(ctx context.Context, s *Signup) (any, error)

// computed lists the derived attributes, consulted before the raw payload.
var computed = map[string]accessor{
	"phone_countrycode": func(_ context.Context, s *Signup) (any, error) {
		if code, ok := s.PhoneCountryCode(); ok {
			return code, nil
		}
		return nil, nil
	},
	"entry": func(ctx context.Context, s *Signup) (any, error) {
		entry, err := s.Entry(ctx)
		if err != nil || entry == nil {
			return nil, err
		}
		return entry, nil
	},
	"customer": func(ctx context.Context, s *Signup) (any, error) {
		identity, err := s.Customer(ctx)
		if err != nil || identity == nil {
			return nil, err
		}
		return identity, nil
	},
	"order": func(ctx context.Context, s *Signup) (any, error) {
		order, err := s.Order(ctx)
		if err != nil || order == nil {
			return nil, err
		}
		return order, nil
	},
	"name": func(_ context.Context, s *Signup) (any, error) {
		return s.Name(), nil
	},
}

// Computed reports whether name is a derived attribute.
func Computed(name string) bool {
	_, ok := computed[name]
	return ok
}

// Attr resolves name against the computed attributes, then the top-level
// payload, then the nested data object. It never fails: faults and absent
// values read as nil.
func (s *Signup) Attr(ctx context.Context, name string) any {
	return tryOr(func() (any, error) {
		if fn, ok := computed[name]; ok {
			return fn(ctx, s)
		}
		return s.lookupRaw(name), nil
	}, nil, func(err error) {
		s.logger().Debug("signup attribute read failed",
			zap.String("attribute", name),
			zap.String("signup.id", s.ID()),
			zap.Error(err),
		)
	})
}

func (s *Signup) lookupRaw(name string) any {
	if v, ok := s.fields.Lookup(name); ok {
		return v
	}
	if data, ok := s.fields.Object("data"); ok {
		if v, ok := data.Lookup(name); ok {
			return v
		}
	}
	return nil
}

// Name joins firstname and surname.
func (s *Signup) Name() string {
	return strings.TrimSpace(s.fields.String("firstname") + " " + s.fields.String("surname"))
}

// Entry force-finds the owning entry using the configured entry model.
func (s *Signup) Entry(ctx context.Context) (structure.Entry, error) {
	if s.resolvers == nil || s.resolvers.Entries == nil {
		return nil, nil
	}
	return s.resolvers.Entries.ForceFind(ctx, s.entryModel, s.EntryID())
}

// Customer finds the owning customer using the configured customer model.
func (s *Signup) Customer(ctx context.Context) (customer.Identity, error) {
	if s.resolvers == nil || s.resolvers.Customers == nil {
		return nil, nil
	}
	return s.resolvers.Customers.Find(ctx, s.customerModel, s.CustomerID())
}

// Order retrieves the order the signup was placed through. The order id is
// read like any attribute, so one stored under data is found too.
func (s *Signup) Order(ctx context.Context) (commerce.Order, error) {
	if s.resolvers == nil || s.resolvers.Orders == nil {
		return nil, nil
	}
	return s.resolvers.Orders.Retrieve(ctx, payload.ID(s.lookupRaw("order_id")))
}

// tryOr runs fn and returns fallback if it errors or panics. onFault, when
// set, observes the swallowed error.
func tryOr[T any](fn func() (T, error), fallback T, onFault func(error)) (result T) {
	defer func() {
		if r := recover(); r != nil {
			if onFault != nil {
				onFault(fmt.Errorf("panic: %v", r))
			}
			result = fallback
		}
	}()

	v, err := fn()
	if err != nil {
		if onFault != nil {
			onFault(err)
		}
		return fallback
	}
	return v
}
