package dto

import (
	"encoding/json"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/structure"
)

// SignupView is a signup rendered alongside its computed attributes.
type SignupView struct {
	Signup   json.Marshaler     `json:"signup"`
	Computed ComputedAttributes `json:"computed"`
}

// ComputedAttributes holds values derived from a signup payload. They are
// never part of the signup's own serialization.
type ComputedAttributes struct {
	Name             string `json:"name"`
	PhoneCountryCode any    `json:"phone_countrycode"`
	EntryExists      bool   `json:"entry_exists"`
}

// CountResponse carries a signup count for an entry.
type CountResponse struct {
	EntryID string `json:"entry_id"`
	Count   int    `json:"count"`
}

// AttributeResponse carries a single resolved attribute.
type AttributeResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// EntryRef is how a resolved entry is exposed.
type EntryRef struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Name  string `json:"name,omitempty"`
}

// IdentityRef is how a resolved customer is exposed.
type IdentityRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// OrderRef is how a resolved order is exposed.
type OrderRef struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type named interface{ Name() string }

// AttributeValue converts resolved relations into transport shapes. Plain
// payload values pass through unchanged.
func AttributeValue(v any) any {
	switch t := v.(type) {
	case structure.Entry:
		ref := EntryRef{ID: t.ID(), Model: string(t.Model())}
		if n, ok := t.(named); ok {
			ref.Name = n.Name()
		}
		return ref
	case customer.Identity:
		ref := IdentityRef{ID: t.AuthIdentifier()}
		if n, ok := t.(named); ok {
			ref.Name = n.Name()
		}
		return ref
	case commerce.Order:
		ref := OrderRef{ID: t.OrderID()}
		if s, ok := t.(interface{ Status() string }); ok {
			ref.Status = s.Status()
		}
		return ref
	default:
		return v
	}
}
