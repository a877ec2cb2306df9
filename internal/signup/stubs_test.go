package signup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/search"
	"github.com/Additional-Code/signups/internal/structure"
)

type postCall struct {
	path string
	body any
}

// stubAPI serves canned payloads per path. A path mapped to nil is absent.
type stubAPI struct {
	mu      sync.Mutex
	gets    map[string]json.RawMessage
	getErr  map[string]error
	postRes json.RawMessage
	postErr error
	posts   []postCall
	deletes []string
	calls   []string
}

func newStubAPI() *stubAPI {
	return &stubAPI{gets: map[string]json.RawMessage{}, getErr: map[string]error{}}
}

func (s *stubAPI) Get(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, path)
	if err := s.getErr[path]; err != nil {
		return nil, err
	}
	return s.gets[path], nil
}

func (s *stubAPI) Post(_ context.Context, path string, body any) (json.RawMessage, error) {
	s.posts = append(s.posts, postCall{path: path, body: body})
	return s.postRes, s.postErr
}

func (s *stubAPI) Delete(_ context.Context, path string) (json.RawMessage, error) {
	s.deletes = append(s.deletes, path)
	return json.RawMessage(`{"deleted":true}`), nil
}

type stubSearch struct {
	result  *search.Result
	err     error
	queries []*search.Query
}

func (s *stubSearch) Fetch(_ context.Context, q *search.Query) (*search.Result, error) {
	s.queries = append(s.queries, q)
	return s.result, s.err
}

type entryKey struct {
	model structure.Model
	id    string
}

type stubEntries struct {
	mu      sync.Mutex
	known   map[string]bool
	err     error
	lookups []entryKey
}

func (s *stubEntries) ForceFind(_ context.Context, model structure.Model, id string) (structure.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, entryKey{model: model, id: id})
	if s.err != nil {
		return nil, s.err
	}
	if !s.known[id] {
		return nil, nil
	}
	return structure.NewRecord(model, payload.Fields{"id": json.Number(id)}), nil
}

type stubCustomers struct {
	err    error
	models []customer.Model
}

func (s *stubCustomers) Find(_ context.Context, model customer.Model, id string) (customer.Identity, error) {
	s.models = append(s.models, model)
	if s.err != nil {
		return nil, s.err
	}
	if id == "" {
		return nil, nil
	}
	return customer.New(model, payload.Fields{"id": json.Number(id)}), nil
}

type stubOrders struct {
	err error
}

func (s stubOrders) Retrieve(_ context.Context, orderID string) (commerce.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	if orderID == "" {
		return nil, nil
	}
	return commerce.NewRecord(payload.Fields{"id": json.Number(orderID)}), nil
}

type identity string

func (i identity) AuthIdentifier() string { return string(i) }

type order string

func (o order) OrderID() string { return string(o) }

var errTransient = errors.New("transient")

type fixture struct {
	api       *stubAPI
	search    *stubSearch
	entries   *stubEntries
	customers *stubCustomers
	finder    *Finder
}

func newFixture() *fixture {
	fix := &fixture{
		api:       newStubAPI(),
		search:    &stubSearch{result: &search.Result{}},
		entries:   &stubEntries{known: map[string]bool{}},
		customers: &stubCustomers{},
	}
	fix.finder = NewFinder(Params{
		Client:    fix.api,
		Search:    fix.search,
		Entries:   fix.entries,
		Customers: fix.customers,
		Orders:    stubOrders{},
		Config:    config.Config{Phone: config.Phone{DefaultRegion: "NO", DefaultCountryCode: "47"}},
	})
	return fix
}
