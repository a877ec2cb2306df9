package signup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/messaging"
	"github.com/Additional-Code/signups/internal/relations"
	"github.com/Additional-Code/signups/internal/search"
	"github.com/Additional-Code/signups/internal/signup"
	"github.com/Additional-Code/signups/internal/structure"
	"github.com/Additional-Code/signups/pkg/errorbank"
)

type stubAPI struct {
	gets    map[string]json.RawMessage
	getErr  error
	postRes json.RawMessage
	deletes []string
}

func (s *stubAPI) Get(_ context.Context, path string) (json.RawMessage, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.gets[path], nil
}

func (s *stubAPI) Post(context.Context, string, any) (json.RawMessage, error) {
	return s.postRes, nil
}

func (s *stubAPI) Delete(_ context.Context, path string) (json.RawMessage, error) {
	s.deletes = append(s.deletes, path)
	return json.RawMessage(`{"deleted":true}`), nil
}

type stubSearch struct {
	result *search.Result
}

func (s stubSearch) Fetch(context.Context, *search.Query) (*search.Result, error) {
	return s.result, nil
}

type stubEntries map[string]bool

func (s stubEntries) ForceFind(_ context.Context, model structure.Model, id string) (structure.Entry, error) {
	if !s[id] {
		return nil, nil
	}
	return structure.Ref(model, id), nil
}

type stubCustomers struct{}

func (stubCustomers) Find(context.Context, customer.Model, string) (customer.Identity, error) {
	return nil, nil
}

type stubOrders struct{}

func (stubOrders) Retrieve(context.Context, string) (commerce.Order, error) { return nil, nil }

type recordingPublisher struct {
	messages []messaging.Outbound
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg messaging.Outbound) error {
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *recordingPublisher) Topic() string { return "signups.events" }

type harness struct {
	api       *stubAPI
	entries   stubEntries
	publisher *recordingPublisher
	svc       *Service
}

func newHarness(messagingEnabled bool) *harness {
	h := &harness{
		api:       &stubAPI{gets: map[string]json.RawMessage{}},
		entries:   stubEntries{},
		publisher: &recordingPublisher{},
	}
	cfg := config.Config{
		Phone:     config.Phone{DefaultRegion: "NO", DefaultCountryCode: "47"},
		Messaging: config.Messaging{Enabled: messagingEnabled, Kafka: config.Kafka{Topic: "signups.events"}},
	}
	finder := signup.NewFinder(signup.Params{
		Client:    h.api,
		Search:    stubSearch{result: &search.Result{}},
		Entries:   h.entries,
		Customers: stubCustomers{},
		Orders:    stubOrders{},
		Config:    cfg,
	})
	h.svc = NewService(Params{Finder: finder, Config: cfg, Publisher: h.publisher})
	h.svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestGet(t *testing.T) {
	h := newHarness(false)
	h.api.gets["relations/signups/12"] = json.RawMessage(`{"id":12,"code":"abc"}`)

	found, err := h.svc.Get(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, "abc", found.Code())

	_, err = h.svc.Get(context.Background(), "13")
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))

	_, err = h.svc.Get(context.Background(), "")
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest))
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errorbank.Kind
	}{
		{name: "status", err: &relations.StatusError{Method: http.MethodGet, Path: "relations/signups", StatusCode: http.StatusBadGateway}, kind: errorbank.KindUpstream},
		{name: "unreachable", err: relations.ErrUnreachable, kind: errorbank.KindUpstream},
		{name: "deadline", err: context.DeadlineExceeded, kind: errorbank.KindUpstream},
		{name: "other", err: errors.New("decode"), kind: errorbank.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(false)
			h.api.getErr = tt.err

			_, err := h.svc.List(context.Background())
			require.Error(t, err)
			assert.True(t, errorbank.Is(err, tt.kind))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestView(t *testing.T) {
	h := newHarness(false)
	h.entries["3"] = true
	h.api.gets["relations/signups/12"] = json.RawMessage(`{"id":12,"entry_id":3,"firstname":"Ada","surname":"Lovelace","phone":"+46701234567"}`)

	view, err := h.svc.View(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", view.Computed.Name)
	assert.Equal(t, "46", view.Computed.PhoneCountryCode)
	assert.True(t, view.Computed.EntryExists)

	encoded, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"signup": {"id":12,"entry_id":3,"firstname":"Ada","surname":"Lovelace","phone":"+46701234567"},
		"computed": {"name":"Ada Lovelace","phone_countrycode":"46","entry_exists":true}
	}`, string(encoded))
}

func TestAttribute(t *testing.T) {
	h := newHarness(false)
	h.api.gets["relations/signups/12"] = json.RawMessage(`{"id":12,"data":{"tshirt":"L"}}`)

	value, err := h.svc.Attribute(context.Background(), "12", "tshirt")
	require.NoError(t, err)
	assert.Equal(t, "L", value)

	value, err = h.svc.Attribute(context.Background(), "12", "unknown")
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = h.svc.Attribute(context.Background(), "12", " ")
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest))
}

func TestResolveUnknownCodeStillWraps(t *testing.T) {
	h := newHarness(false)

	resolved, err := h.svc.Resolve(context.Background(), "zzz")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "null", resolved.ToJSON())
}

func TestSearchWithoutHits(t *testing.T) {
	h := newHarness(false)

	hits, err := h.svc.Search(context.Background(), "firstname:Nobody")
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestOwnerScopedLists(t *testing.T) {
	h := newHarness(false)
	h.entries["9"] = true
	h.api.gets["relations/signups/entry/9"] = json.RawMessage(`[{"id":1,"entry_id":9}]`)
	h.api.gets["relations/signups/count/9"] = json.RawMessage(`{"count":1}`)
	h.api.gets["relations/signups/order/44"] = json.RawMessage(`[{"id":2}]`)
	h.api.gets["relations/signups/customer/8"] = json.RawMessage(`[{"id":1,"entry_id":9},{"id":3,"entry_id":10}]`)
	ctx := context.Background()

	entrySignups, err := h.svc.ForEntry(ctx, "event", "9")
	require.NoError(t, err)
	require.Len(t, entrySignups, 1)
	assert.Equal(t, structure.Model("event"), entrySignups[0].EntryModel())

	count, err := h.svc.CountForEntry(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	orderSignups, err := h.svc.ForOrder(ctx, "44")
	require.NoError(t, err)
	require.Len(t, orderSignups, 1)

	customerSignups, err := h.svc.ForCustomer(ctx, "8")
	require.NoError(t, err)
	require.Len(t, customerSignups, 1)
	assert.Equal(t, "1", customerSignups[0].ID())

	for _, call := range []func() error{
		func() error { _, err := h.svc.ForEntry(ctx, "", ""); return err },
		func() error { _, err := h.svc.CountForEntry(ctx, " "); return err },
		func() error { _, err := h.svc.ForOrder(ctx, ""); return err },
		func() error { _, err := h.svc.ForCustomer(ctx, ""); return err },
	} {
		assert.True(t, errorbank.Is(call(), errorbank.KindBadRequest))
	}
}

func TestCreatePublishesEvent(t *testing.T) {
	h := newHarness(true)
	h.api.postRes = json.RawMessage(`{"signup_id":5}`)
	h.api.gets["relations/signups/5"] = json.RawMessage(`{"id":5,"entry_id":9}`)

	created, err := h.svc.CreateForEntry(context.Background(), "", "9", map[string]any{"firstname": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "5", created.ID())

	require.Len(t, h.publisher.messages, 1)
	msg := h.publisher.messages[0]
	assert.Equal(t, "signup-5", string(msg.Key))
	assert.Equal(t, string(EventCreated), msg.Headers[HeaderEventType])

	var event Event
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventCreated, event.Type)
	assert.Equal(t, "5", event.SignupID)
	assert.Equal(t, "9", event.EntryID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestCreateFailures(t *testing.T) {
	t.Run("missing signup id", func(t *testing.T) {
		h := newHarness(true)
		h.api.postRes = json.RawMessage(`{}`)

		_, err := h.svc.Create(context.Background(), nil)
		assert.True(t, errorbank.Is(err, errorbank.KindUpstream))
		assert.ErrorIs(t, err, signup.ErrMissingSignupID)
		assert.Empty(t, h.publisher.messages)
	})

	t.Run("created signup vanished", func(t *testing.T) {
		h := newHarness(true)
		h.api.postRes = json.RawMessage(`{"signup_id":5}`)

		_, err := h.svc.Create(context.Background(), nil)
		assert.True(t, errorbank.Is(err, errorbank.KindUpstream))
		assert.Empty(t, h.publisher.messages)
	})
}

func TestCreateWithMessagingDisabled(t *testing.T) {
	h := newHarness(false)
	h.api.postRes = json.RawMessage(`{"signup_id":5}`)
	h.api.gets["relations/signups/5"] = json.RawMessage(`{"id":5}`)

	_, err := h.svc.Create(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, h.publisher.messages)
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	h := newHarness(true)
	h.publisher.err = errors.New("broker down")
	h.api.postRes = json.RawMessage(`{"signup_id":5}`)
	h.api.gets["relations/signups/5"] = json.RawMessage(`{"id":5}`)

	_, err := h.svc.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, h.publisher.messages, 1)
}

func TestDelete(t *testing.T) {
	h := newHarness(true)
	h.api.gets["relations/signups/12"] = json.RawMessage(`{"id":12,"entry_id":3}`)

	ack, err := h.svc.Delete(context.Background(), "12")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":true}`, string(ack))
	assert.Equal(t, []string{"relations/signups/12"}, h.api.deletes)

	require.Len(t, h.publisher.messages, 1)
	assert.Equal(t, string(EventDeleted), h.publisher.messages[0].Headers[HeaderEventType])

	_, err = h.svc.Delete(context.Background(), "404")
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
	assert.Len(t, h.publisher.messages, 1)
}
