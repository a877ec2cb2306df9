package signup

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/relations"
	"github.com/Additional-Code/signups/internal/search"
	service "github.com/Additional-Code/signups/internal/service/signup"
	"github.com/Additional-Code/signups/internal/signup"
	"github.com/Additional-Code/signups/internal/structure"
)

const ada = `{"id":12,"entry_id":9,"code":"abc","firstname":"Ada","surname":"Lovelace","phone":"+4798765432","data":{"tshirt":"M"}}`

// fakeAPI mimics the relation API. Unknown routes answer 404.
type fakeAPI struct {
	routes map[string]string
	posted []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/v1")
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		f.posted = append(f.posted, string(body))
	}
	if key == "GET /relations/signups/500" {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	body, ok := f.routes[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func newServer(t *testing.T) (*echo.Echo, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{routes: map[string]string{
		"GET /relations/signups":                `[` + ada + `,{"id":13}]`,
		"GET /relations/signups/12":             ada,
		"DELETE /relations/signups/12":          `{"deleted":true}`,
		"GET /relations/signups/code/abc":       ada,
		"GET /relations/signups/entry/9":        `[` + ada + `]`,
		"GET /relations/signups/count/9":        `3`,
		"GET /relations/signups/order/44":       `[` + ada + `]`,
		"GET /relations/signups/customer/8":     `[` + ada + `,{"id":14,"entry_id":77}]`,
		"GET /builder/structures/entry/9/basic": `{"id":9,"name":"Spring run"}`,
		"POST /relations/signups":               `{"signup_id":12}`,
		"GET /search":                           `{"total":0,"data":[]}`,
	}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		Relations: config.Relations{BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second},
		Search:    config.Search{Path: "search", MaxResults: 1000},
		Phone:     config.Phone{DefaultRegion: "NO", DefaultCountryCode: "47"},
	}
	client, err := relations.NewHTTPClient(cfg.Relations, nil)
	require.NoError(t, err)

	finder := signup.NewFinder(signup.Params{
		Client:    client,
		Search:    search.NewBackend(cfg, client),
		Entries:   structure.NewAPILookup(client),
		Customers: customer.NewAPILookup(client),
		Orders:    commerce.NewAPIRetriever(client),
		Config:    cfg,
	})
	svc := service.NewService(service.Params{Finder: finder, Config: cfg})

	e := echo.New()
	Register(e, NewHandler(svc))
	return e, api
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Error   struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestGetSignup(t *testing.T) {
	e, _ := newServer(t)

	status, env := do(t, e, http.MethodGet, "/signups/12", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, ada, string(env.Data), "payload is passed through untouched")

	status, env = do(t, e, http.MethodGet, "/signups/99", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Error.Kind)

	status, env = do(t, e, http.MethodGet, "/signups/500", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream", env.Error.Kind)
}

func TestGetSignupComputed(t *testing.T) {
	e, _ := newServer(t)

	status, env := do(t, e, http.MethodGet, "/signups/12?expand=computed", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{
		"signup": `+ada+`,
		"computed": {"name":"Ada Lovelace","phone_countrycode":"47","entry_exists":true}
	}`, string(env.Data))
}

func TestAttribute(t *testing.T) {
	e, _ := newServer(t)

	tests := []struct {
		name string
		want string
	}{
		{name: "tshirt", want: `{"name":"tshirt","value":"M"}`},
		{name: "name", want: `{"name":"name","value":"Ada Lovelace"}`},
		{name: "entry", want: `{"name":"entry","value":{"id":"9","model":"entry","name":"Spring run"}}`},
		{name: "shoe_size", want: `{"name":"shoe_size","value":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, e, http.MethodGet, "/signups/12/attributes/"+tt.name, "")
			require.Equal(t, http.StatusOK, status)
			assert.JSONEq(t, tt.want, string(env.Data))
		})
	}
}

func TestListAndScopedLists(t *testing.T) {
	e, _ := newServer(t)

	tests := []struct {
		target string
		count  float64
	}{
		{target: "/signups", count: 2},
		{target: "/entries/9/signups", count: 1},
		{target: "/orders/44/signups", count: 1},
		{target: "/customers/8/signups", count: 1},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			status, env := do(t, e, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.count, env.Meta["count"])
		})
	}
}

func TestCountForEntry(t *testing.T) {
	e, _ := newServer(t)

	status, env := do(t, e, http.MethodGet, "/entries/9/signups/count", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"entry_id":"9","count":3}`, string(env.Data))
}

func TestResolveByCode(t *testing.T) {
	e, _ := newServer(t)

	status, env := do(t, e, http.MethodGet, "/signups/code/abc", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, ada, string(env.Data))

	status, env = do(t, e, http.MethodGet, "/signups/code/unknown", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", string(env.Data))
}

func TestSearchWithoutHits(t *testing.T) {
	e, _ := newServer(t)

	status, env := do(t, e, http.MethodGet, "/signups/search?q=firstname:Nobody", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", string(env.Data))
	assert.Equal(t, float64(0), env.Meta["count"])
}

func TestCreate(t *testing.T) {
	e, api := newServer(t)

	status, env := do(t, e, http.MethodPost, "/signups", `{"firstname":"Ada","amount":10.50}`)
	require.Equal(t, http.StatusCreated, status)
	assert.JSONEq(t, ada, string(env.Data))
	require.Len(t, api.posted, 1)
	assert.JSONEq(t, `{"firstname":"Ada","amount":10.50}`, api.posted[0])

	status, env = do(t, e, http.MethodPost, "/signups", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", env.Error.Kind)
}

func TestCreateForEntry(t *testing.T) {
	e, api := newServer(t)

	status, _ := do(t, e, http.MethodPost, "/entries/9/signups", `{"firstname":"Ada"}`)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, api.posted, 1)
	assert.JSONEq(t, `{"firstname":"Ada","entry_id":9}`, api.posted[0])
}

func TestDelete(t *testing.T) {
	e, _ := newServer(t)

	status, env := do(t, e, http.MethodDelete, "/signups/12", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"deleted":true}`, string(env.Data))

	status, _ = do(t, e, http.MethodDelete, "/signups/99", "")
	assert.Equal(t, http.StatusNotFound, status)
}
