package relations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(config.Relations{
		BaseURL: srv.URL + "/v1/",
		Token:   "secret",
		Timeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestHTTPClientGet(t *testing.T) {
	t.Run("returns payload and sends auth", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/relations/signups/10", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"id":10}`)
		})

		payload, err := client.Get(context.Background(), "relations/signups/10")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":10}`, string(payload))
	})

	absent := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"missing"}`)
		},
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		"json null": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, " null\n")
		},
	}
	for name, handler := range absent {
		t.Run(name+" is absent", func(t *testing.T) {
			client := newTestClient(t, handler)
			payload, err := client.Get(context.Background(), "/relations/signups/1")
			require.NoError(t, err)
			assert.Nil(t, payload)
		})
	}

	t.Run("server error is a fault", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		})

		payload, err := client.Get(context.Background(), "relations/signups")
		assert.Nil(t, payload)
		require.Error(t, err)
		assert.True(t, IsStatus(err, http.StatusBadGateway))
		assert.Contains(t, err.Error(), "upstream down")
	})
}

func TestHTTPClientPost(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(7), body["entry_id"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"signup_id":99}`)
	})

	payload, err := client.Post(context.Background(), "relations/signups", map[string]any{"entry_id": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"signup_id":99}`, string(payload))
}

func TestHTTPClientPostNotFoundIsFault(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Post(context.Background(), "relations/signups", map[string]any{})
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestHTTPClientDelete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/relations/signups/5", r.URL.Path)
		_, _ = io.WriteString(w, `{"deleted":true}`)
	})

	ack, err := client.Delete(context.Background(), "relations/signups/5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":true}`, string(ack))
}

func TestHTTPClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := NewHTTPClient(config.Relations{BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "relations/signups")
	require.Error(t, err)
	assert.False(t, IsStatus(err, http.StatusNotFound))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(config.Relations{}, zap.NewNop())
	assert.Error(t, err)
}
