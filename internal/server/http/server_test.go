package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/pkg/errorbank"
)

func newTestEcho() *echo.Echo {
	cfg := config.Config{Observability: config.Observability{ServiceName: "signups"}}
	return NewEcho(cfg, nil, zap.NewNop())
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(newTestEcho(), http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"signups"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestErrorHandlerUsesEnvelope(t *testing.T) {
	e := newTestEcho()
	e.GET("/boom", func(c echo.Context) error {
		return errorbank.Upstream("relations unavailable")
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("kaboom")
	})

	tests := []struct {
		target string
		status int
		kind   string
	}{
		{target: "/missing", status: http.StatusNotFound, kind: "not_found"},
		{target: "/boom", status: http.StatusBadGateway, kind: "upstream"},
		{target: "/panic", status: http.StatusInternalServerError, kind: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(e, http.MethodGet, tt.target)
			require.Equal(t, tt.status, rec.Code)

			var body struct {
				Success bool `json:"success"`
				Error   struct {
					Kind string `json:"kind"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.kind, body.Error.Kind)
		})
	}
}
