package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(s *Server, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestAuthOnEveryRoute(t *testing.T) {
	src := fixture()
	src.Paper = stubPaper{}
	locked := NewServer(src, 0, "k3y", "", nil)
	open := NewServer(src, 0, "", "", nil)

	paths := []string{
		"/v1/positions",
		"/v1/positions/alpha",
		"/v1/journal/tail",
		"/v1/journal/all?agent=alpha",
		"/v1/journal/day/2026-06-01",
		"/v1/paper/stats",
		"/v1/paper/trades",
	}
	auths := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"not a bearer token", "Basic k3y", http.StatusUnauthorized},
		{"bare key", "k3y", http.StatusUnauthorized},
		{"valid key", "Bearer k3y", http.StatusOK},
	}

	for _, path := range paths {
		for _, a := range auths {
			t.Run(path+"/"+a.name, func(t *testing.T) {
				rr := serve(locked, http.MethodGet, path, a.header)
				assert.Equal(t, a.want, rr.Code)
				if a.want == http.StatusUnauthorized {
					assert.Contains(t, rr.Body.String(), `"error"`)
				}
			})
		}
		t.Run(path+"/no key configured", func(t *testing.T) {
			assert.Equal(t, http.StatusOK, serve(open, http.MethodGet, path, "").Code)
		})
	}

	t.Run("health needs no key", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(locked, http.MethodGet, "/health", "").Code)
	})
}

func TestCORSThroughHandler(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		method     string
		wantOrigin string
		wantCode   int
	}{
		{"configured origin", "https://desk.example.com", http.MethodGet, "https://desk.example.com", http.StatusOK},
		{"default origin", "", http.MethodGet, "*", http.StatusOK},
		{"preflight skips routing", "", http.MethodOptions, "*", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(fixture(), 0, "", tt.origin, nil)
			rr := serve(s, tt.method, "/v1/journal/tail", "")
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			if tt.method == http.MethodOptions {
				assert.Empty(t, rr.Body.String())
			}
		})
	}
}

func TestDayRouteValidatesDate(t *testing.T) {
	s := NewServer(fixture(), 0, "", "", nil)
	tests := []struct {
		date string
		want int
	}{
		{"2026-06-01", http.StatusOK},
		{"2020-02-29", http.StatusOK},
		{"2026-13-01", http.StatusBadRequest},
		{"2026-02-30", http.StatusBadRequest},
		{"2026-6-1", http.StatusBadRequest},
		{"20260601", http.StatusBadRequest},
		{"june", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(s, http.MethodGet, "/v1/journal/day/"+tt.date, "").Code)
		})
	}
}

func TestLimitParsing(t *testing.T) {
	tests := []struct {
		query string
		deflt int
		want  int
	}{
		{"", 100, 100},
		{"?limit=25", 100, 25},
		{"?limit=0", 100, 100},
		{"?limit=-3", 100, 100},
		{"?limit=many", 100, 100},
		{"?limit=5000", 100, maxQueryLimit},
		{"?limit=1", 50, 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/journal/all"+tt.query, nil)
			assert.Equal(t, tt.want, parseLimit(req, tt.deflt))
		})
	}

	src := fixture()
	src.Paper = stubPaper{}
	s := NewServer(src, 0, "", "", nil)
	var trades []any
	require.Equal(t, http.StatusOK, get(t, s, "/v1/paper/trades?limit=nonsense", &trades))
	assert.Len(t, trades, 3, "a bad limit falls back to the default")
}
