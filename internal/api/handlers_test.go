package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrajwt "github.com/jonesrussell/north-cloud/discovery/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/discovery/internal/access"
	"github.com/jonesrussell/north-cloud/discovery/internal/api"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
)

const secret = "test-secret"

var now = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

type stubSearcher struct {
	result *domain.SearchResult
	err    error
	scope  string
}

func (s *stubSearcher) Search(_ context.Context, scope string, _ *discovery.QueryDescriptor) (*domain.SearchResult, error) {
	s.scope = scope
	return s.result, s.err
}

type stubFeeds struct {
	resp    *feed.Response
	err     error
	req     feed.Request
	flushed int
}

func (s *stubFeeds) Feed(_ context.Context, req feed.Request) (*feed.Response, error) {
	s.req = req
	return s.resp, s.err
}

func (s *stubFeeds) Links(fq string) []feed.Link {
	return feed.Links("", feed.DefaultFormats, fq)
}

func (s *stubFeeds) Flush(context.Context) (int, error) {
	return s.flushed, nil
}

type openGroups struct{}

func (openGroups) AuthorizedGroups(_ context.Context, id string, _ access.Action) ([]string, error) {
	if id == "secret" {
		return []string{"Administrators"}, nil
	}
	return []string{access.AnonymousGroup}, nil
}

func newRouter(searcher *stubSearcher, feeds *stubFeeds) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := api.NewHandler(api.Deps{
		Builder: discovery.NewBuilder(discovery.IndexSortFields{}),
		Discovery: discovery.Configs{Default: discovery.Config{
			DefaultFilterQueries: []string{"withdrawn:false"},
		}},
		Searcher: searcher,
		Filter:   access.NewFilter(openGroups{}, false),
		Feeds:    feeds,
		Now:      func() time.Time { return now },
	})
	api.SetupRoutes(router, h, secret)
	return router
}

func do(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDiscover(t *testing.T) {
	searcher := &stubSearcher{result: &domain.SearchResult{
		Hits:      []domain.RawHit{{ID: "a", Handle: "1/a"}, {ID: "secret", Handle: "1/s"}},
		TotalHits: 2,
	}}
	router := newRouter(searcher, &stubFeeds{})

	w := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/discover?rpp=10&page=3&query=maps&fq=author:smith&scope=1/2", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.DiscoverResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.Query.Start)
	assert.Equal(t, []string{"withdrawn:false", "author:smith"}, resp.Query.FilterQueries)
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, 1, resp.Excluded)
	assert.Equal(t, "1/2", searcher.scope)
}

func TestDiscover_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{"missing rpp", "/api/v1/discover", nil, http.StatusBadRequest, "INVALID_PAGE_SIZE"},
		{"negative rpp", "/api/v1/discover?rpp=-1", nil, http.StatusBadRequest, "INVALID_PAGE_SIZE"},
		{"search down", "/api/v1/discover?rpp=5", domain.ErrSearchUnavailable, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE"},
		{"query rejected", "/api/v1/discover?rpp=5&query=%28", fmt.Errorf("search: %w", domain.ErrInvalidQuery), http.StatusBadRequest, "INVALID_QUERY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &stubSearcher{result: &domain.SearchResult{}, err: tt.err}
			w := do(newRouter(searcher, &stubFeeds{}), httptest.NewRequest(http.MethodGet, tt.target, http.NoBody))

			assert.Equal(t, tt.status, w.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestFeed(t *testing.T) {
	feeds := &stubFeeds{resp: &feed.Response{
		Body:        []byte(`{"items":[]}`),
		Status:      feed.CacheHit,
		Fingerprint: "abc",
		ExpiresAt:   now.Add(time.Hour),
	}}
	router := newRouter(&stubSearcher{}, feeds)

	w := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/feeds/rss_2.0/123456789/2/discover?query=x", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get(api.HeaderCache))
	assert.Equal(t, `"abc"`, w.Header().Get("ETag"))
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())

	assert.Equal(t, "123456789/2", feeds.req.Handle)
	assert.Equal(t, "rss_2.0", feeds.req.Format)
	assert.True(t, feeds.req.Discover)
	assert.Equal(t, "query=x", feeds.req.RawQuery)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feeds/rss_2.0/site", http.NoBody)
	req.Header.Set("If-None-Match", `"abc"`)
	assert.Equal(t, http.StatusNotModified, do(router, req).Code)
}

func TestFeed_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrUnsupportedFormat, http.StatusNotFound},
		{domain.ErrScopeNotFound, http.StatusNotFound},
		{domain.ErrNotContainer, http.StatusNotFound},
		{domain.ErrSearchUnavailable, http.StatusServiceUnavailable},
		{domain.ErrInvalidQuery, http.StatusBadRequest},
		{domain.ErrPermissionLookupFailed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := newRouter(&stubSearcher{}, &stubFeeds{err: tt.err})
			w := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/feeds/rss_2.0/site", http.NoBody))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestFeedLinks(t *testing.T) {
	w := do(newRouter(&stubSearcher{}, &stubFeeds{}), httptest.NewRequest(http.MethodGet, "/api/v1/feed-links?fq=author:smith", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Links []feed.Link `json:"links"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Links, 3)
	assert.Equal(t, "/feed/atom_1.0/site/author:smith", resp.Links[2].URL)
}

func TestDateRange(t *testing.T) {
	router := newRouter(&stubSearcher{}, &stubFeeds{})

	tests := []struct {
		name     string
		query    string
		status   int
		fragment string
		degraded bool
	}{
		{"month window", "time_type=month&time_start=-1&time_end=0", http.StatusOK,
			"time:[2024-02-01T00:00:00Z TO 2024-03-01T00:00:00Z]", false},
		{"malformed start", "time_type=day&time_start=abc&time_end=%2B1", http.StatusOK,
			"time:[2024-03-10T00:00:00Z TO 2024-03-11T00:00:00Z]", true},
		{"unknown granularity", "time_type=week&time_start=0&time_end=1", http.StatusBadRequest, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/daterange?"+tt.query, http.NoBody))
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}

			var resp api.DateRangeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.fragment, resp.Fragment)
			assert.Equal(t, tt.degraded, resp.Degraded)
		})
	}
}

func TestFlushCache_RequiresRole(t *testing.T) {
	router := newRouter(&stubSearcher{}, &stubFeeds{flushed: 3})

	admin, err := infrajwt.Sign(secret, "ops", []string{api.RoleCacheAdmin}, time.Hour)
	require.NoError(t, err)
	reader, err := infrajwt.Sign(secret, "reader", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"missing role", reader, http.StatusForbidden},
		{"admin", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/cache", http.NoBody)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := do(router, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"flushed":3}`, w.Body.String())
			}
		})
	}
}
