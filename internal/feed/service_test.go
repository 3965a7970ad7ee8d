package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/discovery/internal/access"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
	"github.com/jonesrussell/north-cloud/discovery/internal/validity"
)

var t0 = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

type fakeSearcher struct {
	mu    sync.Mutex
	hits  []domain.RawHit
	err   error
	calls atomic.Int32
	scope string
	last  *discovery.QueryDescriptor
}

func (f *fakeSearcher) Search(_ context.Context, scope string, d *discovery.QueryDescriptor) (*domain.SearchResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scope, f.last = scope, d
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SearchResult{Hits: f.hits, TotalHits: int64(len(f.hits))}, nil
}

func (f *fakeSearcher) set(hits []domain.RawHit, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits, f.err = hits, err
}

type fakeScopes map[string]domain.Scope

func (f fakeScopes) ResolveScope(_ context.Context, handle string) (*domain.Scope, error) {
	s, ok := f[handle]
	if !ok {
		return nil, domain.ErrScopeNotFound
	}
	return &s, nil
}

type groupChecker struct {
	mu     sync.Mutex
	groups map[string][]string
	fail   error
}

func (g *groupChecker) AuthorizedGroups(_ context.Context, id string, _ access.Action) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	return g.groups[id], nil
}

func (g *groupChecker) setFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func hit(id string, modified time.Time) domain.RawHit {
	return domain.RawHit{ID: id, Handle: "123456789/" + id, Title: "Item " + id, LastModified: modified}
}

type fixture struct {
	svc      *feed.Service
	searcher *fakeSearcher
	checker  *groupChecker
	clock    *clock
	store    *validity.Store
}

func newFixture(t *testing.T, artifacts validity.ArtifactStore) *fixture {
	t.Helper()

	store, err := validity.NewStore(16)
	require.NoError(t, err)

	f := &fixture{
		searcher: &fakeSearcher{hits: []domain.RawHit{hit("1", t0), hit("2", t0)}},
		checker:  &groupChecker{groups: map[string][]string{"1": {access.AnonymousGroup}, "2": {access.AnonymousGroup}}},
		clock:    &clock{now: t0},
		store:    store,
	}
	f.svc = feed.NewService(feed.Config{CacheTTLHours: 1}, feed.Deps{
		Builder:  discovery.NewBuilder(discovery.IndexSortFields{}),
		Searcher: f.searcher,
		Scopes: fakeScopes{
			"123456789/2": {Handle: "123456789/2", Type: domain.ScopeCollection, Name: "Theses"},
			"123456789/9": {Handle: "123456789/9", Type: domain.ScopeItem, Name: "An item"},
		},
		Filter:    access.NewFilter(f.checker, false),
		Store:     store,
		Artifacts: artifacts,
		Now:       f.clock.Now,
	})
	return f
}

func decode(t *testing.T, body []byte) feed.Payload {
	t.Helper()
	var p feed.Payload
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func TestService_HitWithinWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	first, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheMiss, first.Status)

	f.clock.now = t0.Add(30 * time.Minute)
	second, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheHit, second.Status)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(1), f.searcher.calls.Load())
}

func TestService_RenewsUnchangedContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	first, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)

	f.clock.now = t0.Add(2 * time.Hour)
	renewed, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, feed.CacheRenewed, renewed.Status)
	assert.Equal(t, first.Body, renewed.Body)
	assert.Equal(t, first.Fingerprint, renewed.Fingerprint)
	assert.True(t, renewed.ExpiresAt.Equal(t0.Add(3*time.Hour)))

	f.clock.now = t0.Add(150 * time.Minute)
	hitAgain, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheHit, hitAgain.Status)
	assert.Equal(t, int32(2), f.searcher.calls.Load())
}

func TestService_RegeneratesChangedContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	first, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)

	f.searcher.set([]domain.RawHit{hit("1", t0.Add(time.Hour)), hit("2", t0)}, nil)
	f.clock.now = t0.Add(2 * time.Hour)

	second, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheMiss, second.Status)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestService_ServesStaleWhenSearchUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := feed.Request{Handle: "site", Format: "atom_1.0"}

	first, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)

	f.searcher.set(nil, domain.ErrSearchUnavailable)
	f.clock.now = t0.Add(2 * time.Hour)

	stale, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheStale, stale.Status)
	assert.Equal(t, first.Body, stale.Body)

	_, err = f.svc.Feed(ctx, feed.Request{Handle: "site", Format: "rss_1.0"})
	assert.True(t, errors.Is(err, domain.ErrSearchUnavailable))
}

func TestService_PermissionOutageServesStaleThenRecovers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	first, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	require.Equal(t, feed.CacheMiss, first.Status)
	require.Len(t, decode(t, first.Body).Items, 2)

	f.checker.setFailure(errors.New("connection refused"))
	f.clock.now = t0.Add(25 * time.Hour)

	stale, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheStale, stale.Status)
	assert.Equal(t, first.Body, stale.Body)
	assert.Equal(t, first.Fingerprint, stale.Fingerprint)

	// The outage must not have replaced the entry with a degraded one.
	f.checker.setFailure(nil)
	f.clock.now = t0.Add(25*time.Hour + time.Minute)

	recovered, err := f.svc.Feed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheRenewed, recovered.Status)
	assert.Len(t, decode(t, recovered.Body).Items, 2)
	assert.True(t, recovered.ExpiresAt.Equal(f.clock.now.Add(time.Hour)))
}

func TestService_PermissionOutageWithoutEntryFails(t *testing.T) {
	f := newFixture(t, nil)
	f.checker.setFailure(errors.New("connection refused"))
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	_, err := f.svc.Feed(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPermissionLookupFailed), "got %v", err)

	f.checker.setFailure(nil)
	resp, err := f.svc.Feed(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, feed.CacheMiss, resp.Status)
	assert.Len(t, decode(t, resp.Body).Items, 2)
}

func TestService_Errors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		req  feed.Request
		want error
	}{
		{"unsupported format", feed.Request{Handle: "site", Format: "json"}, domain.ErrUnsupportedFormat},
		{"unknown scope", feed.Request{Handle: "123456789/404", Format: "rss_2.0"}, domain.ErrScopeNotFound},
		{"item scope", feed.Request{Handle: "123456789/9", Format: "rss_2.0"}, domain.ErrNotContainer},
		{"bad page size", feed.Request{
			Handle: "site", Format: "rss_2.0", Discover: true, RawQuery: "rpp=abc",
			Params: url.Values{"rpp": {"abc"}},
		}, domain.ErrInvalidPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Feed(context.Background(), tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestService_RecentFeedDescriptor(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.svc.Feed(context.Background(), feed.Request{Handle: "123456789/2", Format: "rss_2.0"})
	require.NoError(t, err)

	assert.Equal(t, "123456789/2", f.searcher.scope)
	assert.Equal(t, feed.DefaultItemCount, f.searcher.last.MaxResults)
	assert.Equal(t, "dc.date.accessioned_dt", f.searcher.last.SortField)
	assert.Equal(t, discovery.SortDesc, f.searcher.last.SortOrder)

	p := decode(t, resp.Body)
	assert.Equal(t, "Theses", p.Scope.Name)
	assert.Len(t, p.Items, 2)
	assert.Equal(t, resp.Fingerprint, p.Fingerprint)
}

func TestService_TruncatesAndFilters(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.set([]domain.RawHit{
		hit("1", t0), hit("restricted", t0), hit("2", t0), hit("3", t0), hit("4", t0), hit("5", t0),
	}, nil)

	resp, err := f.svc.Feed(context.Background(), feed.Request{Handle: "site", Format: "rss_2.0"})
	require.NoError(t, err)

	p := decode(t, resp.Body)
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ID)
	}
	// Four hits survive truncation; only the anonymous-readable ones remain.
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Empty(t, f.searcher.scope)
}

func TestService_DiscoverKeysDifferByQuery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := feed.Request{Handle: "site", Format: "rss_2.0", Discover: true, RawQuery: "query=a", Params: url.Values{"query": {"a"}}}
	b := feed.Request{Handle: "site", Format: "rss_2.0", Discover: true, RawQuery: "query=b", Params: url.Values{"query": {"b"}}}

	_, err := f.svc.Feed(ctx, a)
	require.NoError(t, err)
	resp, err := f.svc.Feed(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, feed.CacheMiss, resp.Status)
	assert.Equal(t, int32(2), f.searcher.calls.Load())
	require.NotNil(t, f.searcher.last.Query)
	assert.Equal(t, "b", *f.searcher.last.Query)
}

func TestService_ConcurrentRequestsShareOneSearch(t *testing.T) {
	f := newFixture(t, nil)
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Feed(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.searcher.calls.Load())
}

type cancelAwareSearcher struct {
	*fakeSearcher
}

func (c cancelAwareSearcher) Search(ctx context.Context, scope string, d *discovery.QueryDescriptor) (*domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeSearcher.Search(ctx, scope, d)
}

func TestService_CancelledCallerDoesNotCancelSharedSearch(t *testing.T) {
	store, err := validity.NewStore(16)
	require.NoError(t, err)
	searcher := &fakeSearcher{hits: []domain.RawHit{hit("1", t0)}}
	svc := feed.NewService(feed.Config{CacheTTLHours: 1}, feed.Deps{
		Builder:  discovery.NewBuilder(discovery.IndexSortFields{}),
		Searcher: cancelAwareSearcher{searcher},
		Filter:   access.NewFilter(&groupChecker{groups: map[string][]string{"1": {access.AnonymousGroup}}}, false),
		Store:    store,
		Now:      func() time.Time { return t0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := svc.Feed(ctx, feed.Request{Handle: "site", Format: "rss_2.0"})
	require.NoError(t, err)
	assert.Equal(t, feed.CacheMiss, resp.Status)
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestService_RestoresFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	artifacts := validity.NewRedisArtifactStore(client, time.Hour, 0)

	ctx := context.Background()
	req := feed.Request{Handle: "site", Format: "rss_2.0"}

	first := newFixture(t, artifacts)
	want, err := first.svc.Feed(ctx, req)
	require.NoError(t, err)

	// A second process sharing the same Redis starts with an empty store.
	second := newFixture(t, artifacts)
	got, err := second.svc.Feed(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, feed.CacheHit, got.Status)
	assert.Equal(t, want.Body, got.Body)
	assert.Zero(t, second.searcher.calls.Load())

	n, err := second.svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, second.store.Len())
	assert.False(t, mr.Exists("discovery:feed:"+req.Key().Hash()))
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		path     string
		handle   string
		discover bool
	}{
		{"site", "site", false},
		{"/123456789/2", "123456789/2", false},
		{"123456789/2/discover", "123456789/2", true},
		{"discover", "site", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			h, d := feed.ParseHandle(tt.path)
			assert.Equal(t, tt.handle, h)
			assert.Equal(t, tt.discover, d)
		})
	}
}

func TestRequestKey(t *testing.T) {
	recent := feed.Request{Handle: "123456789/2", Format: "rss_2.0"}
	disc := feed.Request{Handle: "123456789/2", Format: "rss_2.0", Discover: true, RawQuery: "query=x"}

	assert.Equal(t, "123456789/2", recent.Key().Handle)
	assert.Equal(t, "123456789/2/discover/query=x", disc.Key().Handle)
	assert.Equal(t, "site", feed.Request{Format: "rss_2.0"}.Key().Handle)
}
