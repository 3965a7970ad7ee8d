// Package feed assembles syndication feeds from discovery searches and serves
// them from cache while their validity token allows.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	infralogger "github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
	"github.com/jonesrussell/north-cloud/discovery/internal/validity"
)

// SiteHandle means repository-wide.
const SiteHandle = "site"

const discoverSuffix = "/discover"

// CacheStatus says how a response was produced.
type CacheStatus string

const (
	CacheHit     CacheStatus = "HIT"
	CacheRenewed CacheStatus = "RENEWED"
	CacheMiss    CacheStatus = "MISS"
	// CacheStale is an expired artifact served because the search failed.
	CacheStale CacheStatus = "STALE"
)

// Searcher runs a descriptor within a scope; empty scope is repository-wide.
type Searcher interface {
	Search(ctx context.Context, scope string, d *discovery.QueryDescriptor) (*domain.SearchResult, error)
}

// ScopeResolver resolves a handle to its object.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, handle string) (*domain.Scope, error)
}

// ItemFilter removes hits the public may not read.
type ItemFilter interface {
	Apply(ctx context.Context, hits []domain.RawHit) ([]domain.VettedItem, error)
}

// Recorder receives cache outcomes.
type Recorder interface {
	FeedServed(format, result string)
	TokenRenewed()
	CacheSize(n int)
}

// Request identifies one feed.
type Request struct {
	Handle string
	Format string
	// Discover selects a discovery search driven by Params instead of the
	// recent-submissions listing.
	Discover bool
	RawQuery string
	Params   url.Values
}

// ParseHandle splits a feed path such as "123456789/2/discover" into the
// scope handle and the discover flag.
func ParseHandle(path string) (handle string, discover bool) {
	handle = strings.Trim(path, "/")
	if h, ok := strings.CutSuffix(handle, discoverSuffix); ok {
		return h, true
	}
	if handle == "discover" {
		return SiteHandle, true
	}
	return handle, false
}

// Key is the cache key. Discover feeds differ by their query string.
func (r Request) Key() validity.Key {
	handle := r.Handle
	if handle == "" {
		handle = SiteHandle
	}
	if r.Discover {
		handle += discoverSuffix + "/" + r.RawQuery
	}
	return validity.Key{Handle: handle, Format: r.Format}
}

// Payload is the rendered artifact.
type Payload struct {
	Handle      string              `json:"handle"`
	Scope       *domain.Scope       `json:"scope,omitempty"`
	Format      string              `json:"format"`
	Items       []domain.VettedItem `json:"items"`
	Fingerprint string              `json:"fingerprint"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Response is a served feed. Body is shared and must not be modified.
type Response struct {
	Body        []byte
	Status      CacheStatus
	Fingerprint string
	ExpiresAt   time.Time
}

// Service generates and caches feeds.
type Service struct {
	cfg       Config
	ttl       time.Duration
	builder   *discovery.Builder
	discovery discovery.Configs
	searcher  Searcher
	scopes    ScopeResolver
	filter    ItemFilter
	store     *validity.Store
	artifacts validity.ArtifactStore
	recorder  Recorder
	logger    infralogger.Logger
	now       func() time.Time
	group     singleflight.Group
}

// Deps are the collaborators of a Service. Artifacts and Recorder are optional.
type Deps struct {
	Builder   *discovery.Builder
	Discovery discovery.Configs
	Searcher  Searcher
	Scopes    ScopeResolver
	Filter    ItemFilter
	Store     *validity.Store
	Artifacts validity.ArtifactStore
	Recorder  Recorder
	Logger    infralogger.Logger
	Now       func() time.Time
}

// NewService creates a feed service.
func NewService(cfg Config, deps Deps) *Service {
	cfg.SetDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = infralogger.NewNop()
	}
	return &Service{
		cfg:       cfg,
		ttl:       validity.TTLFromHours(cfg.CacheTTLHours),
		builder:   deps.Builder,
		discovery: deps.Discovery,
		searcher:  deps.Searcher,
		scopes:    deps.Scopes,
		filter:    deps.Filter,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		now:       deps.Now,
	}
}

// Formats returns the configured feed formats.
func (s *Service) Formats() []string {
	return s.cfg.Formats
}

// Links returns the feed links of the configured formats.
func (s *Service) Links(filterQuery string) []Link {
	return Links(s.cfg.ContextPath, s.cfg.Formats, filterQuery)
}

// Feed serves the feed for req. Concurrent requests for the same key share
// one computation, which is detached from the cancellation of whichever
// caller started it.
func (s *Service) Feed(ctx context.Context, req Request) (*Response, error) {
	if !slices.Contains(s.cfg.Formats, req.Format) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, req.Format)
	}

	key := req.Key()
	v, err, _ := s.group.Do(key.Hash(), func() (any, error) {
		return s.serve(context.WithoutCancel(ctx), req, key)
	})
	if err != nil {
		s.recordServed(req.Format, "error")
		return nil, err
	}

	resp := v.(*Response)
	s.recordServed(req.Format, strings.ToLower(string(resp.Status)))
	if s.recorder != nil {
		s.recorder.CacheSize(s.store.Len())
	}
	return resp, nil
}

// Flush empties the in-memory store and the artifact store.
func (s *Service) Flush(ctx context.Context) (int, error) {
	n := s.store.Len()
	s.store.Purge()
	if s.artifacts == nil {
		return n, nil
	}
	removed, err := s.artifacts.Flush(ctx)
	if err != nil {
		return n, err
	}
	return max(n, removed), nil
}

func (s *Service) serve(ctx context.Context, req Request, key validity.Key) (*Response, error) {
	log := s.logger.With(infralogger.CacheKey(key.Hash()), infralogger.Handle(req.Handle))

	var resp *Response
	err := s.store.Update(key, func(cur *validity.Entry) (*validity.Entry, error) {
		restored := false
		if cur == nil {
			cur = s.loadArtifact(ctx, key, log)
			restored = cur != nil
		}

		if cur != nil && cur.Token.IsValid(s.now()) == validity.Valid {
			resp = newResponse(cur, CacheHit)
			if restored {
				return cur, nil
			}
			return nil, nil
		}

		fresh, body, err := s.generate(ctx, req)
		if err != nil {
			if cur != nil && degraded(err) {
				log.Warn("Serving stale feed, feed could not be regenerated", infralogger.Error(err))
				resp = newResponse(cur, CacheStale)
				return nil, nil
			}
			return nil, err
		}

		now := s.now()
		if cur != nil && cur.Token.IsValid(now) == validity.Unknown && cur.Token.Compare(fresh, now) == validity.Valid {
			if s.recorder != nil {
				s.recorder.TokenRenewed()
			}
			s.saveArtifact(ctx, key, cur, log)
			resp = newResponse(cur, CacheRenewed)
			return cur, nil
		}

		next := &validity.Entry{Token: fresh, Artifact: body}
		s.saveArtifact(ctx, key, next, log)
		resp = newResponse(next, CacheMiss)
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("Feed served", infralogger.String("cache", string(resp.Status)))
	return resp, nil
}

// degraded reports whether err is a backend outage that a stale artifact can cover.
func degraded(err error) bool {
	return errors.Is(err, domain.ErrSearchUnavailable) || errors.Is(err, domain.ErrPermissionLookupFailed)
}

// generate runs the search pipeline and returns a completed token plus the
// rendered payload.
func (s *Service) generate(ctx context.Context, req Request) (*validity.Token, []byte, error) {
	handle, scope, err := s.resolveScope(ctx, req.Handle)
	if err != nil {
		return nil, nil, err
	}

	desc, err := s.descriptor(req, handle)
	if err != nil {
		return nil, nil, err
	}

	searchScope := handle
	if scope == nil {
		searchScope = ""
	}
	result, err := s.searcher.Search(ctx, searchScope, desc)
	if err != nil {
		return nil, nil, err
	}

	hits := result.Hits
	if len(hits) > s.cfg.ItemCount {
		hits = hits[:s.cfg.ItemCount]
	}

	// A partial filter pass must never be fingerprinted and cached.
	items, err := s.filter.Apply(ctx, hits)
	if err != nil {
		return nil, nil, err
	}

	token, err := fingerprint(handle, items, s.ttl, s.now())
	if err != nil {
		return nil, nil, err
	}

	body, err := json.Marshal(Payload{
		Handle:      handle,
		Scope:       scope,
		Format:      req.Format,
		Items:       items,
		Fingerprint: token.Fingerprint(),
		GeneratedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render feed: %w", err)
	}
	return token, body, nil
}

// resolveScope returns a nil scope for the repository-wide feed.
func (s *Service) resolveScope(ctx context.Context, handle string) (string, *domain.Scope, error) {
	if handle == "" || handle == SiteHandle {
		return SiteHandle, nil, nil
	}

	scope, err := s.scopes.ResolveScope(ctx, handle)
	if err != nil {
		return "", nil, err
	}
	if !scope.IsContainer() {
		return "", nil, fmt.Errorf("%w: %s is a %s", domain.ErrNotContainer, handle, scope.Type)
	}
	return handle, scope, nil
}

func (s *Service) descriptor(req Request, handle string) (*discovery.QueryDescriptor, error) {
	cfg := s.discovery.For(handle)
	if req.Discover {
		params := discovery.ParseParams(req.Params)
		if params.RPP == "" {
			params.RPP = strconv.Itoa(s.cfg.ItemCount)
		}
		return s.builder.Build(params, cfg)
	}

	sortKey := s.builder.SortKey(s.cfg.RecentSort)
	order := string(discovery.SortDesc)
	return s.builder.Build(discovery.Params{
		RPP:    strconv.Itoa(s.cfg.ItemCount),
		SortBy: &sortKey,
		Order:  &order,
	}, cfg)
}

// fingerprint covers the scope and every item's version, so any edit,
// addition or removal changes it.
func fingerprint(handle string, items []domain.VettedItem, ttl time.Duration, now time.Time) (*validity.Token, error) {
	token := validity.NewToken(ttl)
	if err := token.Begin(); err != nil {
		return nil, err
	}
	if err := token.Add("scope", handle); err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := token.Add(item.ID, item.Version()); err != nil {
			return nil, err
		}
	}
	if err := token.Complete(now); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Service) loadArtifact(ctx context.Context, key validity.Key, log infralogger.Logger) *validity.Entry {
	if s.artifacts == nil {
		return nil
	}
	e, err := s.artifacts.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, validity.ErrArtifactNotFound) {
			log.Warn("Failed to load cached feed", infralogger.Error(err))
		}
		return nil
	}
	return e
}

func (s *Service) saveArtifact(ctx context.Context, key validity.Key, e *validity.Entry, log infralogger.Logger) {
	if s.artifacts == nil {
		return
	}
	if err := s.artifacts.Save(ctx, key, e); err != nil {
		log.Warn("Failed to persist cached feed", infralogger.Error(err))
	}
}

func (s *Service) recordServed(format, result string) {
	if s.recorder != nil {
		s.recorder.FeedServed(format, result)
	}
}

func newResponse(e *validity.Entry, status CacheStatus) *Response {
	return &Response{
		Body:        e.Artifact,
		Status:      status,
		Fingerprint: e.Token.Fingerprint(),
		ExpiresAt:   e.Token.ExpiresAt(),
	}
}
