// Package api exposes discovery search, feeds and cache administration over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	infrajwt "github.com/jonesrussell/north-cloud/discovery/infrastructure/jwt"
	infralogger "github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/discovery/internal/daterange"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
)

// HeaderCache reports how a feed response was produced.
const HeaderCache = "X-Cache"

// FeedService is the subset of *feed.Service the handlers use.
type FeedService interface {
	Feed(ctx context.Context, req feed.Request) (*feed.Response, error)
	Links(filterQuery string) []feed.Link
	Flush(ctx context.Context) (int, error)
}

// Handler holds HTTP request handlers.
type Handler struct {
	builder   *discovery.Builder
	discovery discovery.Configs
	searcher  feed.Searcher
	filter    feed.ItemFilter
	feeds     FeedService
	now       func() time.Time
	logger    infralogger.Logger
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Builder   *discovery.Builder
	Discovery discovery.Configs
	Searcher  feed.Searcher
	Filter    feed.ItemFilter
	Feeds     FeedService
	Now       func() time.Time
	Logger    infralogger.Logger
}

// NewHandler creates a new handler instance.
func NewHandler(deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = infralogger.NewNop()
	}
	return &Handler{
		builder:   deps.Builder,
		discovery: deps.Discovery,
		searcher:  deps.Searcher,
		filter:    deps.Filter,
		feeds:     deps.Feeds,
		now:       deps.Now,
		logger:    deps.Logger,
	}
}

// DiscoverResponse is the body of GET /api/v1/discover.
type DiscoverResponse struct {
	Query      *discovery.QueryDescriptor     `json:"query"`
	Items      []domain.VettedItem            `json:"items"`
	TotalHits  int64                          `json:"total_hits"`
	Excluded   int                            `json:"excluded"`
	Highlights map[string]map[string][]string `json:"highlights,omitempty"`
	Collapsed  map[string][]string            `json:"collapsed,omitempty"`
	Suggestion string                         `json:"suggestion,omitempty"`
	TookMs     int64                          `json:"took_ms"`
}

// Discover runs a discovery search from query parameters. The optional
// scope parameter restricts it to a community or collection handle.
func (h *Handler) Discover(c *gin.Context) {
	ctx := c.Request.Context()
	scope := c.Query("scope")

	desc, err := h.builder.Build(discovery.ParseParams(c.Request.URL.Query()), h.discovery.For(scope))
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.searcher.Search(ctx, scope, desc)
	if err != nil {
		h.writeError(c, err)
		return
	}

	items, err := h.filter.Apply(ctx, result.Hits)
	if err != nil {
		infralogger.FromContext(ctx).Warn("Permission lookups failed during discovery", infralogger.Error(err))
	}

	c.JSON(http.StatusOK, DiscoverResponse{
		Query:      desc,
		Items:      items,
		TotalHits:  result.TotalHits,
		Excluded:   len(result.Hits) - len(items),
		Highlights: result.Highlights,
		Collapsed:  result.Collapsed,
		Suggestion: result.Suggestion,
		TookMs:     result.TookMs,
	})
}

// Feed serves a cached feed. The handle path may end in /discover, in
// which case the query string drives the search.
func (h *Handler) Feed(c *gin.Context) {
	handle, discover := feed.ParseHandle(c.Param("handle"))
	req := feed.Request{
		Handle:   handle,
		Format:   c.Param("format"),
		Discover: discover,
		RawQuery: c.Request.URL.RawQuery,
		Params:   c.Request.URL.Query(),
	}

	resp, err := h.feeds.Feed(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	etag := strconv.Quote(resp.Fingerprint)
	c.Header(HeaderCache, string(resp.Status))
	c.Header("ETag", etag)
	c.Header("Expires", resp.ExpiresAt.UTC().Format(http.TimeFormat))
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Body)
}

// FeedLinks lists the feeds a page can advertise.
func (h *Handler) FeedLinks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"links": h.feeds.Links(c.Query(discovery.ParamFilter))})
}

// DateRangeResponse previews a compiled date range.
type DateRangeResponse struct {
	Fragment string   `json:"fragment"`
	Degraded bool     `json:"degraded"`
	Errors   []string `json:"errors,omitempty"`
}

// DateRange compiles time_type, time_start and time_end against the current
// time. Malformed bounds still produce a degraded fragment.
func (h *Handler) DateRange(c *gin.Context) {
	spec := daterange.NewSpec(
		c.Query(discovery.ParamTimeType),
		c.Query(discovery.ParamTimeStart),
		c.Query(discovery.ParamTimeEnd),
	)

	frag, err := daterange.Compile(spec, h.now())
	if errors.Is(err, domain.ErrInvalidRangeSpec) {
		h.writeError(c, err)
		return
	}

	resp := DateRangeResponse{Fragment: string(frag)}
	if err != nil {
		resp.Degraded = true
		resp.Errors = unwrapAll(err)
	}
	c.JSON(http.StatusOK, resp)
}

// FlushCache drops every cached feed.
func (h *Handler) FlushCache(c *gin.Context) {
	n, err := h.feeds.Flush(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	principal := ""
	if claims, ok := infrajwt.GetClaims(c); ok {
		principal = claims.Sub
	}
	infralogger.FromContext(c.Request.Context()).Info("Feed cache flushed",
		infralogger.Int("entries", n),
		infralogger.String("principal", principal),
	)
	c.JSON(http.StatusOK, gin.H{"flushed": n})
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		infralogger.FromContext(c.Request.Context()).Error("Request failed",
			infralogger.String("path", c.FullPath()),
			infralogger.Error(err),
		)
	}
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		Timestamp: h.now(),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidPageSize):
		return http.StatusBadRequest, "INVALID_PAGE_SIZE"
	case errors.Is(err, domain.ErrInvalidRangeSpec):
		return http.StatusBadRequest, "INVALID_RANGE"
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, "INVALID_QUERY"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusNotFound, "UNSUPPORTED_FORMAT"
	case errors.Is(err, domain.ErrScopeNotFound):
		return http.StatusNotFound, "SCOPE_NOT_FOUND"
	case errors.Is(err, domain.ErrNotContainer):
		return http.StatusNotFound, "NOT_A_CONTAINER"
	case errors.Is(err, domain.ErrSearchUnavailable):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE"
	case errors.Is(err, domain.ErrPermissionLookupFailed):
		return http.StatusServiceUnavailable, "PERMISSION_LOOKUP_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func unwrapAll(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
