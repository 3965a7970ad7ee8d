package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/circuitbreaker"
	infraes "github.com/jonesrussell/north-cloud/discovery/infrastructure/elasticsearch"
	infralogger "github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

// Search outcomes reported to the observer.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeRejected    = "rejected"
)

const (
	defaultSearchTimeout = 5 * time.Second
	pingTimeout          = 2 * time.Second
	// requestSlack is added to the server-side timeout to bound the whole round trip.
	requestSlack = time.Second
)

// QueryError is a 4xx reply caused by the query itself, such as a
// query_string syntax error or a from+size past max_result_window.
// It matches domain.ErrInvalidQuery and never counts against the breaker.
type QueryError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *QueryError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch rejected query [%d]: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("elasticsearch rejected query [%d] %s: %s", e.StatusCode, e.Type, e.Reason)
}

// Is reports whether target is domain.ErrInvalidQuery.
func (e *QueryError) Is(target error) bool {
	return target == domain.ErrInvalidQuery
}

// rejectedByQuery reports whether an error status was caused by the request
// rather than by the cluster, its credentials or its load.
func rejectedByQuery(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

func newQueryError(status int, body []byte) *QueryError {
	var reply struct {
		Error struct {
			Type      string `json:"type"`
			Reason    string `json:"reason"`
			RootCause []struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"root_cause"`
		} `json:"error"`
	}
	qe := &QueryError{StatusCode: status}
	if err := json.Unmarshal(body, &reply); err != nil {
		qe.Reason = string(body)
		return qe
	}
	qe.Type, qe.Reason = reply.Error.Type, reply.Error.Reason
	if len(reply.Error.RootCause) > 0 {
		qe.Type, qe.Reason = reply.Error.RootCause[0].Type, reply.Error.RootCause[0].Reason
	}
	return qe
}

// Observer receives one call per search.
type Observer interface {
	ObserveSearch(outcome string, elapsed time.Duration)
}

// Config configures the executor.
type Config struct {
	Index           string
	Timeout         time.Duration
	SpellCheckField string
}

// Executor runs descriptors against Elasticsearch behind a circuit breaker.
// It does not retry. A query the cluster rejects surfaces as *QueryError;
// every other failure surfaces as domain.ErrSearchUnavailable.
type Executor struct {
	client   *es.Client
	cfg      Config
	queries  *QueryBuilder
	breaker  *circuitbreaker.Breaker
	logger   infralogger.Logger
	observer Observer
}

// NewExecutor creates an executor. breaker and observer may be nil.
func NewExecutor(client *es.Client, cfg Config, breaker *circuitbreaker.Breaker, observer Observer, log infralogger.Logger) *Executor {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultSearchTimeout
	}
	return &Executor{
		client:   client,
		cfg:      cfg,
		queries:  NewQueryBuilder(cfg.SpellCheckField),
		breaker:  breaker,
		logger:   log,
		observer: observer,
	}
}

// Search executes d restricted to scope (empty for repository-wide).
func (e *Executor) Search(ctx context.Context, scope string, d *discovery.QueryDescriptor) (*domain.SearchResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout+requestSlack)
	defer cancel()

	var result *domain.SearchResult
	var rejected *QueryError

	call := func() error {
		var err error
		result, err = e.execute(ctx, e.queries.Build(d, scope))
		if errors.As(err, &rejected) {
			// Rejected queries do not count against the breaker.
			return nil
		}
		return err
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, call)
	} else {
		err = call()
	}

	outcome := OutcomeSuccess
	switch {
	case err == nil && rejected != nil:
		outcome = OutcomeRejected
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		outcome = OutcomeCircuitOpen
	default:
		outcome = OutcomeError
	}
	if e.observer != nil {
		e.observer.ObserveSearch(outcome, time.Since(start))
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSearchUnavailable, err)
	}
	if rejected != nil {
		e.logger.Debug("Elasticsearch rejected query",
			infralogger.Int("status", rejected.StatusCode),
			infralogger.String("reason", rejected.Reason),
		)
		return nil, rejected
	}
	return result, nil
}

func (e *Executor) execute(ctx context.Context, query map[string]any) (*domain.SearchResult, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	e.logger.Debug("Elasticsearch query", infralogger.String("query", buf.String()))

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.cfg.Index),
		e.client.Search.WithBody(&buf),
		e.client.Search.WithTimeout(e.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if rejectedByQuery(res.StatusCode) {
			return nil, newQueryError(res.StatusCode, body)
		}
		return nil, fmt.Errorf("elasticsearch returned error [%d]: %s", res.StatusCode, string(body))
	}

	return parseSearchResponse(res.Body)
}

// indexedItem is the _source of one item document.
type indexedItem struct {
	ResourceID   string    `json:"resource_id"`
	Handle       string    `json:"handle"`
	Title        string    `json:"dc.title"`
	LastModified time.Time `json:"last_modified"`
	Archived     bool      `json:"archived"`
	Withdrawn    bool      `json:"withdrawn"`
	Discoverable bool      `json:"discoverable"`
}

type innerHits struct {
	Hits struct {
		Hits []struct {
			Source struct {
				Handle string `json:"handle"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func parseSearchResponse(body io.Reader) (*domain.SearchResult, error) {
	var esResponse struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID        string               `json:"_id"`
				Source    indexedItem          `json:"_source"`
				Highlight map[string][]string  `json:"highlight,omitempty"`
				InnerHits map[string]innerHits `json:"inner_hits,omitempty"`
			} `json:"hits"`
		} `json:"hits"`
		Suggest map[string][]struct {
			Options []struct {
				Text string `json:"text"`
			} `json:"options"`
		} `json:"suggest,omitempty"`
	}

	if err := json.NewDecoder(body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode elasticsearch response: %w", err)
	}

	result := &domain.SearchResult{
		Hits:      make([]domain.RawHit, 0, len(esResponse.Hits.Hits)),
		TotalHits: esResponse.Hits.Total.Value,
		TookMs:    esResponse.Took,
	}

	for _, h := range esResponse.Hits.Hits {
		id := h.Source.ResourceID
		if id == "" {
			id = h.ID
		}
		result.Hits = append(result.Hits, domain.RawHit{
			ID:           id,
			Handle:       h.Source.Handle,
			Title:        h.Source.Title,
			LastModified: h.Source.LastModified,
			Status: domain.Status{
				Archived:     h.Source.Archived,
				Withdrawn:    h.Source.Withdrawn,
				Discoverable: h.Source.Discoverable,
			},
		})

		if len(h.Highlight) > 0 {
			if result.Highlights == nil {
				result.Highlights = make(map[string]map[string][]string)
			}
			result.Highlights[id] = h.Highlight
		}
		if inner, ok := h.InnerHits[collapsedInnerHits]; ok {
			if result.Collapsed == nil {
				result.Collapsed = make(map[string][]string)
			}
			for _, ih := range inner.Hits.Hits {
				result.Collapsed[id] = append(result.Collapsed[id], ih.Source.Handle)
			}
		}
	}

	for _, entry := range esResponse.Suggest[suggestionName] {
		if len(entry.Options) > 0 {
			result.Suggestion = entry.Options[0].Text
			break
		}
	}

	return result, nil
}

// Ping checks that the cluster answers, for readiness probes.
func (e *Executor) Ping(ctx context.Context) error {
	return infraes.Ping(ctx, e.client, pingTimeout)
}
