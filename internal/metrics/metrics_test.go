package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/discovery/internal/metrics"
)

// value returns the first sample of the named family whose labels include want.
func value(t *testing.T, m *metrics.Metrics, name string, want map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if !matches(labels, want) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func matches(labels, want map[string]string) bool {
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_Recorders(t *testing.T) {
	m := metrics.New()

	m.FeedServed("rss_2.0", "hit")
	m.FeedServed("rss_2.0", "hit")
	m.TokenRenewed()
	m.ItemsExcluded(3)
	m.PermissionLookupFailed()
	m.ObserveSearch("success", 20*time.Millisecond)
	m.CacheSize(4)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"discovery_feed_requests_total", map[string]string{"format": "rss_2.0", "result": "hit"}, 2},
		{"discovery_feed_token_renewals_total", nil, 1},
		{"discovery_feed_cache_entries", nil, 4},
		{"discovery_access_items_excluded_total", nil, 3},
		{"discovery_access_permission_lookup_failures_total", nil, 1},
		{"discovery_search_requests_total", map[string]string{"outcome": "success"}, 1},
		{"discovery_search_duration_seconds", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := value(t, m, tt.name, tt.labels); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.FeedServed("atom_1.0", "miss")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `discovery_feed_requests_total{format="atom_1.0",result="miss"} 1`) {
		t.Errorf("exposition missing feed counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go runtime collector")
	}
}
