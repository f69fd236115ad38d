//go:build integration
// +build integration

package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zzkt/aqi/internal/client"
	"github.com/zzkt/aqi/internal/observability"
	"github.com/zzkt/aqi/internal/report"
	"github.com/zzkt/aqi/internal/service"
	"github.com/zzkt/aqi/internal/store"
)

const taipeiFeedJSON = `{
	"status": "ok",
	"data": {
		"aqi": 42,
		"idx": 1451,
		"attributions": [
			{"name": "Taiwan EPA", "url": "https://airtw.moenv.gov.tw/"}
		],
		"city": {
			"geo": [25.0330, 121.5654],
			"name": "Taipei",
			"url": "https://aqicn.org/city/taipei"
		},
		"dominentpol": "pm25",
		"iaqi": {
			"pm25": {"v": 42},
			"t": {"v": 27.5}
		},
		"time": {"s": "2026-08-25 10:00:00", "tz": "+08:00", "v": 1787968800}
	}
}`

const unknownStationJSON = `{"status": "error", "data": "Unknown station"}`

const beijingSearchJSON = `{
	"status": "ok",
	"data": [
		{"uid": 1437, "aqi": "64", "station": {"name": "Beijing", "geo": [39.9, 116.4], "url": "beijing"}}
	]
}`

// upstreamCounter counts feed hits so cache behavior is observable.
type upstreamCounter struct {
	feedHits atomic.Int64
}

// newFakeUpstream serves canned WAQI responses. Unknown places get the
// application-level error envelope.
func newFakeUpstream(t *testing.T, counter *upstreamCounter) *httptest.Server {
	t.Helper()
	m := http.NewServeMux()
	m.HandleFunc("/feed/", func(w http.ResponseWriter, r *http.Request) {
		counter.feedHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "Nowhere") {
			fmt.Fprint(w, unknownStationJSON)
			return
		}
		fmt.Fprint(w, taipeiFeedJSON)
	})
	m.HandleFunc("/search/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, beijingSearchJSON)
	})
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}

// setupStack wires the real client, a redis-backed store and the full
// middleware chain against a fake upstream.
func setupStack(t *testing.T, counter *upstreamCounter, policy service.Policy) (*mux.Router, *store.RedisStore) {
	t.Helper()
	upstream := newFakeUpstream(t, counter)

	waqi, err := client.NewWAQIClient("test-token", upstream.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewWAQIClient() error = %v", err)
	}

	srv := miniredis.RunT(t)
	st := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))

	logger := zap.NewNop()
	pipeline := service.NewPipeline(waqi, st, policy, logger)
	formatter := report.NewFormatter(pipeline, logger)
	handler := NewHandler(formatter, pipeline, waqi, nil, logger)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/report/{place}", handler.GetReport).Methods("GET")
	router.HandleFunc("/feed/{place}", handler.GetFeed).Methods("GET")
	router.HandleFunc("/search", handler.GetSearch).Methods("GET")
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")
	return router, st
}

// TestIntegration_ReportThroughStack exercises the report path end to end:
// middleware, validation, client parse, store write, render.
func TestIntegration_ReportThroughStack(t *testing.T) {
	var counter upstreamCounter
	router, _ := setupStack(t, &counter, service.Policy{UseCache: false})

	req := httptest.NewRequest("GET", "/report/Taipei?type=brief", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	want := "Air Quality Index in Taipei is 42 and the dominant pollutant is pm25\n"
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

// TestIntegration_FeedCachedAcrossRequests verifies that with caching
// enabled the second request is served from the store.
func TestIntegration_FeedCachedAcrossRequests(t *testing.T) {
	var counter upstreamCounter
	router, _ := setupStack(t, &counter, service.Policy{UseCache: true, RefreshPeriod: time.Hour})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/feed/Taipei", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	if hits := counter.feedHits.Load(); hits != 1 {
		t.Errorf("upstream feed hits = %d, want 1 (second request should be cached)", hits)
	}
}

// TestIntegration_FaultRendered verifies that an upstream application error
// is cached and rendered as a fault line.
func TestIntegration_FaultRendered(t *testing.T) {
	var counter upstreamCounter
	router, st := setupStack(t, &counter, service.Policy{UseCache: true})

	req := httptest.NewRequest("GET", "/report/Nowhere?type=brief", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := "Request error: Unknown station (Nowhere)\n"
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}

	entry, ok, err := st.Get(req.Context(), "Nowhere")
	if err != nil || !ok {
		t.Fatalf("Get() = (_, %v, %v), want stored fault entry", ok, err)
	}
	if !entry.IsFault() {
		t.Error("stored entry should be a fault")
	}
}

// TestIntegration_SearchThroughStack verifies the search pass-through.
func TestIntegration_SearchThroughStack(t *testing.T) {
	var counter upstreamCounter
	router, _ := setupStack(t, &counter, service.Policy{})

	req := httptest.NewRequest("GET", "/search?keyword=beijing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"uid":1437`) {
		t.Errorf("body missing station uid: %s", w.Body.String())
	}
}

// TestIntegration_MetricsExposed verifies the Prometheus endpoint serves
// the registered collectors after traffic has flowed.
func TestIntegration_MetricsExposed(t *testing.T) {
	var counter upstreamCounter
	router, _ := setupStack(t, &counter, service.Policy{})

	warm := httptest.NewRequest("GET", "/report/Taipei?type=brief", nil)
	router.ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, metric := range []string{"feedRequestsTotal", "httpRequestsTotal", "feedFetchesTotal"} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}
