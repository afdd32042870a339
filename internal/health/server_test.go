package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/poping/internal/metrics"
	"github.com/postalsys/poping/internal/server"
	"github.com/postalsys/poping/internal/store"
	"github.com/postalsys/poping/internal/sysinfo"
)

// mockStatsProvider implements StatsProvider for testing.
type mockStatsProvider struct {
	running bool
	stats   server.Stats
}

func (m *mockStatsProvider) IsRunning() bool {
	return m.running
}

func (m *mockStatsProvider) Stats() server.Stats {
	return m.stats
}

// mockObservationSource implements ObservationSource for testing.
type mockObservationSource struct {
	recs       []store.Observation
	err        error
	lastSource string
	lastLimit  int
}

func (m *mockObservationSource) Recent(_ context.Context, source string, limit int) ([]store.Observation, error) {
	m.lastSource = source
	m.lastLimit = limit
	return m.recs, m.err
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestServer_handleHealth(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	rec := serve(s, http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); body != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}
}

func TestServer_handleHealth_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	for _, path := range []string{"/health", "/healthz", "/ready", "/info", "/observations"} {
		rec := serve(s, http.MethodPost, path)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected status %d, got %d", path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

func TestServer_handleHealthz_Running(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		stats: server.Stats{
			Received:  12,
			Observed:  10,
			Discarded: 2,
			Replied:   4,
		},
	}
	s := NewServer(DefaultServerConfig(), provider, nil)

	rec := serve(s, http.MethodGet, "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", response["status"])
	}
	if response["running"] != true {
		t.Errorf("expected running true, got %v", response["running"])
	}
	if int(response["received"].(float64)) != 12 {
		t.Errorf("expected received 12, got %v", response["received"])
	}
	if int(response["discarded"].(float64)) != 2 {
		t.Errorf("expected discarded 2, got %v", response["discarded"])
	}
	if int(response["replied"].(float64)) != 4 {
		t.Errorf("expected replied 4, got %v", response["replied"])
	}
	if response["version"] != sysinfo.Version {
		t.Errorf("expected version %q, got %v", sysinfo.Version, response["version"])
	}
}

func TestServer_handleHealthz_NotRunning(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: false}, nil)

	rec := serve(s, http.MethodGet, "/healthz")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "unavailable" {
		t.Errorf("expected status 'unavailable', got %v", response["status"])
	}
}

func TestServer_handleReady(t *testing.T) {
	tests := []struct {
		running bool
		code    int
		body    string
	}{
		{true, http.StatusOK, "READY\n"},
		{false, http.StatusServiceUnavailable, "NOT READY\n"},
	}

	for _, tt := range tests {
		s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: tt.running}, nil)
		rec := serve(s, http.MethodGet, "/ready")

		if rec.Code != tt.code {
			t.Errorf("running=%v: expected status %d, got %d", tt.running, tt.code, rec.Code)
		}
		if body := rec.Body.String(); body != tt.body {
			t.Errorf("running=%v: expected body %q, got %q", tt.running, tt.body, body)
		}
	}
}

func TestServer_handleInfo(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)

	rec := serve(s, http.MethodGet, "/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var info sysinfo.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if info.Version != sysinfo.Version || info.OS == "" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestServer_NilProvider(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestServer_handleObservations_NotConfigured(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	rec := serve(s, http.MethodGet, "/observations")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestServer_handleObservations(t *testing.T) {
	src := &mockObservationSource{
		recs: []store.Observation{
			{ID: "b", Source: "192.0.2.1", Type: 8, Identifier: 0x04D2, Sequence: 2, Payload: []byte("hi")},
			{ID: "a", Source: "192.0.2.1", Type: 8, Identifier: 0x04D2, Sequence: 1, Payload: []byte("hi")},
		},
	}
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)
	s.SetObservationSource(src)

	rec := serve(s, http.MethodGet, "/observations?limit=2&source=192.0.2.1")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if src.lastLimit != 2 || src.lastSource != "192.0.2.1" {
		t.Errorf("Recent called with source=%q limit=%d", src.lastSource, src.lastLimit)
	}

	var response struct {
		Count        int                 `json:"count"`
		Observations []store.Observation `json:"observations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Count != 2 || len(response.Observations) != 2 {
		t.Fatalf("expected 2 observations, got count=%d len=%d", response.Count, len(response.Observations))
	}
	if response.Observations[0].Sequence != 2 {
		t.Errorf("expected newest first, got seq %d", response.Observations[0].Sequence)
	}
}

func TestServer_handleObservations_Defaults(t *testing.T) {
	src := &mockObservationSource{}
	s := NewServer(DefaultServerConfig(), nil, nil)
	s.SetObservationSource(src)

	rec := serve(s, http.MethodGet, "/observations")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if src.lastLimit != DefaultObservationLimit {
		t.Errorf("expected default limit %d, got %d", DefaultObservationLimit, src.lastLimit)
	}
	if !strings.Contains(rec.Body.String(), `"observations":[]`) {
		t.Errorf("expected empty list, got %s", rec.Body.String())
	}
}

func TestServer_handleObservations_BadRequest(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)
	s.SetObservationSource(&mockObservationSource{})

	for _, target := range []string{
		"/observations?limit=0",
		"/observations?limit=1001",
		"/observations?limit=ten",
		"/observations?source=not-an-ip",
		"/observations?source=2001:db8::1",
	} {
		rec := serve(s, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", target, http.StatusBadRequest, rec.Code)
		}
	}
}

func TestServer_handleObservations_QueryError(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)
	s.SetObservationSource(&mockObservationSource{err: errors.New("db gone")})

	rec := serve(s, http.MethodGet, "/observations")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.RecordRequestSent()

	cfg := DefaultServerConfig()
	cfg.Gatherer = reg
	s := NewServer(cfg, nil, nil)

	rec := serve(s, http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "poping_echo_requests_sent_total 1") {
		t.Errorf("expected requests counter in output, got:\n%s", rec.Body.String())
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := ServerConfig{
		Address:      "127.0.0.1:0", // Dynamic port
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, &mockStatsProvider{running: true}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	if !s.IsRunning() {
		t.Error("expected server to be running")
	}

	addr := s.Address()
	if addr == nil {
		t.Fatal("expected non-nil address")
	}

	// Use retry loop to handle race between Start() and Serve()
	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		resp, err = http.Get("http://" + addr.String() + "/health")
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("request failed after retries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}

	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}

func TestServer_DoubleStop(t *testing.T) {
	s := NewServer(ServerConfig{Address: "127.0.0.1:0"}, &mockStatsProvider{running: true}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	// Stop twice should not error
	if err := s.Stop(); err != nil {
		t.Errorf("first stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}

func TestServer_PprofIndex(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true}, nil)

	rec := serve(s, http.MethodGet, "/debug/pprof/")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty body for pprof index")
	}
}
