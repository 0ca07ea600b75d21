package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/ledger"
	"github.com/nerrad567/hublink/internal/transport"
)

// fakeLedger is an in-memory LedgerReader.
type fakeLedger struct {
	mu         sync.Mutex
	deliveries []ledger.Delivery
	events     []ledger.ConnectionEvent
	err        error
	lastFilter ledger.Filter
	lastLimit  int
}

func (f *fakeLedger) Delivery(_ context.Context, id string) (*ledger.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.deliveries {
		if d.MessageID == id {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
}

func (f *fakeLedger) Deliveries(_ context.Context, filter ledger.Filter) ([]ledger.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []ledger.Delivery
	for _, d := range f.deliveries {
		if filter.Status == "" || d.Status == filter.Status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeLedger) ConnectionEvents(_ context.Context, limit int) ([]ledger.ConnectionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeLedger) StatusCounts(context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	counts := make(map[string]int)
	for _, d := range f.deliveries {
		counts[d.Status]++
	}
	return counts, nil
}

var queuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.closeAll()
		srv.Close()
	})
	return s, srv
}

func getJSON(t *testing.T, url string, wantStatus int, v any) http.Header {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // Diagnostic only
		t.Fatalf("GET %s status = %d, want %d: %s", url, resp.StatusCode, wantStatus, body)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.Header
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresLogger(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestNew_MetricsRequireHandler(t *testing.T) {
	_, err := New(Deps{
		Logger:  testLogger(),
		Metrics: config.MetricsConfig{Enabled: true},
	})
	if err == nil {
		t.Error("New() with metrics enabled and no handler should fail")
	}
}

// =============================================================================
// Health and status
// =============================================================================

func TestHealth_OK(t *testing.T) {
	_, srv := newTestServer(t, Deps{
		Version: "1.2.3",
		Status:  func() transport.ConnectionStatus { return transport.Connected },
		Checks: map[string]HealthCheck{
			"ledger": func(context.Context) error { return nil },
		},
	})

	var resp HealthResponse
	header := getJSON(t, srv.URL+"/health", http.StatusOK, &resp)

	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Connection != "CONNECTED" {
		t.Errorf("health = %+v, want ok/1.2.3/CONNECTED", resp)
	}
	if resp.Checks["ledger"] != "ok" {
		t.Errorf("checks[ledger] = %q, want ok", resp.Checks["ledger"])
	}
	if header.Get("X-Request-ID") == "" {
		t.Error("response has no X-Request-ID")
	}
}

func TestHealth_Degraded(t *testing.T) {
	_, srv := newTestServer(t, Deps{
		Checks: map[string]HealthCheck{
			"ledger":   func(context.Context) error { return nil },
			"influxdb": func(context.Context) error { return errors.New("ping failed") },
		},
	})

	var resp HealthResponse
	getJSON(t, srv.URL+"/health", http.StatusServiceUnavailable, &resp)

	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["influxdb"] != "ping failed" {
		t.Errorf("checks[influxdb] = %q, want ping failed", resp.Checks["influxdb"])
	}
}

func TestStatus(t *testing.T) {
	_, srv := newTestServer(t, Deps{
		Version: "dev",
		Status:  func() transport.ConnectionStatus { return transport.DisconnectedRetrying },
	})

	var resp StatusResponse
	getJSON(t, srv.URL+"/api/v1/status", http.StatusOK, &resp)

	if resp.Connection != "DISCONNECTED_RETRYING" {
		t.Errorf("connection = %q, want DISCONNECTED_RETRYING", resp.Connection)
	}
	if resp.WebSocketClients != 0 {
		t.Errorf("websocket_clients = %d, want 0", resp.WebSocketClients)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
}

// =============================================================================
// Metrics
// =============================================================================

func TestMetrics_Route(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "hublink_messages_pending 0\n") //nolint:errcheck // Test handler
	})
	_, srv := newTestServer(t, Deps{
		Metrics:        config.MetricsConfig{Enabled: true, Path: "/prom"},
		MetricsHandler: handler,
	})

	resp, err := http.Get(srv.URL + "/prom")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // Checked via content
	if !strings.Contains(string(body), "hublink_messages_pending") {
		t.Errorf("/prom body = %q", body)
	}
}

func TestMetrics_DisabledRoute(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// =============================================================================
// Ledger routes
// =============================================================================

func seededLedger() *fakeLedger {
	completed := queuedAt.Add(time.Second)
	return &fakeLedger{
		deliveries: []ledger.Delivery{
			{MessageID: "m2", Type: "telemetry", Status: ledger.StateRetrying, Retries: 1, LastError: "throttled", QueuedAt: queuedAt},
			{MessageID: "m1", Type: "telemetry", Status: "OK", QueuedAt: queuedAt, CompletedAt: completed},
		},
		events: []ledger.ConnectionEvent{
			{ID: 1, Status: "CONNECTED", Reason: "CONNECTION_OK", OccurredAt: queuedAt},
			{ID: 2, Status: "DISCONNECTED_RETRYING", Reason: "NO_NETWORK", Cause: "reset", OccurredAt: completed},
		},
	}
}

func TestListDeliveries(t *testing.T) {
	led := seededLedger()
	_, srv := newTestServer(t, Deps{Ledger: led})

	var resp struct {
		Deliveries []DeliveryResponse `json:"deliveries"`
		Count      int                `json:"count"`
	}
	getJSON(t, srv.URL+"/api/v1/deliveries?status=OK&limit=5&since=2026-03-01T00:00:00Z", http.StatusOK, &resp)

	if resp.Count != 1 || len(resp.Deliveries) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	d := resp.Deliveries[0]
	if d.MessageID != "m1" || d.Status != "OK" {
		t.Errorf("delivery = %+v, want m1/OK", d)
	}
	if d.CompletedAt == nil || !d.CompletedAt.Equal(queuedAt.Add(time.Second)) {
		t.Errorf("completed_at = %v, want %v", d.CompletedAt, queuedAt.Add(time.Second))
	}

	led.mu.Lock()
	filter := led.lastFilter
	led.mu.Unlock()
	if filter.Limit != 5 || filter.Status != "OK" {
		t.Errorf("filter = %+v, want limit 5 status OK", filter)
	}
	if !filter.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("filter.Since = %v", filter.Since)
	}
}

func TestListDeliveries_BadQuery(t *testing.T) {
	_, srv := newTestServer(t, Deps{Ledger: seededLedger()})

	tests := []struct {
		name  string
		query string
	}{
		{"bad since", "?since=yesterday"},
		{"bad limit", "?limit=ten"},
		{"negative limit", "?limit=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Error
			getJSON(t, srv.URL+"/api/v1/deliveries"+tt.query, http.StatusBadRequest, &resp)
			if resp.Code != ErrCodeBadRequest {
				t.Errorf("code = %q, want %q", resp.Code, ErrCodeBadRequest)
			}
		})
	}
}

func TestGetDelivery(t *testing.T) {
	_, srv := newTestServer(t, Deps{Ledger: seededLedger()})

	var d DeliveryResponse
	getJSON(t, srv.URL+"/api/v1/deliveries/m2", http.StatusOK, &d)
	if d.Status != ledger.StateRetrying || d.Retries != 1 || d.LastError != "throttled" {
		t.Errorf("delivery = %+v, want RETRYING/1/throttled", d)
	}
	if d.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", d.CompletedAt)
	}

	var e Error
	getJSON(t, srv.URL+"/api/v1/deliveries/missing", http.StatusNotFound, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestDeliveryStats(t *testing.T) {
	_, srv := newTestServer(t, Deps{Ledger: seededLedger()})

	var resp struct {
		Statuses map[string]int `json:"statuses"`
	}
	getJSON(t, srv.URL+"/api/v1/deliveries/stats", http.StatusOK, &resp)

	if resp.Statuses["OK"] != 1 || resp.Statuses[ledger.StateRetrying] != 1 {
		t.Errorf("statuses = %v, want OK:1 RETRYING:1", resp.Statuses)
	}
}

func TestConnectionEvents(t *testing.T) {
	led := seededLedger()
	_, srv := newTestServer(t, Deps{Ledger: led})

	var resp struct {
		Events []ConnectionEventResponse `json:"events"`
	}
	getJSON(t, srv.URL+"/api/v1/connection/events?limit=2", http.StatusOK, &resp)

	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	if resp.Events[1].Reason != "NO_NETWORK" || resp.Events[1].Cause != "reset" {
		t.Errorf("events[1] = %+v, want NO_NETWORK/reset", resp.Events[1])
	}
	led.mu.Lock()
	defer led.mu.Unlock()
	if led.lastLimit != 2 {
		t.Errorf("limit = %d, want 2", led.lastLimit)
	}
}

func TestLedgerRoutes_NotConfigured(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	for _, path := range []string{
		"/api/v1/deliveries",
		"/api/v1/deliveries/stats",
		"/api/v1/deliveries/m1",
		"/api/v1/connection/events",
	} {
		var e Error
		getJSON(t, srv.URL+path, http.StatusServiceUnavailable, &e)
		if e.Code != ErrCodeUnavailable {
			t.Errorf("%s code = %q, want %q", path, e.Code, ErrCodeUnavailable)
		}
	}
}

func TestLedgerRoutes_Error(t *testing.T) {
	_, srv := newTestServer(t, Deps{Ledger: &fakeLedger{err: errors.New("disk I/O error")}})

	var e Error
	getJSON(t, srv.URL+"/api/v1/deliveries", http.StatusInternalServerError, &e)
	if e.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeInternal)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestServer_ServeAndShutdown(t *testing.T) {
	s, err := New(Deps{Logger: testLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	getJSON(t, "http://"+ln.Addr().String()+"/health", http.StatusOK, nil)
	if s.Addr().String() != ln.Addr().String() {
		t.Errorf("Addr() = %v, want %v", s.Addr(), ln.Addr())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestServer_RunBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close() //nolint:errcheck // Test cleanup

	s, err := New(Deps{Logger: testLogger(), Config: config.APIConfig{Listen: ln.Addr().String()}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("Run() on a bound address should fail")
	}
}
