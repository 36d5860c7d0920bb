package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vietddude/depwatch/internal/core/domain"
	"github.com/vietddude/depwatch/internal/monitor/scheduler"
)

type fakeMonitor struct {
	snap   domain.Snapshot
	checks int
	resets []string
}

func (f *fakeMonitor) Snapshot() domain.Snapshot { return f.snap }

func (f *fakeMonitor) Dependency(id string) (domain.DependencyReport, bool) {
	rep, ok := f.snap.Dependencies[id]
	return rep, ok
}

func (f *fakeMonitor) CheckNow(ctx context.Context, id string) (domain.DependencyState, error) {
	rep, ok := f.snap.Dependencies[id]
	if !ok {
		return domain.DependencyState{}, fmt.Errorf("%w: %s", scheduler.ErrNotFound, id)
	}
	f.checks++
	return rep.State, nil
}

func (f *fakeMonitor) ResetCircuitBreaker(id string) bool {
	if _, ok := f.snap.Dependencies[id]; !ok {
		return false
	}
	f.resets = append(f.resets, id)
	return true
}

func newFakeMonitor(overall domain.Status) *fakeMonitor {
	return &fakeMonitor{snap: domain.Snapshot{
		OverallStatus: overall,
		Dependencies: map[string]domain.DependencyReport{
			"eth": {
				ID: "eth", Name: "Ethereum RPC", Category: domain.CategoryBlockchainRPC,
				Criticality: domain.CriticalityCritical,
				State:       domain.DependencyState{Status: domain.StatusHealthy},
			},
			"sol": {
				ID: "sol", Name: "Solana RPC", Category: domain.CategoryBlockchainRPC,
				Criticality: domain.CriticalityHigh,
				State:       domain.DependencyState{Status: domain.StatusDegraded},
			},
			"cg": {
				ID: "cg", Name: "CoinGecko", Category: domain.CategoryPriceFeed,
				Criticality: domain.CriticalityMedium,
				State:       domain.DependencyState{Status: domain.StatusHealthy},
			},
		},
	}}
}

func newTestServer(m Monitor, cfg Config) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(m, cfg, prometheus.NewRegistry(), logger)
	return httptest.NewServer(s.Handler())
}

func do(t *testing.T, method, url string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestServer_ReadRoutes(t *testing.T) {
	tests := []struct {
		name     string
		overall  domain.Status
		path     string
		wantCode int
	}{
		{"overall healthy", domain.StatusHealthy, "/health", http.StatusOK},
		{"overall degraded", domain.StatusDegraded, "/health", http.StatusServiceUnavailable},
		{"overall unhealthy", domain.StatusUnhealthy, "/health", http.StatusServiceUnavailable},
		{"healthy dependency", domain.StatusHealthy, "/health/dependencies/eth", http.StatusOK},
		{"degraded dependency", domain.StatusHealthy, "/health/dependencies/sol", http.StatusServiceUnavailable},
		{"unknown dependency", domain.StatusHealthy, "/health/dependencies/btc", http.StatusNotFound},
		{"healthy category", domain.StatusHealthy, "/health/categories/price_feed", http.StatusOK},
		{"degraded category", domain.StatusHealthy, "/health/categories/blockchain_rpc", http.StatusServiceUnavailable},
		{"empty category", domain.StatusHealthy, "/health/categories/exchange_api", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(newFakeMonitor(tt.overall), Config{})
			defer srv.Close()

			resp, _ := do(t, http.MethodGet, srv.URL+tt.path, nil)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}

func TestServer_CategoryBody(t *testing.T) {
	srv := newTestServer(newFakeMonitor(domain.StatusHealthy), Config{})
	defer srv.Close()

	_, body := do(t, http.MethodGet, srv.URL+"/health/categories/blockchain_rpc", nil)
	if body["status"] != "degraded" {
		t.Errorf("category status = %v, want degraded", body["status"])
	}
	deps, _ := body["dependencies"].([]any)
	if len(deps) != 2 {
		t.Fatalf("dependencies = %d, want 2", len(deps))
	}
	if first, _ := deps[0].(map[string]any); first["id"] != "eth" {
		t.Errorf("dependencies not sorted by id: %v", deps)
	}
}

func TestServer_CheckIsRateLimited(t *testing.T) {
	m := newFakeMonitor(domain.StatusHealthy)
	srv := newTestServer(m, Config{CheckRate: 0.1, CheckBurst: 2})
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, _ := do(t, http.MethodPost, srv.URL+"/health/dependencies/eth/check", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("check %d = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp, _ := do(t, http.MethodPost, srv.URL+"/health/dependencies/eth/check", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third check = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "10" {
		t.Errorf("Retry-After = %q, want 10", resp.Header.Get("Retry-After"))
	}

	// limits are per dependency
	resp, _ = do(t, http.MethodPost, srv.URL+"/health/dependencies/cg/check", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("other dependency check = %d, want 200", resp.StatusCode)
	}
	if m.checks != 3 {
		t.Errorf("monitor saw %d checks, want 3", m.checks)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/health/dependencies/btc/check", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown dependency check = %d, want 404", resp.StatusCode)
	}
}

func TestServer_ResetRequiresToken(t *testing.T) {
	const secret = "s3cret"
	valid, err := IssueToken(secret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	wrongKey, _ := IssueToken("other", "ops", time.Minute)
	expired, _ := IssueToken(secret, "ops", -time.Minute)

	tests := []struct {
		name     string
		secret   string
		auth     string
		path     string
		wantCode int
	}{
		{"no secret configured", "", "", "/health/dependencies/eth/reset", http.StatusOK},
		{"missing token", secret, "", "/health/dependencies/eth/reset", http.StatusUnauthorized},
		{"wrong key", secret, "Bearer " + wrongKey, "/health/dependencies/eth/reset", http.StatusUnauthorized},
		{"expired", secret, "Bearer " + expired, "/health/dependencies/eth/reset", http.StatusUnauthorized},
		{"valid", secret, "Bearer " + valid, "/health/dependencies/eth/reset", http.StatusOK},
		{"valid unknown id", secret, "Bearer " + valid, "/health/dependencies/btc/reset", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMonitor(domain.StatusHealthy)
			srv := newTestServer(m, Config{JWTSecret: tt.secret})
			defer srv.Close()

			header := map[string]string{}
			if tt.auth != "" {
				header["Authorization"] = tt.auth
			}
			resp, _ := do(t, http.MethodPost, srv.URL+tt.path, header)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("POST %s = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && len(m.resets) != 1 {
				t.Errorf("resets = %v, want one", m.resets)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "depwatch_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := NewServer(newFakeMonitor(domain.StatusHealthy), Config{}, reg, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "depwatch_test_total 1") {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}

func TestParseToken(t *testing.T) {
	tok, _ := IssueToken("k", "alice", time.Minute)
	claims, err := ParseToken("k", tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
	if _, err := ParseToken("k", "not-a-jwt"); err == nil {
		t.Error("expected error for garbage token")
	}
}
