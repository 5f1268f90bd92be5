package runtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/edge-origin-router/internal/api/controlplane"
	"github.com/tjfontaine/edge-origin-router/internal/auth"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
)

// upstream records origin fetches and answers them without touching the network.
type upstream struct {
	mu    sync.Mutex
	hosts []string
}

func (u *upstream) RoundTrip(req *http.Request) (*http.Response, error) {
	u.mu.Lock()
	u.hosts = append(u.hosts, req.URL.Host)
	u.mu.Unlock()

	status := http.StatusOK
	body := "origin " + req.URL.Host + req.URL.Path
	if strings.HasSuffix(req.URL.Path, "/404.html") {
		body = "<h1>not here</h1>"
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (u *upstream) seen() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.hosts...)
}

func startGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithListenAddrs("127.0.0.1:0", "127.0.0.1:0")}, opts...)
	gw, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	})
	return gw
}

func resolve(t *testing.T, gw *Gateway, host string) controlplane.ResolveResponse {
	t.Helper()
	resp, err := http.Get("http://" + gw.AdminAddr() + "/api/resolve?host=" + host)
	if err != nil {
		t.Fatalf("resolve request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	var out controlplane.ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode resolve response: %v", err)
	}
	return out
}

func TestGateway_New_RequiredOptions(t *testing.T) {
	// Should fail without config provider
	_, err := New()
	if err == nil {
		t.Fatal("Expected error without config provider")
	}
	if err.Error() != "config provider required (use WithFileConfig or WithConfig)" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGateway_New_NilConfig(t *testing.T) {
	if _, err := New(WithConfig(nil)); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestGateway_Start_And_Shutdown(t *testing.T) {
	gw := startGateway(t,
		WithConfig(&config.Config{}),
		WithStaticRoutes(map[string]string{"api-acme": "https://api.acme.example"}),
	)

	if gw.EdgeAddr() == "" || gw.AdminAddr() == "" {
		t.Fatal("Expected listener addresses after Start")
	}

	resp, err := http.Get("http://" + gw.AdminAddr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestGateway_Resolve(t *testing.T) {
	gw := startGateway(t,
		WithConfig(&config.Config{}),
		WithStaticRoutes(map[string]string{"api-acme": "https://api.acme.example"}),
	)

	found := resolve(t, gw, "api-acme.edge.example.com")
	if found.Fallback {
		t.Fatal("Expected custom origin for known pair")
	}
	c := found.Origin.Custom
	if c.DomainName != "api.acme.example" || c.Port != 443 || c.Protocol != "https" {
		t.Errorf("Unexpected custom origin: %+v", c)
	}
	if c.ReadTimeout != 15 || c.KeepaliveTimeout != 5 {
		t.Errorf("Unexpected timeouts: read=%d keepalive=%d", c.ReadTimeout, c.KeepaliveTimeout)
	}

	missing := resolve(t, gw, "web-unknown.edge.example.com")
	if !missing.Fallback {
		t.Fatal("Expected fallback for unknown pair")
	}
	if missing.Origin.S3.DomainName != "edge-router-fallback.s3.amazonaws.com" {
		t.Errorf("Unexpected fallback domain: %s", missing.Origin.S3.DomainName)
	}

	// Dry-run resolution publishes nothing.
	if n := len(gw.metrics.Counts()); n != 0 {
		t.Errorf("Expected no recorded outcomes, got %d", n)
	}
}

func TestGateway_EdgeRequests(t *testing.T) {
	up := &upstream{}
	gw := startGateway(t,
		WithConfig(&config.Config{}),
		WithStaticRoutes(map[string]string{"api-acme": "https://api.acme.example"}),
		WithUpstreamTransport(up),
	)

	get := func(host, path string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, "http://"+gw.EdgeAddr()+path, nil)
		req.Host = host
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("edge request failed: %v", err)
		}
		return resp
	}

	resp := get("api-acme.edge.example.com", "/v1/ping")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("custom origin status = %d", resp.StatusCode)
	}
	if string(body) != "origin api.acme.example/v1/ping" {
		t.Errorf("Unexpected body: %q", body)
	}

	resp = get("web-unknown.edge.example.com", "/")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("fallback status = %d, want 404", resp.StatusCode)
	}

	hosts := up.seen()
	if len(hosts) != 2 || hosts[0] != "api.acme.example" || hosts[1] != "edge-router-fallback.s3.amazonaws.com" {
		t.Errorf("Unexpected upstream hosts: %v", hosts)
	}

	// Events are delivered asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts := gw.metrics.Counts()
		if counts["resolved"] == 1 && counts["not_found"] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Unexpected outcome counts: %v", gw.metrics.Counts())
}

func TestGateway_AdminAuth(t *testing.T) {
	gw := startGateway(t,
		WithConfig(&config.Config{
			Admin: config.AdminConfig{APIKeys: []config.APIKeyConfig{
				{KeyHash: auth.HashAPIKey("s3cret"), Description: "ops"},
			}},
		}),
	)

	resp, err := http.Get("http://" + gw.AdminAddr() + "/api/routes")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+gw.AdminAddr()+"/api/routes", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status with key = %d, want 200", resp.StatusCode)
	}
}

func TestGateway_SQLiteAudit(t *testing.T) {
	dir := t.TempDir()
	gw := startGateway(t,
		WithConfig(&config.Config{
			Events: config.EventsConfig{Audit: true},
			Table:  config.TableConfig{Routes: map[string]string{"api-acme": "https://api.acme.example"}},
		}),
		WithSQLite(filepath.Join(dir, "routes.db")),
		WithUpstreamTransport(&upstream{}),
	)

	req, _ := http.NewRequest(http.MethodGet, "http://"+gw.EdgeAddr()+"/", nil)
	req.Host = "web-missing.edge.example.com"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("edge request failed: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := gw.auditStore.ListEvents(context.Background(), ports.EventListOptions{})
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(events) == 1 {
			if events[0].ServiceID != "web" || events[0].TenantID != "missing" {
				t.Errorf("Unexpected event: %+v", events[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected one audit event")
}

func TestGateway_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfig := func(dest string) {
		content := `
table:
  type: static
  routes:
    api-acme: ` + dest + `
`
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeConfig("https://v1.acme.example")

	gw := startGateway(t, WithFileConfig(configPath))
	if got := resolve(t, gw, "api-acme.x.com").Origin.Custom.DomainName; got != "v1.acme.example" {
		t.Fatalf("initial destination = %s", got)
	}

	writeConfig("https://v2.acme.example")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		out := resolve(t, gw, "api-acme.x.com")
		if out.Origin.Custom != nil && out.Origin.Custom.DomainName == "v2.acme.example" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("Expected destination to change after config reload")
}
