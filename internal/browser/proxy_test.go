package browser

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"

	"github.com/medflow-ops/claimbridge/internal/shared/config"
)

func testResolver(cfg config.ProxyConfig) *ProxyResolver {
	if cfg.ValidateTimeout == 0 {
		cfg.ValidateTimeout = 2 * time.Second
	}
	return NewProxyResolver(cfg, slog.New(slog.DiscardHandler))
}

func TestResolveModeOff(t *testing.T) {
	for _, mode := range []string{"", "off", "OFF", "  off  "} {
		r := testResolver(config.ProxyConfig{Mode: mode})
		got, err := r.Resolve(context.Background())
		if err != nil {
			t.Fatalf("Resolve(mode=%q) error = %v", mode, err)
		}
		if got.Endpoint != "" {
			t.Errorf("Resolve(mode=%q) = %q, want direct egress", mode, got.Endpoint)
		}
	}
}

func TestResolveModeEndpoint(t *testing.T) {
	r := testResolver(config.ProxyConfig{Mode: "endpoint", Endpoint: "http://proxy.internal:3128"})
	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Endpoint != "http://proxy.internal:3128" {
		t.Errorf("Resolve() endpoint = %q", got.Endpoint)
	}
	if got.Authenticated() {
		t.Error("endpoint without credentials reported authenticated")
	}
}

func TestResolveModeEndpointCarriesCredentials(t *testing.T) {
	r := testResolver(config.ProxyConfig{
		Mode:     "endpoint",
		Endpoint: "http://proxy.internal:3128",
		Username: "egress-user",
		Password: "egress-pass",
	})
	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !got.Authenticated() {
		t.Fatal("configured credentials dropped from resolved route")
	}
	if got.Username != "egress-user" || got.Password != "egress-pass" {
		t.Errorf("credentials = %q/%q", got.Username, got.Password)
	}
}

func TestResolveModeEndpointMissingEndpoint(t *testing.T) {
	r := testResolver(config.ProxyConfig{Mode: "endpoint"})
	if _, err := r.Resolve(context.Background()); err == nil {
		t.Error("endpoint mode without an endpoint accepted")
	}
}

func TestResolveUnknownMode(t *testing.T) {
	r := testResolver(config.ProxyConfig{Mode: "socks-chain"})
	if _, err := r.Resolve(context.Background()); err == nil {
		t.Error("unknown proxy mode accepted")
	}
}

func TestDiscoverExhaustionIsSoftFailure(t *testing.T) {
	// No sources configured: discovery finds nothing and the session
	// proceeds without a proxy rather than failing the run.
	r := testResolver(config.ProxyConfig{Mode: "discover", MaxAttempts: 3})
	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v, want soft failure", err)
	}
	if got.Endpoint != "" {
		t.Errorf("Resolve() = %q, want direct egress", got.Endpoint)
	}
}

func TestDiscoverUnreachableSourceIsSoftFailure(t *testing.T) {
	r := testResolver(config.ProxyConfig{
		Mode:        "discover",
		Sources:     []string{"http://127.0.0.1:1/proxies.txt"},
		MaxAttempts: 3,
	})
	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v, want soft failure", err)
	}
	if got.Endpoint != "" {
		t.Errorf("Resolve() = %q, want direct egress", got.Endpoint)
	}
}

func TestDiscoveredCandidatesStayAnonymous(t *testing.T) {
	// Endpoint credentials must never leak onto a discovered candidate;
	// they authenticate the explicit proxy only.
	r := testResolver(config.ProxyConfig{
		Mode:        "discover",
		Username:    "egress-user",
		Password:    "egress-pass",
		MaxAttempts: 3,
	})
	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Username != "" || got.Password != "" {
		t.Errorf("discovered route carries credentials %q/%q", got.Username, got.Password)
	}
}

func TestProxyAuthResponse(t *testing.T) {
	resp := proxyAuthResponse("egress-user", "egress-pass")
	if resp.Response != fetch.AuthChallengeResponseResponseProvideCredentials {
		t.Errorf("response = %q, want provide-credentials", resp.Response)
	}
	if resp.Username != "egress-user" || resp.Password != "egress-pass" {
		t.Errorf("credentials = %q/%q", resp.Username, resp.Password)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.1:8080", "http://10.0.0.1:8080"},
		{"http://10.0.0.1:8080", "http://10.0.0.1:8080"},
		{"socks5://10.0.0.1:1080", "socks5://10.0.0.1:1080"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.in); got != tt.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
