package browser

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
)

// ProxyResolver resolves the egress proxy for a browser session in strict
// priority order: explicit endpoint, discovery from candidate sources with
// geolocation validation, no proxy.
type ProxyResolver struct {
	cfg config.ProxyConfig
	log *slog.Logger

	// client is swappable for tests
	client *http.Client
}

// NewProxyResolver creates a resolver from proxy configuration.
func NewProxyResolver(cfg config.ProxyConfig, log *slog.Logger) *ProxyResolver {
	return &ProxyResolver{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: cfg.ValidateTimeout},
	}
}

// Egress is the resolved route for a browser session. A zero Endpoint
// means direct egress. Credentials, when present, are answered to the
// proxy's auth challenge rather than embedded in the endpoint URL, which
// Chrome does not accept.
type Egress struct {
	Endpoint string
	Username string
	Password string
}

// Authenticated reports whether the route carries proxy credentials.
func (e Egress) Authenticated() bool {
	return e.Endpoint != "" && e.Username != ""
}

// Resolve returns the egress route to use; a zero route means direct.
// Discovery exhaustion is a soft failure: it returns a zero route with a
// nil error after logging, never aborts the run. Only the explicit
// endpoint carries credentials; discovered candidates are anonymous.
func (r *ProxyResolver) Resolve(ctx context.Context) (Egress, error) {
	switch strings.ToLower(strings.TrimSpace(r.cfg.Mode)) {
	case "", "off":
		return Egress{}, nil
	case "endpoint":
		if r.cfg.Endpoint == "" {
			return Egress{}, fmt.Errorf("proxy mode is endpoint but no endpoint configured")
		}
		return Egress{
			Endpoint: r.cfg.Endpoint,
			Username: r.cfg.Username,
			Password: r.cfg.Password,
		}, nil
	case "discover":
		return Egress{Endpoint: r.discover(ctx)}, nil
	default:
		return Egress{}, fmt.Errorf("unknown proxy mode %q", r.cfg.Mode)
	}
}

// discover walks the candidate sources under a bounded attempt budget and
// returns the first candidate whose observed geolocation matches the allowed
// country.
func (r *ProxyResolver) discover(ctx context.Context) string {
	attempts := 0
	for _, source := range r.cfg.Sources {
		candidates, err := r.fetchCandidates(ctx, source)
		if err != nil {
			r.log.Warn("proxy source unreachable", "source", source, "error", err)
			continue
		}
		for _, candidate := range candidates {
			if attempts >= r.cfg.MaxAttempts {
				r.log.Warn("proxy discovery budget exhausted, continuing without proxy",
					"attempts", attempts)
				return ""
			}
			attempts++
			if r.validate(ctx, candidate) {
				metrics.RecordProxyValidation("accepted")
				r.log.Info("proxy candidate accepted", "endpoint", candidate, "attempt", attempts)
				return candidate
			}
			metrics.RecordProxyValidation("rejected")
		}
	}
	r.log.Warn("no proxy candidate validated, continuing without proxy", "attempts", attempts)
	return ""
}

// fetchCandidates reads one candidate-list URL, one endpoint per line.
func (r *ProxyResolver) fetchCandidates(ctx context.Context, source string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy source returned %d", resp.StatusCode)
	}

	var candidates []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		candidates = append(candidates, line)
	}
	return candidates, scanner.Err()
}

// validate routes a geolocation check through the candidate and compares
// the reported country to the allowed one.
func (r *ProxyResolver) validate(ctx context.Context, candidate string) bool {
	proxyURL, err := url.Parse(normalizeEndpoint(candidate))
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout:   r.cfg.ValidateTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.GeoCheckURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var geo struct {
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return false
	}
	return strings.EqualFold(geo.Country, r.cfg.AllowedCountry)
}

// normalizeEndpoint defaults bare host:port candidates to http scheme.
func normalizeEndpoint(candidate string) string {
	if strings.Contains(candidate, "://") {
		return candidate
	}
	return "http://" + candidate
}
