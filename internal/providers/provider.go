// Package providers implements the plug-in layer that normalizes
// heterogeneous upstream LLM APIs behind one Driver contract: prepare a
// request, forward it, and report a native cost when the upstream
// quotes one itself.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrorInfo carries a failure surfaced from an upstream call. Network
// failures (DNS, connect refused, timeout) get StatusCode 0; upstream
// HTTP error responses preserve the upstream status and body so the
// client sees the real failure instead of a generic 502.
type ErrorInfo struct {
	Message    string
	StatusCode int
	Details    []byte
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Driver is the contract every provider variant implements. A Driver is
// stateless with respect to any single request: PrepareRequestData and
// ExtractProviderUsageUSD are pure functions, ForwardRequest is the only
// method that talks to the network.
type Driver interface {
	// Name is the provider's unique lowercase tag, e.g. "openai".
	Name() string

	// SupportedPaths lists the upstream request paths this driver
	// accepts. ProviderConfig.AllowedPaths must be a superset.
	SupportedPaths() []string

	// PrepareRequestData shapes an outbound request body before it is
	// forwarded: injecting usage-tracking flags, translating message
	// formats, filling in a default model. The input map is the
	// client's decoded JSON body; PrepareRequestData returns the body
	// to actually send upstream.
	PrepareRequestData(data map[string]any, isStream bool) map[string]any

	// ForwardRequest performs the HTTPS call to the upstream using
	// whatever auth scheme this provider requires (Bearer, x-api-key,
	// query-string API key, ...). Returns either a *http.Response (for
	// the caller to stream or buffer) or a typed ErrorInfo.
	ForwardRequest(req UpstreamRequest) (*http.Response, *ErrorInfo)

	// ExtractProviderUsageUSD reads a native USD cost from an upstream
	// response, if the provider quotes one. Only OpenRouter (body
	// usage.cost) and LiteLLM (x-litellm-response-cost header) do this;
	// other drivers return ok=false and leave costing to the gateway's
	// own pricing registry. For streamed responses body is nil.
	ExtractProviderUsageUSD(resp *http.Response, body []byte) (cost float64, ok bool)

	// TestConnection does a lightweight reachability probe against the
	// upstream, for the admin config surface — never on the billing
	// hot path.
	TestConnection() error
}

// UpstreamRequest is what a caller hands a driver to forward. Ctx is the
// inbound client request's context; every driver must dial upstream with
// http.NewRequestWithContext(req.Ctx, ...) so a client disconnect cancels
// the upstream call instead of letting it run to completion.
type UpstreamRequest struct {
	Ctx    context.Context
	Path   string
	Method string
	Body   []byte
	Stream bool
}

// Config is the per-provider static configuration: base URL, auth
// material, the path allowlist, and the model fallback used when a
// client omits "model".
type Config struct {
	Name           string
	BaseURL        string
	APIKey         string
	RequiresAPIKey bool
	DefaultModel   string
	AllowedModels  []string
	AllowedPaths   map[string]bool
	TimeoutSeconds int
}

// Registry holds the set of enabled providers, keyed by name. It is
// built once at startup from Config; reads after that point take only
// a read lock, so resolving a provider on the hot path never contends
// with another request.
type Registry struct {
	mu        sync.RWMutex
	configs   map[string]Config
	drivers   map[string]Driver
	defaultBy string
}

func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		configs:   make(map[string]Config),
		drivers:   make(map[string]Driver),
		defaultBy: defaultProvider,
	}
}

// Register adds a provider. It fails closed: a provider that requires
// an API key but has none configured, or whose driver accepts a path
// outside its own AllowedPaths, is rejected rather than silently
// half-wired.
func (r *Registry) Register(cfg Config, driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.Name]; exists {
		return fmt.Errorf("providers: %q already registered", cfg.Name)
	}
	if cfg.RequiresAPIKey && cfg.APIKey == "" {
		return fmt.Errorf("providers: %q requires an API key but none was configured", cfg.Name)
	}
	for _, p := range driver.SupportedPaths() {
		if cfg.AllowedPaths == nil || !cfg.AllowedPaths[p] {
			return fmt.Errorf("providers: %q allowedPaths must include driver path %q", cfg.Name, p)
		}
	}

	r.configs[cfg.Name] = cfg
	r.drivers[cfg.Name] = driver
	return nil
}

// Unregister removes a provider, e.g. when an admin call disables it.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, name)
	delete(r.drivers, name)
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[name]
	return ok
}

func (r *Registry) Get(name string) (Config, Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	if !ok {
		return Config{}, nil, false
	}
	return cfg, r.drivers[name], true
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// ResolveErr distinguishes "no such provider enabled" (maps to 503 at
// the HTTP layer) from "path not allowed for this provider" (404).
type ResolveErr struct {
	NotEnabled bool
	NotAllowed bool
	Provider   string
	Path       string
}

func (e *ResolveErr) Error() string {
	if e.NotEnabled {
		return fmt.Sprintf("provider %q not enabled", e.Provider)
	}
	return fmt.Sprintf("path %q not allowed for provider %q", e.Path, e.Provider)
}

// Resolve picks a provider: an explicit X-LLM-Provider header wins,
// then a path-prefix hint (e.g. /api/v1/claude/v1/messages), then the
// configured LLM_BACKEND default. Once a provider is chosen, the
// request path must be in its AllowedPaths or resolution fails closed.
func (r *Registry) Resolve(headerProvider, pathProvider, path string) (Config, Driver, error) {
	name := headerProvider
	if name == "" {
		name = pathProvider
	}
	if name == "" {
		name = r.defaultBy
	}

	cfg, driver, ok := r.Get(name)
	if !ok {
		return Config{}, nil, &ResolveErr{NotEnabled: true, Provider: name}
	}
	if path != "" && !pathAllowed(cfg.Name, cfg.AllowedPaths, path) {
		return Config{}, nil, &ResolveErr{NotAllowed: true, Provider: name, Path: path}
	}
	return cfg, driver, nil
}

// probeGet performs a short-timeout GET used by each driver's
// TestConnection: a 5xx response or transport failure is reported as
// an error (a 4xx still proves the upstream is reachable), but the
// body is never read — this is a
// reachability check, not a functional one.
func probeGet(url string, decorate func(*http.Request)) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if decorate != nil {
		decorate(req)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// pathAllowed reports whether path matches one of allowed's entries.
// Every provider's paths are exact matches (spec §3/§8: p must be a
// member of allowedPaths) except Google's, which is parameterized by
// model and registered as the prefix "/v1beta/models" against upstream
// paths like "/v1beta/models/gemini-1.5-pro:generateContent".
func pathAllowed(provider string, allowed map[string]bool, path string) bool {
	if allowed[path] {
		return true
	}
	if provider != "google" {
		return false
	}
	for prefix := range allowed {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
