// Package pricing holds the per-(provider, model) rate tables used to
// compute a USD cost when an upstream provider does not quote one itself.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"ai-gateway/internal/billing"
)

// ModelRate is the per-million-token USD rate pair for one model.
type ModelRate struct {
	PromptPerMTokUSD     float64 `json:"prompt_per_mtok_usd"`
	CompletionPerMTokUSD float64 `json:"completion_per_mtok_usd"`
}

// Usage is the token accounting the registry multiplies against a ModelRate.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a pricing calculation, matching spec §3's
// PricingResult invariants: if Source is provider, CostUSD is whatever the
// upstream reported (times markup); if gateway-pricing, it is the
// registry's own per-token computation (times markup).
type Result struct {
	CostUSD        float64
	Source         billing.CostSource
	PricingVersion string
	Model          string
	Usage          Usage
}

// familyPattern maps a model-name prefix to a canonical base model whose
// rate applies. Longest prefix wins.
type familyPattern struct {
	pattern   string
	baseModel string
}

// table is one immutable pricing snapshot: per-provider rate maps plus
// per-provider family-pattern fallback lists. Registry reads never see a
// torn mix of old/new snapshots because reload() swaps the whole pointer.
type table struct {
	rates    map[string]map[string]ModelRate  // provider -> model -> rate
	families map[string][]familyPattern       // provider -> patterns; lookup picks the longest match
	version  string
}

// Registry is process-wide shared state: loaded once at startup, read
// lock-free thereafter, and hot-reloadable via an atomic pointer swap so
// concurrent readers never observe a partially-updated table.
type Registry struct {
	snapshot atomic.Pointer[table]
	markup   float64
	reloadSF singleflight.Group
}

// NewRegistry builds a pricing registry from built-in defaults, then merges
// the PRICING_OVERRIDES environment variable (a JSON object keyed
// "provider/model" -> {prompt_per_mtok_usd, completion_per_mtok_usd}) on
// top, and applies the PRICING_MULTIPLIER global markup (default 1.0).
func NewRegistry(pricingVersion string, overridesJSON string, markup float64) (*Registry, error) {
	if markup < 0 {
		return nil, fmt.Errorf("pricing: markup must be non-negative, got %v", markup)
	}
	if markup == 0 {
		markup = 1.0
	}

	r := &Registry{markup: markup}
	t := defaultTable(pricingVersion)

	if overridesJSON != "" {
		if err := applyOverrides(t, overridesJSON); err != nil {
			return nil, fmt.Errorf("pricing: invalid PRICING_OVERRIDES: %w", err)
		}
	}

	r.snapshot.Store(t)
	return r, nil
}

func defaultTable(version string) *table {
	t := &table{
		rates:    make(map[string]map[string]ModelRate),
		families: make(map[string][]familyPattern),
		version:  version,
	}

	t.rates["openai"] = map[string]ModelRate{
		"gpt-4":         {30.00, 60.00},
		"gpt-4o":        {2.50, 10.00},
		"gpt-4o-mini":   {0.15, 0.60},
		"gpt-4-turbo":   {10.00, 30.00},
		"gpt-3.5-turbo": {0.50, 1.50},
		"o1":            {15.00, 60.00},
		"o1-mini":       {3.00, 12.00},
	}
	t.families["openai"] = []familyPattern{
		{"gpt-4o-mini", "gpt-4o-mini"},
		{"gpt-4o", "gpt-4o"},
		{"gpt-4-turbo", "gpt-4-turbo"},
		{"gpt-4", "gpt-4"},
		{"gpt-3.5-turbo", "gpt-3.5-turbo"},
		{"o1-mini", "o1-mini"},
		{"o1", "o1"},
	}

	t.rates["claude"] = map[string]ModelRate{
		"claude-sonnet-4-20250514": {3.00, 15.00},
		"claude-3-5-sonnet":        {3.00, 15.00},
		"claude-3-5-haiku":         {0.80, 4.00},
		"claude-3-opus":            {15.00, 75.00},
		"claude-3-sonnet":          {3.00, 15.00},
		"claude-3-haiku":           {0.25, 1.25},
	}
	t.families["claude"] = []familyPattern{
		{"claude-3-5-sonnet", "claude-3-5-sonnet"},
		{"claude-3-5-haiku", "claude-3-5-haiku"},
		{"claude-3-opus", "claude-3-opus"},
		{"claude-3-sonnet", "claude-3-sonnet"},
		{"claude-3-haiku", "claude-3-haiku"},
		{"claude-sonnet-4", "claude-sonnet-4-20250514"},
	}

	t.rates["google"] = map[string]ModelRate{
		"gemini-2.0-flash":      {0.10, 0.40},
		"gemini-2.0-flash-lite": {0, 0},
		"gemini-1.5-pro":        {1.25, 5.00},
		"gemini-1.5-flash":      {0.075, 0.30},
	}
	t.families["google"] = []familyPattern{
		{"gemini-2.0-flash-lite", "gemini-2.0-flash-lite"},
		{"gemini-2.0-flash", "gemini-2.0-flash"},
		{"gemini-1.5-pro", "gemini-1.5-pro"},
		{"gemini-1.5-flash", "gemini-1.5-flash"},
	}

	// OpenRouter and LiteLLM normally quote native USD cost (spec §4.3); these
	// tables exist only as a gateway-pricing fallback when that's absent.
	t.rates["openrouter"] = map[string]ModelRate{}
	t.rates["litellm"] = map[string]ModelRate{}

	return t
}

func applyOverrides(t *table, overridesJSON string) error {
	var overrides map[string]ModelRate
	if err := json.Unmarshal([]byte(overridesJSON), &overrides); err != nil {
		return err
	}
	for key, rate := range overrides {
		provider, model, ok := strings.Cut(key, "/")
		if !ok {
			return fmt.Errorf("override key %q must be \"provider/model\"", key)
		}
		if t.rates[provider] == nil {
			t.rates[provider] = make(map[string]ModelRate)
		}
		t.rates[provider][model] = rate
	}
	return nil
}

// GetPricing returns the rate for (provider, model): exact match first,
// then the longest-matching family pattern. Returns false if nothing
// matches — unknown models never crash the caller.
func (r *Registry) GetPricing(provider, model string) (ModelRate, bool) {
	t := r.snapshot.Load()
	byModel, ok := t.rates[provider]
	if !ok {
		return ModelRate{}, false
	}
	if rate, ok := byModel[model]; ok {
		return rate, true
	}

	var best familyPattern
	bestLen := -1
	for _, fp := range t.families[provider] {
		if strings.HasPrefix(model, fp.pattern) && len(fp.pattern) > bestLen {
			best = fp
			bestLen = len(fp.pattern)
		}
	}
	if bestLen < 0 {
		return ModelRate{}, false
	}
	rate, ok := byModel[best.baseModel]
	return rate, ok
}

// CalculateProviderCost computes a Result purely from local rate tables.
// Returns nil if no table entry matches provider/model.
func (r *Registry) CalculateProviderCost(provider, model string, usage Usage) *Result {
	rate, ok := r.GetPricing(provider, model)
	if !ok {
		return nil
	}

	cost := (float64(usage.PromptTokens)/1e6)*rate.PromptPerMTokUSD +
		(float64(usage.CompletionTokens)/1e6)*rate.CompletionPerMTokUSD
	cost *= r.markup

	return &Result{
		CostUSD:        cost,
		Source:         billing.SourceGatewayPricing,
		PricingVersion: r.snapshot.Load().version,
		Model:          model,
		Usage:          usage,
	}
}

// CalculateRequestCost applies the precedence rule centralized here per
// spec §9: a provider-reported cost always wins over gateway pricing.
func (r *Registry) CalculateRequestCost(provider, model string, providerCostUSD *float64, usage *Usage) *Result {
	if providerCostUSD != nil {
		res := &Result{
			CostUSD:        *providerCostUSD * r.markup,
			Source:         billing.SourceProvider,
			PricingVersion: r.snapshot.Load().version,
			Model:          model,
		}
		if usage != nil {
			res.Usage = *usage
		}
		return res
	}
	if usage == nil {
		return nil
	}
	return r.CalculateProviderCost(provider, model, *usage)
}

// UpdatePricing hot-patches a single (provider, model) rate by cloning the
// current snapshot, mutating the clone, and atomically swapping it in —
// readers never observe a torn table.
func (r *Registry) UpdatePricing(provider, model string, rate ModelRate) {
	old := r.snapshot.Load()
	next := cloneTable(old)
	if next.rates[provider] == nil {
		next.rates[provider] = make(map[string]ModelRate)
	}
	next.rates[provider][model] = rate
	r.snapshot.Store(next)
}

// Reload replaces the entire table with the defaults plus the given
// overrides JSON (the caller supplies it, e.g. a fresh PRICING_OVERRIDES
// value). It is a single atomic pointer swap; concurrent callers racing
// Reload with the same arguments collapse into one rebuild via
// singleflight, so a burst of admin reload calls builds the table once
// rather than once per caller.
func (r *Registry) Reload(pricingVersion, overridesJSON string) error {
	_, err, _ := r.reloadSF.Do(pricingVersion+"\x00"+overridesJSON, func() (any, error) {
		t := defaultTable(pricingVersion)
		if overridesJSON != "" {
			if err := applyOverrides(t, overridesJSON); err != nil {
				return nil, err
			}
		}
		r.snapshot.Store(t)
		return nil, nil
	})
	return err
}

// Version returns the pricing table's version tag for access-log records.
func (r *Registry) Version() string {
	return r.snapshot.Load().version
}

func cloneTable(t *table) *table {
	next := &table{
		rates:    make(map[string]map[string]ModelRate, len(t.rates)),
		families: make(map[string][]familyPattern, len(t.families)),
		version:  t.version,
	}
	for provider, models := range t.rates {
		m := make(map[string]ModelRate, len(models))
		for k, v := range models {
			m[k] = v
		}
		next.rates[provider] = m
	}
	for provider, fps := range t.families {
		cp := make([]familyPattern, len(fps))
		copy(cp, fps)
		next.families[provider] = cp
	}
	return next
}

// LoadOverridesFromEnv reads the PRICING_OVERRIDES environment variable,
// returning "" if unset (distinguishing "no override" from "empty object").
func LoadOverridesFromEnv() string {
	return os.Getenv("PRICING_OVERRIDES")
}
