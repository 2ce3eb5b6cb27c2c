package pricing

import (
	"testing"

	"ai-gateway/internal/billing"
)

func TestGetPricingExactMatch(t *testing.T) {
	reg, err := NewRegistry("v1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	rate, ok := reg.GetPricing("openai", "gpt-4o")
	if !ok || rate.PromptPerMTokUSD != 2.50 {
		t.Errorf("got %+v ok=%v", rate, ok)
	}
}

func TestGetPricingFamilyPrefixFallback(t *testing.T) {
	reg, err := NewRegistry("v1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	// "claude-sonnet-4-20250514-preview" isn't an exact entry, but should
	// fall back to the claude-sonnet-4 family pattern.
	rate, ok := reg.GetPricing("claude", "claude-sonnet-4-20250514-preview")
	if !ok {
		t.Fatal("expected a family-pattern match")
	}
	want, _ := reg.GetPricing("claude", "claude-sonnet-4-20250514")
	if rate != want {
		t.Errorf("got %+v, want %+v", rate, want)
	}
}

func TestGetPricingLongestPrefixWins(t *testing.T) {
	reg, err := NewRegistry("v1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	// "gpt-4o-mini-2024" should match "gpt-4o-mini", not the shorter "gpt-4o".
	rate, ok := reg.GetPricing("openai", "gpt-4o-mini-2024")
	if !ok {
		t.Fatal("expected a match")
	}
	want := reg.mustRate(t, "openai", "gpt-4o-mini")
	if rate != want {
		t.Errorf("longest prefix should win: got %+v, want %+v", rate, want)
	}
}

func (r *Registry) mustRate(t *testing.T, provider, model string) ModelRate {
	t.Helper()
	rate, ok := r.GetPricing(provider, model)
	if !ok {
		t.Fatalf("no rate for %s/%s", provider, model)
	}
	return rate
}

func TestGetPricingUnknownModel(t *testing.T) {
	reg, err := NewRegistry("v1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.GetPricing("openai", "totally-unknown-model"); ok {
		t.Error("expected no match for an unknown model")
	}
	if _, ok := reg.GetPricing("unknown-provider", "gpt-4o"); ok {
		t.Error("expected no match for an unknown provider")
	}
}

func TestNewRegistryRejectsNegativeMarkup(t *testing.T) {
	if _, err := NewRegistry("v1", "", -1); err == nil {
		t.Error("expected an error for a negative markup")
	}
}

func TestNewRegistryZeroMarkupDefaultsToOne(t *testing.T) {
	reg, err := NewRegistry("v1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if reg.markup != 1.0 {
		t.Errorf("markup = %v, want 1.0", reg.markup)
	}
}

func TestCalculateProviderCostAppliesMarkup(t *testing.T) {
	reg, err := NewRegistry("v1", "", 2.0)
	if err != nil {
		t.Fatal(err)
	}
	result := reg.CalculateProviderCost("openai", "gpt-4o", Usage{PromptTokens: 1_000_000, CompletionTokens: 0})
	if result == nil {
		t.Fatal("expected a result")
	}
	if result.CostUSD != 5.0 { // 2.50 * 2.0 markup
		t.Errorf("CostUSD = %v, want 5.0", result.CostUSD)
	}
	if result.Source != billing.SourceGatewayPricing {
		t.Errorf("Source = %v, want gateway-pricing", result.Source)
	}
}

func TestCalculateRequestCostProviderCostWinsOverGatewayPricing(t *testing.T) {
	reg, err := NewRegistry("v1", "", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	providerCost := 0.0042
	u := Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}

	result := reg.CalculateRequestCost("openai", "gpt-4o", &providerCost, &u)
	if result == nil || result.CostUSD != providerCost {
		t.Errorf("expected provider cost to win, got %+v", result)
	}
	if result.Source != billing.SourceProvider {
		t.Errorf("Source = %v, want provider", result.Source)
	}
}

func TestCalculateRequestCostFallsBackToGatewayPricing(t *testing.T) {
	reg, err := NewRegistry("v1", "", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	u := Usage{PromptTokens: 1_000_000, CompletionTokens: 0}

	result := reg.CalculateRequestCost("openai", "gpt-4o", nil, &u)
	if result == nil || result.Source != billing.SourceGatewayPricing {
		t.Errorf("expected gateway-pricing fallback, got %+v", result)
	}
}

func TestApplyOverrides(t *testing.T) {
	reg, err := NewRegistry("v1", `{"openai/gpt-4o":{"prompt_per_mtok_usd":1,"completion_per_mtok_usd":2}}`, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	rate, ok := reg.GetPricing("openai", "gpt-4o")
	if !ok || rate.PromptPerMTokUSD != 1 || rate.CompletionPerMTokUSD != 2 {
		t.Errorf("override was not applied, got %+v", rate)
	}
}

func TestApplyOverridesRejectsMalformedKey(t *testing.T) {
	if _, err := NewRegistry("v1", `{"not-a-provider-slash-model":{}}`, 1.0); err == nil {
		t.Error("expected an error for a key without a provider/model separator")
	}
}

func TestUpdatePricingDoesNotMutateOldSnapshot(t *testing.T) {
	reg, err := NewRegistry("v1", "", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	before := reg.snapshot.Load()

	reg.UpdatePricing("openai", "gpt-4o", ModelRate{PromptPerMTokUSD: 99, CompletionPerMTokUSD: 99})

	if before.rates["openai"]["gpt-4o"].PromptPerMTokUSD == 99 {
		t.Error("UpdatePricing must not mutate the previously-loaded snapshot")
	}
	rate, _ := reg.GetPricing("openai", "gpt-4o")
	if rate.PromptPerMTokUSD != 99 {
		t.Errorf("new snapshot should reflect the update, got %+v", rate)
	}
}

func TestReloadReplacesTableAndVersion(t *testing.T) {
	reg, err := NewRegistry("v1", "", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Reload("v2", `{"openai/gpt-4o":{"prompt_per_mtok_usd":7,"completion_per_mtok_usd":8}}`); err != nil {
		t.Fatal(err)
	}
	if reg.Version() != "v2" {
		t.Errorf("Version() = %q, want v2", reg.Version())
	}
	rate, _ := reg.GetPricing("openai", "gpt-4o")
	if rate.PromptPerMTokUSD != 7 {
		t.Errorf("got %+v", rate)
	}
}

func TestReloadCollapsesConcurrentCallers(t *testing.T) {
	reg, err := NewRegistry("v1", "", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- reg.Reload("v3", "")
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent Reload returned error: %v", err)
		}
	}
	if reg.Version() != "v3" {
		t.Errorf("Version() = %q, want v3", reg.Version())
	}
}
