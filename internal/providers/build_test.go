package providers

import "testing"

func TestBuildSkipsProviderWithoutAPIKey(t *testing.T) {
	reg, errs := Build("openai", map[string]RawProviderConfig{
		"openai": {APIKey: ""},
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if reg.Has("openai") {
		t.Error("openai without an API key should not be registered")
	}
}

func TestBuildRegistersGoogleWithoutAPIKey(t *testing.T) {
	reg, errs := Build("google", map[string]RawProviderConfig{
		"google": {APIKey: ""},
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !reg.Has("google") {
		t.Error("google should register even without an API key")
	}
}

func TestBuildRegistersAllFiveKnownProviders(t *testing.T) {
	raw := map[string]RawProviderConfig{
		"openai":     {APIKey: "sk-a"},
		"claude":     {APIKey: "sk-b"},
		"google":     {APIKey: "sk-c"},
		"openrouter": {APIKey: "sk-d"},
		"litellm":    {APIKey: "sk-e"},
	}
	reg, errs := Build("openai", raw)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	for name := range raw {
		if !reg.Has(name) {
			t.Errorf("expected %q to be registered", name)
		}
	}
}

func TestBuildIgnoresUnknownProviderName(t *testing.T) {
	reg, errs := Build("openai", map[string]RawProviderConfig{
		"not-a-real-provider": {APIKey: "sk-z"},
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if reg.Has("not-a-real-provider") {
		t.Error("an unrecognized provider name should never be registered")
	}
}

func TestBuildDerivesAllowedPathsFromDriver(t *testing.T) {
	reg, _ := Build("openai", map[string]RawProviderConfig{
		"openai": {APIKey: "sk-a"},
	})
	cfg, driver, ok := reg.Get("openai")
	if !ok {
		t.Fatal("expected openai to be registered")
	}
	for _, p := range driver.SupportedPaths() {
		if !cfg.AllowedPaths[p] {
			t.Errorf("AllowedPaths missing driver path %q", p)
		}
	}
}

func TestBuildDefaultsTimeout(t *testing.T) {
	reg, _ := Build("openai", map[string]RawProviderConfig{
		"openai": {APIKey: "sk-a", TimeoutSeconds: 0},
	})
	cfg, _, _ := reg.Get("openai")
	if cfg.TimeoutSeconds != 120 {
		t.Errorf("TimeoutSeconds = %d, want 120 default", cfg.TimeoutSeconds)
	}
}
