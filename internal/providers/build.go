package providers

// Build constructs a Registry from per-provider config, wiring each
// driver constructor to its Config and deriving AllowedPaths from the
// driver's own SupportedPaths (spec §6: five backends, no others). A
// provider whose API key is empty is skipped rather than registered
// half-wired, except Google, whose generous free tier means an empty
// key is a legitimate (if rate-limited) configuration.
func Build(defaultProvider string, raw map[string]RawProviderConfig) (*Registry, []error) {
	reg := NewRegistry(defaultProvider)
	var errs []error

	for name, rp := range raw {
		cfg := Config{
			Name:           name,
			BaseURL:        rp.BaseURL,
			APIKey:         rp.APIKey,
			RequiresAPIKey: name != "google",
			DefaultModel:   rp.DefaultModel,
			TimeoutSeconds: rp.TimeoutSeconds,
		}
		if cfg.TimeoutSeconds <= 0 {
			cfg.TimeoutSeconds = 120
		}

		var driver Driver
		switch name {
		case "openai":
			driver = NewOpenAIDriver(cfg)
		case "claude":
			driver = NewClaudeDriver(cfg)
		case "google":
			driver = NewGoogleDriver(cfg)
		case "openrouter":
			driver = NewOpenRouterDriver(cfg)
		case "litellm":
			driver = NewLiteLLMDriver(cfg)
		default:
			continue
		}

		if cfg.RequiresAPIKey && cfg.APIKey == "" {
			continue
		}

		cfg.AllowedPaths = make(map[string]bool, len(driver.SupportedPaths()))
		for _, p := range driver.SupportedPaths() {
			cfg.AllowedPaths[p] = true
		}

		if err := reg.Register(cfg, driver); err != nil {
			errs = append(errs, err)
		}
	}

	return reg, errs
}

// RawProviderConfig is the subset of config.ProviderConfig this package
// needs, duplicated here rather than imported to keep providers free of
// a dependency on the config package.
type RawProviderConfig struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	TimeoutSeconds int
}
