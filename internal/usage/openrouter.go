package usage

// OpenRouterExtractor handles OpenRouter's Chat-Completions-shaped usage,
// which may additionally carry a native "cost" field (authoritative USD
// cost) in both the final non-stream body and terminal SSE chunks.
type OpenRouterExtractor struct{}

func NewOpenRouterExtractor() *OpenRouterExtractor { return &OpenRouterExtractor{} }

func (e *OpenRouterExtractor) ExtractFromResponseBody(body []byte) (Info, bool) {
	m, ok := tryUnmarshalObject(body)
	if !ok {
		return Info{}, false
	}
	u, ok := m["usage"].(map[string]any)
	if !ok {
		return Info{}, false
	}
	info, found := parseGenericUsage(u)
	return info, found
}

func (e *OpenRouterExtractor) ExtractFromStreamChunk(chunk []byte) (Observation, bool) {
	m, ok := tryUnmarshalObject(chunk)
	if !ok {
		return Observation{}, false
	}
	u, ok := m["usage"].(map[string]any)
	if !ok {
		return Observation{}, false
	}
	info, found := parseGenericUsage(u)
	if !found {
		return Observation{}, false
	}
	obs := Observation{Usage: info}
	if cost, ok := numFieldFloat(u, "cost"); ok {
		obs.CostUSD = &cost
	}
	return obs, true
}

// ExtractProviderUSD reads the non-stream body's usage.cost field, which is
// authoritative over gateway pricing when present.
func (e *OpenRouterExtractor) ExtractProviderUSD(body []byte) (float64, bool) {
	m, ok := tryUnmarshalObject(body)
	if !ok {
		return 0, false
	}
	u, ok := m["usage"].(map[string]any)
	if !ok {
		return 0, false
	}
	return numFieldFloat(u, "cost")
}

func numFieldFloat(m map[string]any, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	return f, ok
}
