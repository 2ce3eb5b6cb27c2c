package usage

import "strconv"

// LiteLLMExtractor handles LiteLLM's Chat-Completions-shaped usage. Native
// USD cost for LiteLLM comes from the HTTP response header
// x-litellm-response-cost, not from the body, so it is carried through a
// separate channel (see ProviderCostFromHeader) rather than this
// extractor's body parsing.
type LiteLLMExtractor struct{}

func NewLiteLLMExtractor() *LiteLLMExtractor { return &LiteLLMExtractor{} }

func (e *LiteLLMExtractor) ExtractFromResponseBody(body []byte) (Info, bool) {
	m, ok := tryUnmarshalObject(body)
	if !ok {
		return Info{}, false
	}
	u, ok := m["usage"].(map[string]any)
	if !ok {
		return Info{}, false
	}
	return parseGenericUsage(u)
}

func (e *LiteLLMExtractor) ExtractFromStreamChunk(chunk []byte) (Observation, bool) {
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
	return Observation{Usage: info}, true
}

// ProviderCostFromHeader parses the x-litellm-response-cost header value.
func ProviderCostFromHeader(headerValue string) (float64, bool) {
	if headerValue == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(headerValue, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
