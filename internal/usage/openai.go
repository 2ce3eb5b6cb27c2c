package usage

// OpenAIExtractor handles both OpenAI wire shapes: Chat Completions
// (prompt_tokens/completion_tokens) and the Response API
// (response.completed events carrying input_tokens/output_tokens plus
// tool-token fields, which are folded into the prompt side).
type OpenAIExtractor struct{}

func NewOpenAIExtractor() *OpenAIExtractor { return &OpenAIExtractor{} }

func (e *OpenAIExtractor) ExtractFromResponseBody(body []byte) (Info, bool) {
	m, ok := tryUnmarshalObject(body)
	if !ok {
		return Info{}, false
	}

	// Response API wraps usage one level deeper, under "response".
	if resp, ok := m["response"].(map[string]any); ok {
		if u, ok := resp["usage"].(map[string]any); ok {
			return parseGenericUsage(u)
		}
	}

	u, ok := m["usage"].(map[string]any)
	if !ok {
		return Info{}, false
	}
	return parseGenericUsage(u)
}

// ExtractFromStreamChunk recognizes both the Chat Completions
// `data: {...usage...}` shape (only present when stream_options.include_usage
// is set) and the Response API `event: response.completed` /
// `data: {response:{usage:...}}` shape.
func (e *OpenAIExtractor) ExtractFromStreamChunk(chunk []byte) (Observation, bool) {
	m, ok := tryUnmarshalObject(chunk)
	if !ok {
		return Observation{}, false
	}

	if resp, ok := m["response"].(map[string]any); ok {
		if u, ok := resp["usage"].(map[string]any); ok {
			info, found := parseGenericUsage(u)
			if !found {
				return Observation{}, false
			}
			return Observation{Usage: info}, true
		}
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
