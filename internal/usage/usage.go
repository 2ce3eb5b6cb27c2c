// Package usage implements the per-provider usage extractors described in
// spec §4.3. Extractors are pure functions of their input — no hidden
// state — and must tolerate partial/malformed JSON without raising;
// streaming accumulation is the concern of package streamproc.
package usage

import "encoding/json"

// Info is the token accounting pulled from one response or chunk.
type Info struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Observation is what a streaming chunk yields: updated usage and,
// optionally, a provider-quoted USD cost for that chunk.
type Observation struct {
	Usage   Info
	CostUSD *float64
}

// Extractor is the per-provider contract: parse a complete response body,
// or parse one SSE chunk, recovering usage information if present.
type Extractor interface {
	ExtractFromResponseBody(body []byte) (Info, bool)
	ExtractFromStreamChunk(chunk []byte) (Observation, bool)
}

// parseGenericUsage recognizes both Chat-Completions-shaped usage
// (prompt_tokens/completion_tokens/total_tokens) and Response-API-shaped
// usage (input_tokens/output_tokens plus arbitrary other *_tokens fields,
// which are folded into the prompt side per spec §4.3).
func parseGenericUsage(m map[string]any) (Info, bool) {
	if m == nil {
		return Info{}, false
	}

	var info Info
	found := false

	if v, ok := numField(m, "prompt_tokens"); ok {
		info.PromptTokens = v
		found = true
	}
	if v, ok := numField(m, "completion_tokens"); ok {
		info.CompletionTokens = v
		found = true
	}
	if v, ok := numField(m, "total_tokens"); ok {
		info.TotalTokens = v
		found = true
	}

	if v, ok := numField(m, "input_tokens"); ok {
		info.PromptTokens += v
		found = true
	}
	if v, ok := numField(m, "output_tokens"); ok {
		info.CompletionTokens += v
		found = true
	}

	for key, raw := range m {
		if key == "prompt_tokens" || key == "completion_tokens" || key == "total_tokens" ||
			key == "input_tokens" || key == "output_tokens" {
			continue
		}
		if len(key) < 7 || key[len(key)-7:] != "_tokens" {
			continue
		}
		if n, ok := toInt(raw); ok {
			info.PromptTokens += n
			found = true
		}
	}

	if info.TotalTokens == 0 && found {
		info.TotalTokens = info.PromptTokens + info.CompletionTokens
	}

	return info, found
}

func numField(m map[string]any, key string) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	return toInt(raw)
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// tryUnmarshalObject tolerates partial/malformed JSON by returning ok=false
// instead of propagating the error — callers skip the chunk and continue.
func tryUnmarshalObject(data []byte) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}
