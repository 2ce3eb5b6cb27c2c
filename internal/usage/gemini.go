package usage

import "bytes"

// GeminiExtractor parses Google Gemini generateContent / streamGenerateContent
// responses. usageMetadata.{promptTokenCount, candidatesTokenCount} is
// cumulative across a stream, same caveat as Claude: per-field maximum
// accumulation happens in package streamproc, not here.
type GeminiExtractor struct{}

func NewGeminiExtractor() *GeminiExtractor { return &GeminiExtractor{} }

func (e *GeminiExtractor) ExtractFromResponseBody(body []byte) (Info, bool) {
	m, ok := tryUnmarshalObject(body)
	if !ok {
		return Info{}, false
	}
	return e.fromUsageMetadata(m)
}

// ExtractFromStreamChunk tolerates an optional "data: " SSE prefix, since
// Gemini's streamed objects may or may not be SSE-framed depending on the
// ?alt=sse query parameter.
func (e *GeminiExtractor) ExtractFromStreamChunk(chunk []byte) (Observation, bool) {
	chunk = bytes.TrimPrefix(chunk, []byte("data: "))
	chunk = bytes.TrimSpace(chunk)
	if len(chunk) == 0 {
		return Observation{}, false
	}

	m, ok := tryUnmarshalObject(chunk)
	if !ok {
		return Observation{}, false
	}

	info, found := e.fromUsageMetadata(m)
	if !found {
		return Observation{}, false
	}
	return Observation{Usage: info}, true
}

func (e *GeminiExtractor) fromUsageMetadata(m map[string]any) (Info, bool) {
	um, ok := m["usageMetadata"].(map[string]any)
	if !ok {
		return Info{}, false
	}

	var info Info
	found := false
	if v, ok := numField(um, "promptTokenCount"); ok {
		info.PromptTokens = v
		found = true
	}
	if v, ok := numField(um, "candidatesTokenCount"); ok {
		info.CompletionTokens = v
		found = true
	}
	if v, ok := numField(um, "totalTokenCount"); ok {
		info.TotalTokens = v
	} else {
		info.TotalTokens = info.PromptTokens + info.CompletionTokens
	}
	return info, found
}
