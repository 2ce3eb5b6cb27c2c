package usage

// ClaudeExtractor parses Claude Messages API SSE events. message_start
// carries input_tokens (and output_tokens=0); subsequent message_delta
// events carry a cumulative output_tokens; message_stop marks completion.
// This extractor only surfaces each raw observation — per-field maximum
// accumulation to avoid double-counting belongs to package streamproc.
type ClaudeExtractor struct{}

func NewClaudeExtractor() *ClaudeExtractor { return &ClaudeExtractor{} }

func (e *ClaudeExtractor) ExtractFromResponseBody(body []byte) (Info, bool) {
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

func (e *ClaudeExtractor) ExtractFromStreamChunk(chunk []byte) (Observation, bool) {
	event, ok := tryUnmarshalObject(chunk)
	if !ok {
		return Observation{}, false
	}

	eventType, _ := event["type"].(string)

	var u map[string]any
	switch eventType {
	case "message_start":
		if msg, ok := event["message"].(map[string]any); ok {
			u, _ = msg["usage"].(map[string]any)
		}
	case "message_delta", "message_stop":
		u, _ = event["usage"].(map[string]any)
	default:
		// content_block_delta and friends carry no usage.
		return Observation{}, false
	}

	if u == nil {
		return Observation{}, false
	}
	info, found := parseGenericUsage(u)
	if !found {
		return Observation{}, false
	}
	return Observation{Usage: info}, true
}

// IsTerminal reports whether the SSE event marks the end of a Claude
// stream, i.e. message_stop.
func (e *ClaudeExtractor) IsTerminal(chunk []byte) bool {
	event, ok := tryUnmarshalObject(chunk)
	if !ok {
		return false
	}
	t, _ := event["type"].(string)
	return t == "message_stop"
}
