package proxy

import (
	"bytes"
	"encoding/json"
)

// decodeJSONObject tolerates a non-object or malformed body (e.g. a
// binary upload routed through a path with no body shaping needed) by
// returning ok=false instead of raising.
func decodeJSONObject(body []byte) (map[string]any, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, false
	}
	return m, true
}

// encodeJSONObject re-serializes a shaped request body; if decoding
// originally failed, the original bytes are forwarded unchanged so a
// driver's inability to parse a body never blocks the request.
func encodeJSONObject(m map[string]any, original []byte) []byte {
	if m == nil {
		return original
	}
	data, err := json.Marshal(m)
	if err != nil {
		return original
	}
	return data
}

var doneSentinel = []byte("[DONE]")

// trimSSEPrefix strips a leading "data:" prefix down to its payload;
// blank keep-alives and "event:" lines come back empty, and any other
// line (e.g. an unframed JSON object) comes back trimmed but otherwise
// unchanged.
func trimSSEPrefix(line []byte) []byte {
	line = bytes.TrimRight(line, "\r\n")
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if bytes.HasPrefix(line, []byte("data:")) {
		return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	}
	if bytes.HasPrefix(line, []byte("event:")) {
		return nil
	}
	return line
}

func isDoneSentinel(chunk []byte) bool {
	return bytes.Equal(bytes.TrimSpace(chunk), doneSentinel)
}
