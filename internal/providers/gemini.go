package providers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GoogleDriver speaks Google's generateContent / streamGenerateContent
// API. Unlike the other drivers, auth rides in the URL's ?key= query
// parameter rather than a header, and model selection is part of the
// path rather than the body. cfg.BaseURL is the bare origin (no
// version suffix); SupportedPaths already carries "/v1beta".
type GoogleDriver struct {
	cfg Config
}

func NewGoogleDriver(cfg Config) *GoogleDriver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/v1beta")
	return &GoogleDriver{cfg: cfg}
}

func (d *GoogleDriver) Name() string { return "google" }

func (d *GoogleDriver) SupportedPaths() []string {
	return []string{"/v1beta/models"}
}

// PrepareRequestData fills in the default model in the body (the
// outbound URL is taken from the request path as-is) and, when the
// client sent an OpenAI Chat-Completions-
// shaped body (a "messages" array), translates it into Gemini's native
// generateContent shape: messages become contents, a system message
// becomes systemInstruction, and max_tokens becomes
// generationConfig.maxOutputTokens. A body that already carries
// "contents" is assumed to be native Gemini shape and passed through.
func (d *GoogleDriver) PrepareRequestData(data map[string]any, isStream bool) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["model"]; !ok && d.cfg.DefaultModel != "" {
		data["model"] = d.cfg.DefaultModel
	}
	if messages, ok := data["messages"].([]any); ok {
		data = translateChatMessagesToGemini(data, messages)
	}
	return data
}

// translateChatMessagesToGemini rewrites an OpenAI Chat-Completions-
// shaped body into Gemini's generateContent shape (spec §4.2).
func translateChatMessagesToGemini(data map[string]any, messages []any) map[string]any {
	out := map[string]any{}
	if model, ok := data["model"]; ok {
		out["model"] = model
	}

	var systemParts []any
	contents := []any{}
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		text, _ := msg["content"].(string)
		switch role {
		case "system":
			systemParts = append(systemParts, map[string]any{"text": text})
		case "assistant":
			contents = append(contents, map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}})
		default:
			contents = append(contents, map[string]any{"role": "user", "parts": []any{map[string]any{"text": text}}})
		}
	}
	out["contents"] = contents
	if len(systemParts) > 0 {
		out["systemInstruction"] = map[string]any{"parts": systemParts}
	}

	genConfig, _ := data["generationConfig"].(map[string]any)
	if genConfig == nil {
		genConfig = map[string]any{}
	}
	if maxTokens, ok := data["max_tokens"]; ok {
		genConfig["maxOutputTokens"] = maxTokens
	}
	if temperature, ok := data["temperature"]; ok {
		genConfig["temperature"] = temperature
	}
	if len(genConfig) > 0 {
		out["generationConfig"] = genConfig
	}

	return out
}

func (d *GoogleDriver) ForwardRequest(req UpstreamRequest) (*http.Response, *ErrorInfo) {
	// Gemini's path already names the model and verb, e.g.
	// "/v1beta/models/gemini-1.5-pro:generateContent".
	url := d.cfg.BaseURL + req.Path + "?key=" + d.cfg.APIKey
	if req.Stream {
		url += "&alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(req.Ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &ErrorInfo{Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: time.Duration(d.cfg.TimeoutSeconds) * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &ErrorInfo{Message: fmt.Sprintf("google: request failed: %v", err)}
	}
	return resp, nil
}

// ExtractProviderUsageUSD: Google never quotes a native USD cost.
func (d *GoogleDriver) ExtractProviderUsageUSD(resp *http.Response, body []byte) (float64, bool) {
	return 0, false
}

// TestConnection probes the models listing with the query-string key.
func (d *GoogleDriver) TestConnection() error {
	return probeGet(d.cfg.BaseURL+"/v1beta/models?key="+d.cfg.APIKey, nil)
}
