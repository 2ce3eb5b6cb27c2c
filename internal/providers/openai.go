package providers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// OpenAIDriver speaks both the Chat Completions and Response API wire
// formats; which one a request uses is determined entirely by its
// path, not by anything this driver rewrites.
type OpenAIDriver struct {
	cfg Config
}

func NewOpenAIDriver(cfg Config) *OpenAIDriver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &OpenAIDriver{cfg: cfg}
}

func (d *OpenAIDriver) Name() string { return "openai" }

func (d *OpenAIDriver) SupportedPaths() []string {
	return []string{"/v1/chat/completions", "/v1/responses"}
}

// PrepareRequestData always forces stream_options.include_usage=true on
// streamed Chat Completions requests: without it OpenAI never emits the
// trailing usage chunk, and the gateway has no other way to cost a
// streamed OpenAI response.
func (d *OpenAIDriver) PrepareRequestData(data map[string]any, isStream bool) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["model"]; !ok && d.cfg.DefaultModel != "" {
		data["model"] = d.cfg.DefaultModel
	}
	if isStream {
		data["stream"] = true
		streamOpts, _ := data["stream_options"].(map[string]any)
		if streamOpts == nil {
			streamOpts = map[string]any{}
		}
		streamOpts["include_usage"] = true
		data["stream_options"] = streamOpts
	}
	return data
}

func (d *OpenAIDriver) ForwardRequest(req UpstreamRequest) (*http.Response, *ErrorInfo) {
	url := d.cfg.BaseURL + req.Path

	httpReq, err := http.NewRequestWithContext(req.Ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &ErrorInfo{Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	client := &http.Client{Timeout: time.Duration(d.cfg.TimeoutSeconds) * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &ErrorInfo{Message: fmt.Sprintf("openai: request failed: %v", err)}
	}
	return resp, nil
}

// ExtractProviderUsageUSD: OpenAI never quotes a native USD cost, so the
// gateway's own pricing registry always prices OpenAI usage.
func (d *OpenAIDriver) ExtractProviderUsageUSD(resp *http.Response, body []byte) (float64, bool) {
	return 0, false
}

// TestConnection probes the models listing, the cheapest authenticated
// OpenAI-shaped endpoint that exists outside the chat/responses surface.
func (d *OpenAIDriver) TestConnection() error {
	return probeGet(d.cfg.BaseURL+"/v1/models", func(req *http.Request) {
		if d.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
		}
	})
}
