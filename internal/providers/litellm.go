package providers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"ai-gateway/internal/usage"
)

// LiteLLMDriver speaks the Chat Completions wire format against a
// self-hosted LiteLLM proxy. LiteLLM's native cost comes back out of
// band, on the x-litellm-response-cost response header rather than in
// the body, so ExtractProviderUsageUSD reads it straight off the
// *http.Response the caller already has in hand.
type LiteLLMDriver struct {
	cfg Config
}

func NewLiteLLMDriver(cfg Config) *LiteLLMDriver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:4000"
	}
	return &LiteLLMDriver{cfg: cfg}
}

func (d *LiteLLMDriver) Name() string { return "litellm" }

func (d *LiteLLMDriver) SupportedPaths() []string {
	return []string{"/v1/chat/completions"}
}

func (d *LiteLLMDriver) PrepareRequestData(data map[string]any, isStream bool) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["model"]; !ok && d.cfg.DefaultModel != "" {
		data["model"] = d.cfg.DefaultModel
	}
	if isStream {
		data["stream"] = true
	}
	return data
}

func (d *LiteLLMDriver) ForwardRequest(req UpstreamRequest) (*http.Response, *ErrorInfo) {
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
		return nil, &ErrorInfo{Message: fmt.Sprintf("litellm: request failed: %v", err)}
	}
	return resp, nil
}

// ExtractProviderUsageUSD reads the x-litellm-response-cost header off
// the response; the body is irrelevant to this provider's native cost.
func (d *LiteLLMDriver) ExtractProviderUsageUSD(resp *http.Response, body []byte) (float64, bool) {
	if resp == nil {
		return 0, false
	}
	return usage.ProviderCostFromHeader(resp.Header.Get("x-litellm-response-cost"))
}

// TestConnection probes LiteLLM's health endpoint.
func (d *LiteLLMDriver) TestConnection() error {
	return probeGet(d.cfg.BaseURL+"/health/liveliness", func(req *http.Request) {
		if d.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
		}
	})
}
