package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenRouterDriver speaks the Chat Completions wire format with one
// addition: OpenRouter annotates both the final response body and
// terminal SSE chunks with a native "usage.cost" USD figure, which is
// authoritative over the gateway's own pricing tables.
type OpenRouterDriver struct {
	cfg Config
}

func NewOpenRouterDriver(cfg Config) *OpenRouterDriver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api"
	}
	return &OpenRouterDriver{cfg: cfg}
}

func (d *OpenRouterDriver) Name() string { return "openrouter" }

func (d *OpenRouterDriver) SupportedPaths() []string {
	return []string{"/v1/chat/completions"}
}

func (d *OpenRouterDriver) PrepareRequestData(data map[string]any, isStream bool) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["model"]; !ok && d.cfg.DefaultModel != "" {
		data["model"] = d.cfg.DefaultModel
	}
	if isStream {
		data["stream"] = true
		// OpenRouter includes usage on the terminal chunk only when asked.
		usageOpt, _ := data["usage"].(map[string]any)
		if usageOpt == nil {
			usageOpt = map[string]any{}
		}
		usageOpt["include"] = true
		data["usage"] = usageOpt
	}
	return data
}

func (d *OpenRouterDriver) ForwardRequest(req UpstreamRequest) (*http.Response, *ErrorInfo) {
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
		return nil, &ErrorInfo{Message: fmt.Sprintf("openrouter: request failed: %v", err)}
	}
	return resp, nil
}

// ExtractProviderUsageUSD reads usage.cost from the non-streaming body.
func (d *OpenRouterDriver) ExtractProviderUsageUSD(resp *http.Response, body []byte) (float64, bool) {
	var parsed struct {
		Usage struct {
			Cost *float64 `json:"cost"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, false
	}
	if parsed.Usage.Cost == nil {
		return 0, false
	}
	return *parsed.Usage.Cost, true
}

// TestConnection probes the models listing.
func (d *OpenRouterDriver) TestConnection() error {
	return probeGet(d.cfg.BaseURL+"/v1/models", func(req *http.Request) {
		if d.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
		}
	})
}
