package providers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// ClaudeDriver speaks Anthropic's Messages API.
type ClaudeDriver struct {
	cfg Config
}

func NewClaudeDriver(cfg Config) *ClaudeDriver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	return &ClaudeDriver{cfg: cfg}
}

func (d *ClaudeDriver) Name() string { return "claude" }

func (d *ClaudeDriver) SupportedPaths() []string {
	return []string{"/v1/messages"}
}

// PrepareRequestData fills in the default model and max_tokens, which
// the Messages API requires on every request unlike Chat Completions.
func (d *ClaudeDriver) PrepareRequestData(data map[string]any, isStream bool) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["model"]; !ok && d.cfg.DefaultModel != "" {
		data["model"] = d.cfg.DefaultModel
	}
	if _, ok := data["max_tokens"]; !ok {
		data["max_tokens"] = 4096
	}
	if isStream {
		data["stream"] = true
	}
	return data
}

func (d *ClaudeDriver) ForwardRequest(req UpstreamRequest) (*http.Response, *ErrorInfo) {
	url := d.cfg.BaseURL + req.Path

	httpReq, err := http.NewRequestWithContext(req.Ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &ErrorInfo{Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if d.cfg.APIKey != "" {
		httpReq.Header.Set("x-api-key", d.cfg.APIKey)
	}

	client := &http.Client{Timeout: time.Duration(d.cfg.TimeoutSeconds) * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &ErrorInfo{Message: fmt.Sprintf("claude: request failed: %v", err)}
	}
	return resp, nil
}

// ExtractProviderUsageUSD: Claude never quotes a native USD cost.
func (d *ClaudeDriver) ExtractProviderUsageUSD(resp *http.Response, body []byte) (float64, bool) {
	return 0, false
}

// TestConnection probes the models listing.
func (d *ClaudeDriver) TestConnection() error {
	return probeGet(d.cfg.BaseURL+"/v1/models", func(req *http.Request) {
		req.Header.Set("anthropic-version", "2023-06-01")
		if d.cfg.APIKey != "" {
			req.Header.Set("x-api-key", d.cfg.APIKey)
		}
	})
}
