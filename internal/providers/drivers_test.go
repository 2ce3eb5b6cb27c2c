package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIDriverInjectsStreamUsageOption(t *testing.T) {
	d := NewOpenAIDriver(Config{})
	data := d.PrepareRequestData(map[string]any{"model": "gpt-4o"}, true)

	opts, ok := data["stream_options"].(map[string]any)
	if !ok || opts["include_usage"] != true {
		t.Errorf("expected stream_options.include_usage=true, got %+v", data["stream_options"])
	}
}

func TestOpenAIDriverNoStreamOptionsWhenNotStreaming(t *testing.T) {
	d := NewOpenAIDriver(Config{})
	data := d.PrepareRequestData(map[string]any{"model": "gpt-4o"}, false)
	if _, ok := data["stream_options"]; ok {
		t.Error("non-streaming requests should not get stream_options injected")
	}
}

func TestOpenAIDriverFillsDefaultModel(t *testing.T) {
	d := NewOpenAIDriver(Config{DefaultModel: "gpt-4o-mini"})
	data := d.PrepareRequestData(map[string]any{}, false)
	if data["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v, want gpt-4o-mini", data["model"])
	}
}

func TestOpenAIDriverNeverQuotesNativeCost(t *testing.T) {
	d := NewOpenAIDriver(Config{})
	if _, ok := d.ExtractProviderUsageUSD(nil, []byte(`{"usage":{"cost":1}}`)); ok {
		t.Error("OpenAI should never report a native cost")
	}
}

func TestClaudeDriverFillsDefaultMaxTokens(t *testing.T) {
	d := NewClaudeDriver(Config{})
	data := d.PrepareRequestData(map[string]any{}, false)
	if data["max_tokens"] != 4096 {
		t.Errorf("max_tokens = %v, want 4096", data["max_tokens"])
	}
}

func TestClaudeDriverPreservesExplicitMaxTokens(t *testing.T) {
	d := NewClaudeDriver(Config{})
	data := d.PrepareRequestData(map[string]any{"max_tokens": 100}, false)
	if data["max_tokens"] != 100 {
		t.Errorf("max_tokens = %v, want the caller-supplied 100", data["max_tokens"])
	}
}

func TestGoogleDriverTrimsV1BetaSuffixFromBaseURL(t *testing.T) {
	d := NewGoogleDriver(Config{BaseURL: "https://example.com/v1beta"})
	if d.cfg.BaseURL != "https://example.com" {
		t.Errorf("BaseURL = %q, want the v1beta suffix trimmed", d.cfg.BaseURL)
	}
}

func TestGoogleDriverNeverQuotesNativeCost(t *testing.T) {
	d := NewGoogleDriver(Config{})
	if _, ok := d.ExtractProviderUsageUSD(nil, []byte(`{}`)); ok {
		t.Error("Google should never report a native cost")
	}
}

func TestOpenRouterDriverExtractsNativeCost(t *testing.T) {
	d := NewOpenRouterDriver(Config{})
	cost, ok := d.ExtractProviderUsageUSD(nil, []byte(`{"usage":{"cost":0.0021}}`))
	if !ok || cost != 0.0021 {
		t.Errorf("got %v, %v", cost, ok)
	}
}

func TestOpenRouterDriverInjectsUsageIncludeOnStream(t *testing.T) {
	d := NewOpenRouterDriver(Config{})
	data := d.PrepareRequestData(map[string]any{}, true)
	usageOpt, ok := data["usage"].(map[string]any)
	if !ok || usageOpt["include"] != true {
		t.Errorf("expected usage.include=true on a streamed request, got %+v", data["usage"])
	}
}

func TestLiteLLMDriverReadsCostFromHeaderNotBody(t *testing.T) {
	d := NewLiteLLMDriver(Config{})
	resp := &http.Response{Header: http.Header{"X-Litellm-Response-Cost": []string{"0.0007"}}}
	cost, ok := d.ExtractProviderUsageUSD(resp, []byte(`{"usage":{"cost":999}}`))
	if !ok || cost != 0.0007 {
		t.Errorf("expected header cost to win over body, got %v, %v", cost, ok)
	}
}

func TestTestConnectionReportsUnreachable(t *testing.T) {
	d := NewOpenAIDriver(Config{BaseURL: "http://127.0.0.1:1"})
	if err := d.TestConnection(); err == nil {
		t.Error("expected TestConnection to fail against an unreachable address")
	}
}

func TestTestConnectionOKAgainstFakeUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewOpenAIDriver(Config{BaseURL: srv.URL})
	if err := d.TestConnection(); err != nil {
		t.Errorf("expected TestConnection to succeed, got %v", err)
	}
}

func TestTestConnectionFailsOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewOpenAIDriver(Config{BaseURL: srv.URL})
	if err := d.TestConnection(); err == nil {
		t.Error("expected TestConnection to fail on a 5xx response")
	}
}
