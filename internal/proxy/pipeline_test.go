package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"ai-gateway/internal/accesslog"
	"ai-gateway/internal/pricing"
	"ai-gateway/internal/providers"
)

type fakeDriver struct {
	upstream *httptest.Server
}

func (f *fakeDriver) Name() string            { return "fake" }
func (f *fakeDriver) SupportedPaths() []string { return []string{"/v1/chat/completions"} }
func (f *fakeDriver) PrepareRequestData(data map[string]any, isStream bool) map[string]any {
	return data
}
func (f *fakeDriver) ForwardRequest(req providers.UpstreamRequest) (*http.Response, *providers.ErrorInfo) {
	r, err := http.Get(f.upstream.URL + req.Path)
	if err != nil {
		return nil, &providers.ErrorInfo{Message: err.Error()}
	}
	return r, nil
}
func (f *fakeDriver) ExtractProviderUsageUSD(resp *http.Response, body []byte) (float64, bool) {
	return 0, false
}
func (f *fakeDriver) TestConnection() error { return nil }

func newTestPipeline(t *testing.T, driver providers.Driver) (*Pipeline, *accesslog.RequestContext) {
	t.Helper()
	reg := providers.NewRegistry("fake")
	if err := reg.Register(providers.Config{Name: "fake", AllowedPaths: map[string]bool{"/v1/chat/completions": true}}, driver); err != nil {
		t.Fatal(err)
	}
	priceReg, err := pricing.NewRegistry("v1", `{"fake/gpt-4o":{"prompt_per_mtok_usd":2.5,"completion_per_mtok_usd":10}}`, 0)
	if err != nil {
		t.Fatal(err)
	}
	p := New(reg, priceReg, zap.NewNop())
	rc := accesslog.New("req-1", "tx-1", httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	return p, rc
}

func TestExecuteBufferedSuccessComputesBilling(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"usage":{"prompt_tokens":1000000,"completion_tokens":0}}`))
	}))
	defer upstream.Close()

	p, rc := newTestPipeline(t, &fakeDriver{upstream: upstream})
	rec := httptest.NewRecorder()

	status := p.Execute(context.Background(), rec, "/v1/chat/completions", http.MethodPost, []byte(`{}`), false, rc, "gpt-4o", "fake", "")

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if rc.BillingOut == 0 {
		t.Error("expected billing to be computed from the buffered response")
	}
}

func TestExecuteUnresolvedProviderReturns503(t *testing.T) {
	p, rc := newTestPipeline(t, &fakeDriver{})
	rec := httptest.NewRecorder()

	status := p.Execute(context.Background(), rec, "/v1/chat/completions", http.MethodPost, []byte(`{}`), false, rc, "gpt-4o", "does-not-exist", "")

	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if rc.ErrorMsg == "" {
		t.Error("expected an error message to be recorded on the access-log context")
	}
}

func TestExecutePathNotAllowedReturns404(t *testing.T) {
	p, rc := newTestPipeline(t, &fakeDriver{})
	rec := httptest.NewRecorder()

	status := p.Execute(context.Background(), rec, "/v1/embeddings", http.MethodPost, []byte(`{}`), false, rc, "gpt-4o", "fake", "")

	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestExtractorForKnownProviders(t *testing.T) {
	if _, ok := ExtractorFor("claude").(interface{ IsTerminal([]byte) bool }); !ok {
		t.Error("claude's extractor should support IsTerminal")
	}
	if modeFor("claude") != 1 { // AccumMax
		t.Error("claude should use AccumMax")
	}
	if modeFor("openai") != 0 { // AccumOverwrite
		t.Error("openai should use AccumOverwrite")
	}
}
