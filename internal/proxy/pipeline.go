// Package proxy owns the request lifecycle: resolve a provider, shape
// and forward the request, tee a streaming response into usage
// accumulation, finalize cost, and hand off to the access log (spec
// §4.6).
package proxy

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ai-gateway/internal/accesslog"
	"ai-gateway/internal/billing"
	"ai-gateway/internal/metrics"
	"ai-gateway/internal/pricing"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/streamproc"
	"ai-gateway/internal/usage"
)

// ExtractorFor and modeFor map a provider name to its usage extractor
// and stream-accumulation mode (spec §4.3, §4.4): Claude and Google
// report cumulative running totals and need AccumMax; the rest emit one
// terminal usage object and use AccumOverwrite.
func ExtractorFor(provider string) usage.Extractor {
	switch provider {
	case "claude":
		return usage.NewClaudeExtractor()
	case "google":
		return usage.NewGeminiExtractor()
	case "openrouter":
		return usage.NewOpenRouterExtractor()
	case "litellm":
		return usage.NewLiteLLMExtractor()
	default:
		return usage.NewOpenAIExtractor()
	}
}

func modeFor(provider string) streamproc.AccumMode {
	switch provider {
	case "claude", "google":
		return streamproc.AccumMax
	default:
		return streamproc.AccumOverwrite
	}
}

// Pipeline wires the provider registry and pricing registry together
// and executes one request at a time; it holds no per-request state of
// its own.
type Pipeline struct {
	Providers *providers.Registry
	Pricing   *pricing.Registry
	Logger    *zap.Logger
}

func New(reg *providers.Registry, priceReg *pricing.Registry, logger *zap.Logger) *Pipeline {
	return &Pipeline{Providers: reg, Pricing: priceReg, Logger: logger}
}

// Result is what the caller (the HTTP handler) needs after a pipeline
// run has already written the response to w.
type Result struct {
	StatusCode int
}

// Execute resolves a provider, prepares and forwards the request, and
// dispatches to the non-streaming or streaming path. It always writes
// billing/access-log state into rc before returning, even on error
// paths, per the ordering guarantee in spec §4.6/§5.
func (p *Pipeline) Execute(ctx context.Context, w http.ResponseWriter, upstreamPath, method string, body []byte, isStream bool, rc *accesslog.RequestContext, model string, headerProvider, pathProvider string) int {
	cfg, driver, err := p.Providers.Resolve(headerProvider, pathProvider, upstreamPath)
	if err != nil {
		status := http.StatusServiceUnavailable
		if re, ok := err.(*providers.ResolveErr); ok && re.NotAllowed {
			status = http.StatusNotFound
		}
		rc.StatusCode = status
		rc.ErrorMsg = err.Error()
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return status
	}

	rc.Provider = cfg.Name
	rc.Model = model
	rc.IsStream = isStream

	reqData, _ := decodeJSONObject(body)
	reqData = driver.PrepareRequestData(reqData, isStream)
	outBody := encodeJSONObject(reqData, body)

	upReq := providers.UpstreamRequest{Ctx: ctx, Path: upstreamPath, Method: method, Body: outBody, Stream: isStream}

	start := time.Now()
	resp, errInfo := driver.ForwardRequest(upReq)
	if errInfo != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues(cfg.Name).Inc()
		status := http.StatusBadGateway
		if errInfo.StatusCode != 0 {
			status = errInfo.StatusCode
		}
		rc.StatusCode = status
		rc.ErrorMsg = errInfo.Message
		http.Error(w, `{"error":"`+errInfo.Message+`"}`, status)
		return status
	}
	defer resp.Body.Close()

	var status int
	if isStream {
		status = p.executeStream(w, resp, driver, cfg.Name, model, rc)
	} else {
		status = p.executeBuffered(w, resp, driver, cfg.Name, model, rc)
	}

	elapsed := time.Since(start)
	statusClass := "error"
	if status < 400 {
		statusClass = "ok"
	}
	inputTokens, outputTokens := 0, 0
	if rc.Usage != nil {
		inputTokens, outputTokens = rc.Usage.PromptTokens, rc.Usage.CompletionTokens
	}
	metrics.RecordRequest(cfg.Name, model, statusClass, inputTokens, outputTokens, elapsed.Seconds())

	return status
}

// executeBuffered implements spec §4.6 executeRequest: collects the
// full body, extracts usage, computes cost, mirrors a whitelisted
// header subset, and forwards status+body unchanged.
func (p *Pipeline) executeBuffered(w http.ResponseWriter, resp *http.Response, driver providers.Driver, providerName, model string, rc *accesslog.RequestContext) int {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rc.StatusCode = http.StatusInternalServerError
		rc.ErrorMsg = err.Error()
		http.Error(w, `{"error":"failed reading upstream response"}`, http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	extractor := ExtractorFor(providerName)
	info, found := extractor.ExtractFromResponseBody(body)

	var providerCost *float64
	if cost, ok := driver.ExtractProviderUsageUSD(resp, body); ok {
		providerCost = &cost
	}

	var usageForCost *pricing.Usage
	if found {
		usageForCost = &pricing.Usage{
			PromptTokens:     info.PromptTokens,
			CompletionTokens: info.CompletionTokens,
			TotalTokens:      info.TotalTokens,
		}
		rc.Usage = usageForCost
	}

	result := p.Pricing.CalculateRequestCost(providerName, model, providerCost, usageForCost)
	p.applyResult(rc, result)

	headers := accesslog.FilterResponseHeaders(resp.Header)
	for key, vals := range headers {
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	rc.ResponseHeaders = headers

	w.WriteHeader(resp.StatusCode)
	w.Write(body)

	rc.StatusCode = resp.StatusCode
	return resp.StatusCode
}

// executeStream implements spec §4.6 executeStreamRequest: sets SSE
// headers, then tees the upstream byte stream verbatim to the client
// while feeding a copy, line by line, into the stream processor.
func (p *Pipeline) executeStream(w http.ResponseWriter, resp *http.Response, driver providers.Driver, providerName, model string, rc *accesslog.RequestContext) int {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)

	metrics.StreamsInFlight.Inc()
	defer metrics.StreamsInFlight.Dec()

	extractor := ExtractorFor(providerName)
	var initialCost *float64
	if cost, ok := driver.ExtractProviderUsageUSD(resp, nil); ok {
		initialCost = &cost
	}
	processor := streamproc.New(providerName, model, modeFor(providerName), initialCost)

	reader := bufio.NewReader(resp.Body)
	terminal := false
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				// The client disconnected: stop pulling from upstream so
				// the deferred resp.Body.Close() in Execute releases the
				// connection instead of draining it to completion.
				rc.ErrorMsg = werr.Error()
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
			observeChunk(processor, extractor, line, providerName, &terminal)
		}
		if err != nil {
			if err == io.EOF {
				// A clean end of body terminates the stream for providers
				// that send no [DONE]/message_stop sentinel.
				terminal = true
			} else {
				rc.ErrorMsg = err.Error()
			}
			break
		}
	}
	if !terminal {
		processor.MarkTruncated()
	}

	result := processor.Finalize(p.Pricing)
	p.applyResult(rc, result)
	rc.Truncated = processor.Truncated()
	if info, ok := processor.AccumulatedUsage(); ok {
		rc.Usage = &pricing.Usage{PromptTokens: info.PromptTokens, CompletionTokens: info.CompletionTokens, TotalTokens: info.TotalTokens}
	}

	rc.StatusCode = resp.StatusCode
	return resp.StatusCode
}

func observeChunk(processor *streamproc.Processor, extractor usage.Extractor, line []byte, providerName string, terminal *bool) {
	chunk := trimSSEPrefix(line)
	if len(chunk) == 0 {
		return
	}
	if isDoneSentinel(chunk) {
		*terminal = true
		return
	}

	obs, ok := extractor.ExtractFromStreamChunk(chunk)
	if ok {
		processor.Observe(obs)
	}

	if providerName == "claude" {
		if ce, ok := extractor.(*usage.ClaudeExtractor); ok && ce.IsTerminal(chunk) {
			*terminal = true
		}
	}
}

func (p *Pipeline) applyResult(rc *accesslog.RequestContext, result *pricing.Result) {
	if result == nil {
		rc.SetBilling(billing.Handoff{Source: billing.SourceNone})
		return
	}
	rc.CostResult = result
	pico := billing.USDToPico(result.CostUSD)
	rc.SetBilling(billing.Handoff{
		PicoUSD:    pico,
		CostUSD:    result.CostUSD,
		Source:     result.Source,
		Model:      result.Model,
		Provider:   rc.Provider,
		PricingVer: result.PricingVersion,
	})
	metrics.RecordBilling(rc.Provider, result.Model, string(result.Source), pico)
}
