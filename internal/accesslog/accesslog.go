// Package accesslog owns the per-request RequestContext and the
// exactly-once structured log emission described in spec §3 and §4.7.
package accesslog

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ai-gateway/internal/billing"
	"ai-gateway/internal/didauth"
	"ai-gateway/internal/pricing"
)

// whitelistedResponseHeaders is the subset of upstream headers mirrored
// into the access log and the client response (spec §4.6).
var whitelistedResponseHeaders = []string{
	"content-type",
	"cache-control",
	"x-ratelimit-limit",
	"x-ratelimit-remaining",
}

// UpstreamMeta is the subset of upstream call metadata the access log
// records: which provider answered, its HTTP status, and how long the
// round trip took.
type UpstreamMeta struct {
	Name       string
	StatusCode int
	DurationMS int64
}

// RequestContext is created on request entry and destroyed once the
// response is fully flushed; it is never shared across requests (spec
// §3, §5).
type RequestContext struct {
	RequestID   string
	ClientTxRef string
	ServerTxRef string

	StartTime time.Time

	DIDInfo   *didauth.Info
	Provider  string
	Model     string
	IsStream  bool

	Method string
	Path   string
	Query  string

	ClientIP  string
	UserAgent string
	Referer   string

	RequestBodySize int64

	Usage       *pricing.Usage
	CostResult  *pricing.Result
	UpstreamRes UpstreamMeta

	StatusCode int
	Truncated  bool
	ErrorMsg   string

	ResponseHeaders http.Header

	// BillingOut is set exactly once, before the access log is emitted
	// (spec §4.6 ordering guarantee).
	BillingOut int64

	billingSet bool
	finalized  atomic.Bool
	mu         sync.Mutex
}

// New creates a RequestContext for one incoming HTTP request.
func New(requestID, clientTxRef string, r *http.Request) *RequestContext {
	return &RequestContext{
		RequestID:   requestID,
		ClientTxRef: clientTxRef,
		StartTime:   time.Now(),
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ClientIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
		Referer:     r.Referer(),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// SetBilling writes the picoUSD handoff exactly once. Subsequent calls
// are no-ops so a retried finalize path can never double-charge.
func (rc *RequestContext) SetBilling(h billing.Handoff) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.billingSet {
		return
	}
	rc.billingSet = true
	rc.BillingOut = h.PicoUSD
}

// FilterResponseHeaders returns only the whitelisted subset of h,
// suitable both for mirroring to the client and for the access log.
func FilterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for _, key := range whitelistedResponseHeaders {
		if v := h.Get(key); v != "" {
			out.Set(key, v)
		}
	}
	return out
}

// Finalize emits the single structured access-log record for this
// request. It is guarded by a boolean latch: calling it more than once
// (e.g. once on the success path and once from a deferred cleanup) logs
// exactly once.
func (rc *RequestContext) Finalize(logger *zap.Logger) {
	if !rc.finalized.CompareAndSwap(false, true) {
		return
	}

	duration := time.Since(rc.StartTime)

	fields := []zap.Field{
		zap.String("request_id", rc.RequestID),
		zap.String("client_tx_ref", rc.ClientTxRef),
		zap.String("server_tx_ref", rc.ServerTxRef),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.String("query", rc.Query),
		zap.Bool("is_stream", rc.IsStream),
		zap.String("model", rc.Model),
		zap.String("provider", rc.Provider),
		zap.Int("status_code", rc.StatusCode),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.String("client_ip", rc.ClientIP),
		zap.String("user_agent", rc.UserAgent),
		zap.String("referer", rc.Referer),
		zap.Int64("request_body_size", rc.RequestBodySize),
		zap.Bool("truncated", rc.Truncated),
	}

	if rc.DIDInfo != nil {
		fields = append(fields, zap.String("did", rc.DIDInfo.DID))
	} else {
		fields = append(fields, zap.Any("did", nil))
	}

	if rc.Usage != nil {
		fields = append(fields,
			zap.Int("input_tokens", rc.Usage.PromptTokens),
			zap.Int("output_tokens", rc.Usage.CompletionTokens),
			zap.Int("total_tokens", rc.Usage.TotalTokens),
		)
	}

	if rc.CostResult != nil {
		fields = append(fields,
			zap.Float64("total_cost_usd", rc.CostResult.CostUSD),
			zap.String("pricing_source", string(rc.CostResult.Source)),
			zap.String("pricing_version", rc.CostResult.PricingVersion),
		)
	} else {
		fields = append(fields,
			zap.Any("total_cost_usd", nil),
			zap.Any("pricing_source", nil),
		)
	}

	if rc.ErrorMsg != "" {
		fields = append(fields, zap.String("error_message", rc.ErrorMsg))
	}

	for key, vals := range rc.ResponseHeaders {
		if len(vals) > 0 {
			fields = append(fields, zap.String("resp_"+key, vals[0]))
		}
	}

	logger.Info("", fields...)
}
