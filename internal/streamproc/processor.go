// Package streamproc implements the per-request stream processor state
// machine described in spec §4.4: IDLE -> ACCUMULATING -> FINALIZED. Each
// Processor is created fresh per streaming request and is exclusively
// owned by the pipeline goroutine handling that request — it is never
// shared across requests and does not block the forwarder.
package streamproc

import (
	"ai-gateway/internal/billing"
	"ai-gateway/internal/pricing"
	"ai-gateway/internal/usage"
)

// State is one of the three stream-processor lifecycle states.
type State int

const (
	IDLE State = iota
	ACCUMULATING
	FINALIZED
)

// AccumMode controls how successive usage observations combine: cumulative
// providers (Claude, Google) report running totals so the processor keeps
// a per-field maximum; terminal-object providers (OpenAI, OpenRouter,
// LiteLLM) emit one final usage object so the processor simply overwrites.
type AccumMode int

const (
	AccumOverwrite AccumMode = iota
	AccumMax
)

// Processor is the per-request stateful accumulator. It is invoked
// synchronously from the proxy pipeline as each chunk arrives.
type Processor struct {
	provider string
	model    string
	mode     AccumMode

	state State

	accumulated    usage.Info
	hasAccumulated bool

	extractedCost *float64

	// initialProviderCost is an out-of-band provider cost supplied before
	// the stream starts (e.g. LiteLLM's response header, read before the
	// body is streamed).
	initialProviderCost *float64

	finalCost *pricing.Result
	truncated bool
}

// New creates a stream processor for one request. initialProviderCostUSD
// may be nil when the provider has no out-of-band cost channel.
func New(provider, model string, mode AccumMode, initialProviderCostUSD *float64) *Processor {
	return &Processor{
		provider:            provider,
		model:               model,
		mode:                mode,
		state:               IDLE,
		initialProviderCost: initialProviderCostUSD,
	}
}

// Observe feeds one parsed usage.Observation into the state machine. It
// never blocks and never raises — malformed/absent observations are the
// caller's (extractor's) concern, not this function's.
func (p *Processor) Observe(obs usage.Observation) {
	if p.state == FINALIZED {
		return
	}
	if p.state == IDLE {
		p.state = ACCUMULATING
	}

	switch p.mode {
	case AccumMax:
		p.accumulated = Info{
			PromptTokens:     maxInt(p.accumulated.PromptTokens, obs.Usage.PromptTokens),
			CompletionTokens: maxInt(p.accumulated.CompletionTokens, obs.Usage.CompletionTokens),
		}
		p.accumulated.TotalTokens = p.accumulated.PromptTokens + p.accumulated.CompletionTokens
	default: // AccumOverwrite
		p.accumulated = obs.Usage
	}
	p.hasAccumulated = true

	if obs.CostUSD != nil {
		cost := *obs.CostUSD
		p.extractedCost = &cost
	}
}

// Info is a local alias so this package doesn't need to re-export usage.Info
// at every call site while still sharing its exact shape.
type Info = usage.Info

// Finalize transitions ACCUMULATING -> FINALIZED and computes the final
// cost using the precedence rule from spec §4.4:
//  1. extractedCost (an in-stream provider-quoted cost) wins;
//  2. else the initial out-of-band provider cost (e.g. LiteLLM header);
//  3. else gateway pricing via the registry;
//  4. else no cost — the request is logged as uncosted.
//
// Finalize is idempotent: calling it twice returns the same cached result.
func (p *Processor) Finalize(reg *pricing.Registry) *pricing.Result {
	if p.state == FINALIZED {
		return p.finalCost
	}
	p.state = FINALIZED

	var usageForResult pricing.Usage
	if p.hasAccumulated {
		usageForResult = pricing.Usage{
			PromptTokens:     p.accumulated.PromptTokens,
			CompletionTokens: p.accumulated.CompletionTokens,
			TotalTokens:      p.accumulated.TotalTokens,
		}
	}

	switch {
	case p.extractedCost != nil:
		p.finalCost = reg.CalculateRequestCost(p.provider, p.model, p.extractedCost, &usageForResult)
	case p.initialProviderCost != nil:
		p.finalCost = reg.CalculateRequestCost(p.provider, p.model, p.initialProviderCost, &usageForResult)
	case p.hasAccumulated:
		p.finalCost = reg.CalculateProviderCost(p.provider, p.model, usageForResult)
	default:
		p.finalCost = nil
	}

	return p.finalCost
}

// MarkTruncated records that the stream ended without a clean terminal
// signal (client disconnect or upstream reset) so the access log can flag
// it; whatever usage was accumulated so far is still used by Finalize.
func (p *Processor) MarkTruncated() {
	p.truncated = true
}

// Truncated reports whether the stream never reached a clean terminator.
func (p *Processor) Truncated() bool { return p.truncated }

// State returns the current lifecycle state.
func (p *Processor) State() State { return p.state }

// AccumulatedUsage exposes the current running usage for diagnostics/tests.
func (p *Processor) AccumulatedUsage() (usage.Info, bool) {
	return p.accumulated, p.hasAccumulated
}

// PicoUSD converts the finalized cost (if any) to the canonical integer
// billing unit. Call only after Finalize.
func (p *Processor) PicoUSD() int64 {
	if p.finalCost == nil {
		return 0
	}
	return billing.USDToPico(p.finalCost.CostUSD)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
