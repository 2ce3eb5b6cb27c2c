package streamproc

import (
	"testing"

	"ai-gateway/internal/pricing"
	"ai-gateway/internal/usage"
)

func newTestPricing(t *testing.T) *pricing.Registry {
	t.Helper()
	reg, err := pricing.NewRegistry("test-v1", "", 0)
	if err != nil {
		t.Fatalf("pricing.NewRegistry: %v", err)
	}
	return reg
}

func TestProcessorAccumOverwrite(t *testing.T) {
	p := New("openai", "gpt-4o", AccumOverwrite, nil)

	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11}})
	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}})

	got, ok := p.AccumulatedUsage()
	if !ok {
		t.Fatal("expected accumulated usage")
	}
	if got.CompletionTokens != 5 {
		t.Errorf("overwrite mode should take the latest observation, got %+v", got)
	}
}

func TestProcessorAccumMaxAvoidsDoubleCounting(t *testing.T) {
	p := New("claude", "claude-3-5-sonnet", AccumMax, nil)

	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 100, CompletionTokens: 0}})
	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 100, CompletionTokens: 10}})
	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 100, CompletionTokens: 25}})

	got, _ := p.AccumulatedUsage()
	if got.CompletionTokens != 25 {
		t.Errorf("max mode should keep the running maximum, got %d", got.CompletionTokens)
	}
	if got.TotalTokens != 125 {
		t.Errorf("total should be prompt+completion maxima, got %d", got.TotalTokens)
	}
}

func TestProcessorFinalizeIsIdempotent(t *testing.T) {
	reg := newTestPricing(t)
	p := New("openai", "gpt-4o", AccumOverwrite, nil)
	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}})

	first := p.Finalize(reg)
	second := p.Finalize(reg)

	if first != second {
		t.Error("Finalize must return the cached result on a second call")
	}
	if p.State() != FINALIZED {
		t.Errorf("state = %v, want FINALIZED", p.State())
	}
}

func TestProcessorObserveIgnoredAfterFinalize(t *testing.T) {
	reg := newTestPricing(t)
	p := New("openai", "gpt-4o", AccumOverwrite, nil)
	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 5, CompletionTokens: 5}})
	p.Finalize(reg)

	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 999, CompletionTokens: 999}})
	got, _ := p.AccumulatedUsage()
	if got.PromptTokens == 999 {
		t.Error("Observe after Finalize must not mutate accumulated usage")
	}
}

func TestProcessorCostPrecedence(t *testing.T) {
	reg := newTestPricing(t)

	// extractedCost (in-stream) beats an initial out-of-band provider cost.
	initial := 0.50
	p := New("litellm", "whatever", AccumOverwrite, &initial)
	streamCost := 0.01
	p.Observe(usage.Observation{Usage: usage.Info{PromptTokens: 1, CompletionTokens: 1}, CostUSD: &streamCost})

	result := p.Finalize(reg)
	if result == nil || result.CostUSD != streamCost {
		t.Errorf("expected in-stream cost %v to win, got %+v", streamCost, result)
	}
}

func TestProcessorNoUsageNoInitialCostYieldsNoResult(t *testing.T) {
	reg := newTestPricing(t)
	p := New("openai", "unknown-model", AccumOverwrite, nil)

	result := p.Finalize(reg)
	if result != nil {
		t.Errorf("expected nil result when nothing was ever observed, got %+v", result)
	}
}

func TestProcessorMarkTruncated(t *testing.T) {
	p := New("openai", "gpt-4o", AccumOverwrite, nil)
	if p.Truncated() {
		t.Error("should not start truncated")
	}
	p.MarkTruncated()
	if !p.Truncated() {
		t.Error("expected Truncated() to report true after MarkTruncated")
	}
}

func TestProcessorPicoUSDBeforeFinalizeIsZero(t *testing.T) {
	p := New("openai", "gpt-4o", AccumOverwrite, nil)
	if got := p.PicoUSD(); got != 0 {
		t.Errorf("PicoUSD before Finalize = %d, want 0", got)
	}
}
