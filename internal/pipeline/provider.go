package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/budget"
	"github.com/jordanhubbard/learncompanion/internal/engineerr"
	"github.com/jordanhubbard/learncompanion/internal/router"
)

// generated is the outcome of one successful C9 call, uniform across every
// provider (§4.9's contract, minus the streaming/non-streaming split: the
// streaming path chunks generated.text itself, per §4.9's documented
// fallback-adapter behavior for providers without native token-by-token
// streaming — applied here to every provider uniformly, since none of the
// wired adapters expose a raw per-token SSE frame this layer can interpret
// without a provider-specific parser).
type generated struct {
	ProviderID string
	ModelID    string
	Text       string
	InTokens   int
	OutTokens  int
	CostUSD    float64
	LatencyMs  int64
}

// generate tries the selection's primary provider, then each fallback in
// order, per §4.8's fallback chain and §4.12 step 4 ("provider call (C9)
// with fallback chain on ProviderUnavailable"). Health is recorded on every
// attempt (§4.7 "updated on every request exit path"). A transport failure
// before any content is produced is always ProviderUnavailable here: the
// full-generate-then-chunk design means there is no "first chunk" boundary
// at this layer, so PartialStreamError can only arise once the caller
// begins chunking (see stream.go).
func (e *Engine) generate(ctx context.Context, sel router.Selection, promptStr string, tb budget.TokenBudget, category string) (generated, error) {
	candidates := append([]router.ProviderDescriptor{sel.Primary()}, sel.Fallbacks()...)

	var lastErr error
	for _, cand := range candidates {
		adapter := e.router.GetAdapter(cand.ID)
		if adapter == nil {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
		req := router.Request{
			Messages:             []router.Message{{Role: "user", Content: promptStr}},
			EstimatedInputTokens: tb.Total - tb.Response,
		}
		start := time.Now()
		resp, err := adapter.Send(callCtx, cand.Model, req)
		latencyMs := time.Since(start).Milliseconds()
		cancel()

		if err != nil {
			if e.health != nil {
				e.health.RecordError(cand.ID, err.Error())
			}
			lastErr = &engineerr.ProviderUnavailable{Provider: cand.ID, Err: err}
			e.logger.Warn("provider attempt failed, trying fallback",
				"provider", cand.ID, "error", err.Error())
			continue
		}

		if e.health != nil {
			e.health.RecordSuccess(cand.ID, float64(latencyMs))
		}

		text := router.ExtractContent(resp)
		inTok, outTok, ok := extractUsage(resp)
		if !ok {
			inTok = tb.Total - tb.Response
			outTok = estimateTokenCount(text)
		}
		costUSD := (float64(inTok)/1000.0)*cand.CostPer1KTokens + (float64(outTok)/1000.0)*cand.OutputCostPer1KTokens

		return generated{
			ProviderID: cand.ID,
			ModelID:    cand.Model,
			Text:       text,
			InTokens:   inTok,
			OutTokens:  outTok,
			CostUSD:    costUSD,
			LatencyMs:  latencyMs,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate providers for category %q", category)
	}
	return generated{}, lastErr
}

// extractUsage pulls token counts from a provider response's usage block,
// trying OpenAI's and Anthropic's field names in turn (the two response
// shapes router.ExtractContent already knows how to read text from).
func extractUsage(resp router.ProviderResponse) (inTokens, outTokens int, ok bool) {
	var oai struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(resp, &oai) == nil && (oai.Usage.PromptTokens > 0 || oai.Usage.CompletionTokens > 0) {
		return oai.Usage.PromptTokens, oai.Usage.CompletionTokens, true
	}
	var ant struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(resp, &ant) == nil && (ant.Usage.InputTokens > 0 || ant.Usage.OutputTokens > 0) {
		return ant.Usage.InputTokens, ant.Usage.OutputTokens, true
	}
	return 0, 0, false
}

func estimateTokenCount(s string) int {
	return len(s) / 4
}

// maxCandidateContext returns the largest context window among the
// candidates the selector could choose from, used as C11's provider_max
// input before a specific provider has been picked (§4.12 lists budget
// allocation before provider selection; the selector then excludes any
// provider too small for the resulting budget via its own max_context_tokens
// filter, so this ordering is sound even though it looks circular).
func maxCandidateContext(candidates []router.ProviderDescriptor) int {
	max := 0
	for _, c := range candidates {
		if c.MaxContextTokens > max {
			max = c.MaxContextTokens
		}
	}
	if max == 0 {
		max = 8192
	}
	return max
}
