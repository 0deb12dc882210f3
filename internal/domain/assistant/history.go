package assistant

import (
	"github.com/matiasleandrokruk/lightspeed/internal/infra/cache"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

// paramMaxTokensForResponse is read from a model's parameters block.
const paramMaxTokensForResponse = "max_tokens_for_response"

const defaultMaxTokensForResponse = 512

// estimateTokens approximates tokenizer output at four bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// historyBudget is the number of tokens prior turns may use for the given
// model, or -1 when the model declares no context window.
func historyBudget(cfg config.Config, provider, model string, fixed int) int {
	pc, ok := cfg.Provider(provider)
	if !ok {
		return -1
	}
	mc, ok := pc.Model(model)
	if !ok || mc.ContextWindowSize <= 0 {
		return -1
	}
	reserve, ok := llm.Params(mc.Parameters).Int(paramMaxTokensForResponse)
	if !ok || reserve <= 0 {
		reserve = defaultMaxTokensForResponse
	}
	budget := mc.ContextWindowSize - reserve - fixed
	if budget < 0 {
		return 0
	}
	return budget
}

// limitHistory keeps the newest turns that fit budget. Turns are dropped
// whole, oldest first. A negative budget keeps everything.
func limitHistory(turns []cache.Turn, budget int) ([]cache.Turn, bool) {
	if budget < 0 {
		return turns, false
	}
	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := estimateTokens(turns[i].Query) + estimateTokens(turns[i].Response)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return turns[start:], start > 0
}
