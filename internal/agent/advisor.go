package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/pkg/anthropic"
)

// advisorSystem is the fixed system prompt. It is cached server-side so
// repeated ask calls only pay for the question and verdict.
const advisorSystem = `You are Aura, a procurement assistant for a mining supply depot in South Africa. Answer questions about part inventory using ONLY the structured verdict JSON provided. Quantities, costs, and reliability figures are exact; never invent or adjust numbers. If the verdict status is WARNING, lead with the caveat before answering. If it is BLOCKED, do not answer the question; explain why the data cannot be trusted and what the recommended action is. Keep answers to three sentences or fewer.`

// Advisor turns a safety verdict into a short natural-language answer.
// It adds no decision logic of its own: the verdict is already final and
// the advisor only narrates it.
type Advisor struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
}

// NewAdvisor returns an Advisor speaking through ai.
func NewAdvisor(ai anthropic.Client, cfg config.AnthropicConfig) *Advisor {
	return &Advisor{
		ai:        ai,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

// Answer replies to question in natural language, grounded on verdict.
func (a *Advisor) Answer(ctx context.Context, question string, verdict *model.SafetyVerdict) (string, error) {
	payload, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "advisor: marshal verdict")
	}

	resp, err := a.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(advisorSystem),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Question: %s\n\nVerdict:\n%s", question, payload),
		}},
	})
	if err != nil {
		return "", eris.Wrap(err, "advisor: claude request")
	}
	resp.Usage.LogCost(a.model, "advisor")

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = strings.TrimSpace(block.Text)
			break
		}
	}
	if text == "" {
		return "", eris.New("advisor: empty response")
	}
	return text, nil
}
