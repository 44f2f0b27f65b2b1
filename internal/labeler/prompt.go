package labeler

import (
	"strings"

	"sentiment-labeler/internal/llm"
	"sentiment-labeler/internal/models"
)

// SystemMessage returns the system prompt for model.
func SystemMessage(model string) string {
	tags := make([]string, 0, len(models.EthicsVocabulary))
	for _, tag := range models.EthicsVocabulary {
		tags = append(tags, string(tag))
	}

	var b strings.Builder
	b.WriteString("You are a labeling engine. Return ONLY machine-readable output.\n")
	b.WriteString("Task: For each line, classify sentiment label, score, sarcasm, and ethics.\n")
	b.WriteString("Output one CSV line per input row exactly:\n")
	b.WriteString("id|label|score|sarcasm|ethics\n")
	b.WriteString("- label in {positive, negative, neutral}\n")
	b.WriteString("- score in [-1,1]\n")
	b.WriteString("- sarcasm 1 or 0\n")
	b.WriteString("- ethics subset of " + strings.Join(tags, ",") + " or none\n")
	b.WriteString("No commentary. No markdown.")

	// extra format reminder for deepseek models
	if llm.VendorAlias(model) == "deepseek" {
		b.WriteString("\nNever write paragraphs. Output CSV only.")
	}
	return b.String()
}

// MaxTokens is the completion budget for a request covering rows ids.
func MaxTokens(tokensPerRow, rows int) int {
	return max(64, tokensPerRow*max(1, rows))
}
