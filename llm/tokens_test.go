package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokensNonEmpty(t *testing.T) {
	n := CountTokens("gpt-4o-mini", "скільки документів я завантажив?")
	assert.Positive(t, n)
}

func TestEstimateUsage(t *testing.T) {
	usage := EstimateUsage("gpt-4o-mini", []Message{
		{Role: RoleSystem, Content: "Ти юридичний асистент."},
		{Role: RoleUser, Content: "Що таке позовна давність?"},
	}, "Позовна давність — це строк, у межах якого особа може звернутися до суду.")

	assert.Positive(t, usage.PromptTokens)
	assert.Positive(t, usage.CompletionTokens)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}
