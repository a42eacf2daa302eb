package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTruncate(t *testing.T) {
	t.Run("under budget passes through", func(t *testing.T) {
		assert.Equal(t, "короткий", Truncate("короткий", 100))
	})

	t.Run("exact budget passes through", func(t *testing.T) {
		text := strings.Repeat("а", 10)
		assert.Equal(t, text, Truncate(text, 10))
	})

	t.Run("over budget truncated with marker", func(t *testing.T) {
		got := Truncate(strings.Repeat("а", 11), 10)
		assert.Equal(t, strings.Repeat("а", 10)+TruncationMarker, got)
	})
}

// 性质：超限输入裁到恰好 budget 个 rune 加标记；未超限输入原样通过。
func TestTruncateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 2000, -1).Draw(t, "text")
		budget := rapid.IntRange(1, 500).Draw(t, "budget")

		got := Truncate(text, budget)
		runes := []rune(text)

		if len(runes) <= budget {
			if got != text {
				t.Fatalf("untruncated input must pass through unchanged")
			}
			return
		}

		want := string(runes[:budget]) + TruncationMarker
		if got != want {
			t.Fatalf("expected exactly budget runes plus marker")
		}
	})
}
