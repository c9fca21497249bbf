// Package title derives short session titles from the first user message,
// either through a secondary model call or deterministic heuristics.
package title

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"localchat/internal/ollama"
	"localchat/internal/storage"
)

// Placeholder is used when the input has no usable text.
const Placeholder = "新对话"

const maxTitleRunes = 30

// Completer is the single model call the generator needs.
type Completer interface {
	Chat(ctx context.Context, model string, messages []storage.Message, opts ollama.Options) (string, error)
}

const modelPrompt = `Generate a concise title (10-30 characters) for this conversation based on the user's message:

User message: %s

Requirements:
- Keep it short and descriptive
- No quotes or special symbols
- Extract the main topic or intent
- Chinese response preferred

Title:`

// Request prefixes whose object makes a better title than the verb. Checked
// in order, first match wins.
var requestPrefixes = []string{
	"请", "帮我", "帮忙", "能否", "可以", "如何", "怎么", "怎样",
	"写", "创建", "生成", "制作", "设计", "开发",
	"翻译", "转换", "转化",
}

var sentenceEnders = []rune{'。', '！', '？', '.', '!', '?'}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func runeLen(s string) int {
	return len([]rune(s))
}

// breakTruncate cuts s to at most 27 runes, preferring the last break
// character found after rune index 10, and appends an ellipsis.
func breakTruncate(s string, breaks []string) string {
	head := []rune(truncateRunes(s, 28))
	best := 27

	for _, bp := range breaks {
		idx := strings.LastIndex(string(head), bp)
		if idx == -1 {
			continue
		}
		runeIdx := runeLen(string(head)[:idx])
		if runeIdx > 10 {
			best = runeIdx
			break
		}
	}

	return string([]rune(s)[:best]) + "..."
}

func truncateWhole(s string) string {
	if runeLen(s) <= maxTitleRunes {
		return s
	}
	return truncateRunes(s, 27) + "..."
}

// FromHeuristic derives a title from message content without a model call.
func FromHeuristic(content string) string {
	cleaned := strings.TrimSpace(StripThinking(content))
	if cleaned == "" {
		return Placeholder
	}

	// Questions read well as titles; keep them whole when short.
	if strings.ContainsAny(cleaned, "?？") {
		return truncateWhole(cleaned)
	}

	// A request like "帮我写一首诗" is better titled by its object.
	for _, prefix := range requestPrefixes {
		if !strings.HasPrefix(cleaned, prefix) {
			continue
		}
		extracted := strings.TrimSpace(strings.TrimPrefix(cleaned, prefix))
		if extracted == "" {
			continue
		}
		// Under 3 runes the match is probably spurious; fall back to the
		// whole text.
		if runeLen(extracted) < 3 {
			return truncateWhole(cleaned)
		}
		if runeLen(extracted) <= 25 {
			return extracted
		}
		return truncateRunes(extracted, 22) + "..."
	}

	// First sentence up to a terminator.
	if idx := strings.IndexFunc(cleaned, isSentenceEnder); idx > 0 {
		first := strings.TrimSpace(cleaned[:idx])
		if first != "" {
			return truncateWhole(first)
		}
	}

	if runeLen(cleaned) <= maxTitleRunes {
		return cleaned
	}
	return breakTruncate(cleaned, []string{" ", "，", ",", "、"})
}

func isSentenceEnder(r rune) bool {
	for _, e := range sentenceEnders {
		if r == e {
			return true
		}
	}
	return false
}

// WithModel asks the model for a title and cleans up the result. It never
// returns an error: any failure, empty result or implausibly short result
// falls back to FromHeuristic.
func WithModel(ctx context.Context, content, model string, client Completer) string {
	cleaned := strings.TrimSpace(StripThinking(content))
	if cleaned == "" {
		log.Debug("Content empty after stripping thinking markup, using heuristic title")
		return FromHeuristic(content)
	}

	temperature := 0.3
	maxTokens := 50
	response, err := client.Chat(ctx, model, []storage.Message{
		{Role: storage.RoleUser, Content: fmt.Sprintf(modelPrompt, cleaned)},
	}, ollama.Options{Temperature: &temperature, MaxTokens: &maxTokens})
	if err != nil {
		log.Warn("Model title generation failed, using heuristic", "error", err)
		return FromHeuristic(content)
	}

	t := strings.TrimSpace(StripThinking(response))
	for _, prefix := range []string{"标题：", "Title:", "title:", "答：", "回答："} {
		if strings.HasPrefix(t, prefix) {
			t = strings.TrimSpace(strings.TrimPrefix(t, prefix))
			break
		}
	}
	t = strings.Trim(t, `"'`)
	if nl := strings.IndexByte(t, '\n'); nl != -1 {
		t = t[:nl]
	}
	t = strings.TrimSpace(t)

	if runeLen(t) > maxTitleRunes {
		t = breakTruncate(t, []string{" ", "，", ",", "、", "的", "了", "？", "?"})
	}

	if runeLen(t) < 3 {
		log.Debug("Model title too short, using heuristic", "title", t)
		return FromHeuristic(content)
	}
	return t
}

// Validate rejects titles that are empty after trimming or longer than 100
// characters. The returned reason is user-facing.
func Validate(t string) (bool, string) {
	trimmed := strings.TrimSpace(t)
	if trimmed == "" {
		return false, "Title cannot be empty"
	}
	if runeLen(trimmed) > 100 {
		return false, "Title must be less than 100 characters"
	}
	return true, ""
}

// Normalize trims and collapses internal whitespace runs to single spaces.
func Normalize(t string) string {
	return strings.Join(strings.Fields(t), " ")
}
