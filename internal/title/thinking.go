package title

import "strings"

// Reasoning models embed side-channel commentary in <think> blocks. The chat
// pipeline and title generator both need that markup removed before the text
// is useful.

const (
	thinkOpen  = "<think"
	thinkClose = "</think>"
)

// StripThinking removes <think ...>...</think> blocks, case-insensitively.
// An opening tag with no matching close swallows everything through the end
// of the input.
func StripThinking(s string) string {
	var b strings.Builder
	lower := strings.ToLower(s)

	for {
		start := strings.Index(lower, thinkOpen)
		if start == -1 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])

		rest := lower[start:]
		openEnd := strings.Index(rest, ">")
		if openEnd == -1 {
			// Unterminated opening tag at end of input.
			break
		}
		closeIdx := strings.Index(rest[openEnd+1:], thinkClose)
		if closeIdx == -1 {
			// Opened but never closed; drop the remainder.
			break
		}
		next := start + openEnd + 1 + closeIdx + len(thinkClose)
		s = s[next:]
		lower = lower[next:]
	}

	return b.String()
}
