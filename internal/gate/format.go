package gate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxEntryChars bounds each hit's content in FormatContext.
	MaxEntryChars = 500

	// DefaultMaxContextChars is the gate.max_context_chars default.
	DefaultMaxContextChars = 4000

	judgeExcerptChars = 200
)

// FormatContext renders hits as a context block for prompt injection. Each
// entry's content is cut at MaxEntryChars runes with "..."; entries are
// added in order until the next one would push the block past maxChars, so
// the result never exceeds the budget; a non-positive budget yields "".
// Malformed hits are skipped.
func FormatContext(hits []Hit, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}

	var sb strings.Builder
	n := 0
	for _, h := range hits {
		v, ok := viewOf(h)
		if !ok {
			continue
		}
		n++

		var entry strings.Builder
		fmt.Fprintf(&entry, "[%d] %s", n, v.title)
		if v.path != "" {
			fmt.Fprintf(&entry, " (%s)", v.path)
		}
		fmt.Fprintf(&entry, " score=%.2f\n%s\n\n", v.score, truncate(strings.TrimSpace(v.content), MaxEntryChars))

		if sb.Len()+entry.Len() > maxChars {
			break
		}
		sb.WriteString(entry.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

// JudgePrompt asks for a strict YES/NO relevance verdict on the first
// JudgeSampleSize hits.
func JudgePrompt(query string, hits []Hit) string {
	var sb strings.Builder
	sb.WriteString("You judge whether retrieved documentation is relevant to a question.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\nRetrieved context:\n", strings.TrimSpace(query))

	n := 0
	for _, h := range hits {
		if n == JudgeSampleSize {
			break
		}
		v, ok := viewOf(h)
		if !ok {
			continue
		}
		n++
		excerpt := strings.Join(strings.Fields(v.content), " ")
		fmt.Fprintf(&sb, "%d. %s: %s\n", n, v.title, truncate(excerpt, judgeExcerptChars))
	}

	sb.WriteString("\nIs this context relevant to answering the question? Answer with exactly one word: YES or NO.")
	return sb.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
