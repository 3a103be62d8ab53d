package store

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Tokenizer names accepted by BM25Config.Tokenizer.
const (
	TokenizerSimple = "simple"
	TokenizerCode   = "code"
)

// Tokenizer turns text into index terms.
type Tokenizer func(text string) []string

// NewTokenizer resolves a tokenizer by name. Empty selects "simple".
func NewTokenizer(name string, stopWords []string) (Tokenizer, error) {
	stop := BuildStopWordMap(stopWords)
	switch name {
	case "", TokenizerSimple:
		return func(text string) []string {
			return FilterStopWords(TokenizeSimple(text), stop)
		}, nil
	case TokenizerCode:
		return func(text string) []string {
			return FilterStopWords(TokenizeCode(text), stop)
		}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q (want %q or %q)", name, TokenizerSimple, TokenizerCode)
	}
}

// TokenizeSimple lowercases text and splits it on whitespace. Punctuation
// glued to either end of a word is trimmed so "link," and "link" agree;
// inner punctuation ("2.1.1", "tx_valid") is kept.
func TokenizeSimple(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// tokenRegex matches alphanumeric sequences (including underscores for initial split).
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text with identifier-aware rules: camelCase,
// PascalCase and snake_case (common in RTL signal names such as
// "tx_data_valid" or "LinkTrainingState") become separate terms. The whole
// snake_case identifier is kept as well so exact signal lookups still rank.
// Tokens shorter than two characters are dropped. All tokens are lowercased.
func TokenizeCode(text string) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		parts := SplitCodeToken(word)
		if len(parts) > 1 && strings.Contains(word, "_") {
			if whole := strings.ToLower(strings.Trim(word, "_")); len(whole) >= 2 {
				tokens = append(tokens, whole)
			}
		}
		for _, t := range parts {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}

	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
// Examples:
//   - "getLinkState" -> ["get", "Link", "State"]
//   - "AXIStreamIf" -> ["AXI", "Stream", "If"]
//   - "parseTLPHeader" -> ["parse", "TLP", "Header"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split on lower->Upper, and before the last capital of an acronym.
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	if len(stopWords) == 0 {
		return tokens
	}
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
