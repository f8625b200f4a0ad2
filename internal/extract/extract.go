// Package extract separates a model's reasoning segment from its final
// answer.
//
// The primary rule looks for <think>...</think> blocks (case-insensitive).
// When no tagged block exists, an ordered list of introductory-phrase
// patterns is tried; a match only counts when the candidate reasoning is at
// least MinReasoningLen characters, which keeps short incidental phrases in
// the answer.
//
// Extraction is pure and deterministic. It is also idempotent on its own
// Answer output, with one narrow exception: an extracted answer can itself
// open with a qualifying introductory phrase, and feeding it back in would
// split it again under the fallback rule. In practice answers go to
// clients, not back through Extract.
package extract

import (
	"regexp"
	"strings"
)

// MinReasoningLen is the minimum length for a phrase-matched reasoning
// segment. Shorter candidates are treated as part of the answer.
const MinReasoningLen = 50

// thinkBlock matches a tagged reasoning block. (?s) lets the block span
// lines; matching is case-insensitive.
var thinkBlock = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// IntroPatterns are the fallback rules, tried in order. Each captures a
// leading reasoning phrase up to a blank line, then the remainder.
var IntroPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)^(Let me think.*?)\n\s*\n(.*)$`),
	regexp.MustCompile(`(?s)^(Let's think step by step.*?)\n\s*\n(.*)$`),
	regexp.MustCompile(`(?s)^(Thinking:.*?)\n\s*\n(.*)$`),
	regexp.MustCompile(`(?s)^(Reasoning:.*?)\n\s*\n(.*)$`),
	regexp.MustCompile(`(?s)^(First, .*?)\n\s*\n(.*)$`),
}

// Result is the outcome of extraction. Reasoning is nil when no segment
// was found.
type Result struct {
	Reasoning    *string
	Answer       string
	HasReasoning bool
}

// Extract splits raw model output into reasoning and answer.
func Extract(raw string) Result {
	if matches := thinkBlock.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		var parts []string
		for _, m := range matches {
			if t := strings.TrimSpace(m[1]); t != "" {
				parts = append(parts, t)
			}
		}
		reasoning := strings.Join(parts, "\n\n")
		answer := strings.TrimSpace(thinkBlock.ReplaceAllString(raw, ""))
		return Result{Reasoning: &reasoning, Answer: answer, HasReasoning: true}
	}

	trimmed := strings.TrimSpace(raw)
	for _, pat := range IntroPatterns {
		m := pat.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		reasoning := strings.TrimSpace(m[1])
		if len(reasoning) < MinReasoningLen {
			continue
		}
		answer := strings.TrimSpace(m[2])
		return Result{Reasoning: &reasoning, Answer: answer, HasReasoning: true}
	}

	return Result{Answer: trimmed}
}
