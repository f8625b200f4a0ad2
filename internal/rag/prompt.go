package rag

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompt templates. One canonical pair; the direct template takes only a
// topic, the retrieval template a context block and a question.
var (
	directPrompt = template.Must(template.New("direct").Parse(
		`You are a helpful assistant. Give a clear, well-organized answer on the topic below.

Topic: {{.Topic}}`))

	retrievalPrompt = template.Must(template.New("retrieval").Parse(
		`Answer the question using only the context below. If the context does not contain the answer, say so.

Context:
{{.Context}}

Question: {{.Question}}`))
)

// reasoningSuffix is appended when the caller enables reasoning mode. It
// asks the model to use the tag pair the extractor strips.
const reasoningSuffix = "\n\nThink through the problem step by step inside <think></think> tags before giving your final answer."

func buildDirectPrompt(topic string, reasoningMode bool) (string, error) {
	var sb strings.Builder
	if err := directPrompt.Execute(&sb, struct{ Topic string }{topic}); err != nil {
		return "", fmt.Errorf("filling direct prompt: %w", err)
	}
	if reasoningMode {
		sb.WriteString(reasoningSuffix)
	}
	return sb.String(), nil
}

func buildRetrievalPrompt(contextText, question string, reasoningMode bool) (string, error) {
	var sb strings.Builder
	err := retrievalPrompt.Execute(&sb, struct{ Context, Question string }{contextText, question})
	if err != nil {
		return "", fmt.Errorf("filling retrieval prompt: %w", err)
	}
	if reasoningMode {
		sb.WriteString(reasoningSuffix)
	}
	return sb.String(), nil
}
