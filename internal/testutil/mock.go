package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// MockGenerator is a pattern-matching fake for the model's generate
// capability. Responses are matched by substring against the prompt, in
// registration order; the default response answers anything unmatched.
type MockGenerator struct {
	mu       sync.Mutex
	patterns []mockPattern
	Default  string
	Err      error // returned from every call when non-nil
	Calls    []string
}

type mockPattern struct {
	substring string
	response  string
}

// NewMockGenerator creates a MockGenerator with a default response.
func NewMockGenerator(defaultResponse string) *MockGenerator {
	return &MockGenerator{Default: defaultResponse}
}

// Respond registers a canned response for prompts containing substring.
func (m *MockGenerator) Respond(substring, response string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, mockPattern{substring: substring, response: response})
	return m
}

// Generate implements the generator interface.
func (m *MockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	for _, p := range m.patterns {
		if strings.Contains(prompt, p.substring) {
			return p.response, nil
		}
	}
	return m.Default, nil
}

// CallCount returns how many times Generate was invoked.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockEmbedder produces deterministic embeddings derived from a hash of
// the input text. Identical texts embed identically; different texts
// almost never collide. Dimension matches the chunks schema.
type MockEmbedder struct {
	Dim int   // 0 = 768
	Err error // returned from every call when non-nil
}

// Embed implements the embedder interface.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	dim := m.Dim
	if dim <= 0 {
		dim = 768
	}

	vec := make([]float32, dim)
	for i := range vec {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		// Map the hash into [-1, 1) so vectors are usable for cosine math
		vec[i] = float32(h.Sum32()%2000)/1000 - 1
	}
	return vec, nil
}
