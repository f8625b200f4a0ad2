// Package knowledge stores and retrieves embedded text chunks using
// PostgreSQL with the pgvector extension.
package knowledge

import "time"

// Chunk is the unit of embedding and retrieval: a bounded slice of source
// text plus primitive-valued metadata. Metadata values must be strings,
// numbers or booleans; the ingestion pipeline sanitizes them before Add.
type Chunk struct {
	ID        string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Result is a single search hit with its cosine similarity score.
type Result struct {
	Chunk      Chunk
	Similarity float64
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK   int
	source string
}

// WithTopK sets the maximum number of results. Default is 4.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithSource restricts results to chunks ingested from the given URL.
func WithSource(url string) SearchOption {
	return func(c *searchConfig) {
		c.source = url
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{topK: 4}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
