// Package ingest loads web pages, splits them into overlapping chunks and
// hands the chunks to the vector store for embedding and persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linyh/webrag/internal/knowledge"
)

// ErrNoContentLoaded indicates a batch produced zero chunks across all
// URLs. The failed initialization attempt is retryable.
var ErrNoContentLoaded = errors.New("no content loaded")

// Fetcher retrieves the readable text of one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Store receives sanitized chunks for embedding and persistence.
type Store interface {
	Add(ctx context.Context, chunk knowledge.Chunk) error
	DeleteBySource(ctx context.Context, sourceURL string) error
}

// URLError records a single URL's fetch failure. These are soft: the
// batch continues without the failed URL.
type URLError struct {
	URL string
	Err error
}

// Result summarizes one ingestion batch.
type Result struct {
	Chunks    int
	URLErrors []URLError
}

// Pipeline sequences fetch, chunk, sanitize and store for a batch of URLs.
type Pipeline struct {
	fetcher Fetcher
	store   Store
	chunker *Chunker
	logger  *slog.Logger
}

// NewPipeline creates a Pipeline. A nil chunker gets the defaults.
func NewPipeline(fetcher Fetcher, store Store, chunker *Chunker, logger *slog.Logger) *Pipeline {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, store: store, chunker: chunker, logger: logger}
}

// Ingest fetches each URL, chunks its text and stores the chunks.
// Individual fetch failures are collected in Result.URLErrors and do not
// abort the batch; a store failure does, since it means the embedding or
// persistence capability is down. When no URL yields any chunk, Ingest
// fails with ErrNoContentLoaded.
func (p *Pipeline) Ingest(ctx context.Context, urls []string) (*Result, error) {
	result := &Result{}

	for _, url := range urls {
		page, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			p.logger.Warn("skipping URL", "url", url, "error", err)
			result.URLErrors = append(result.URLErrors, URLError{URL: url, Err: err})
			continue
		}

		// Drop any chunks from a previous ingestion of this page.
		if err := p.store.DeleteBySource(ctx, url); err != nil {
			return nil, fmt.Errorf("clearing previous chunks for %q: %w", url, err)
		}

		pieces := p.chunker.Split(page.Text)
		now := time.Now()
		for i, text := range pieces {
			chunk := knowledge.Chunk{
				ID:      uuid.NewString(),
				Content: text,
				Metadata: SanitizeMetadata(map[string]any{
					"source_url":     page.URL,
					"title":          page.Title,
					"chunk_index":    i,
					"content_length": len(text),
					"created_at":     now,
				}),
				CreatedAt: now,
			}
			if err := p.store.Add(ctx, chunk); err != nil {
				return nil, fmt.Errorf("storing chunk %d of %q: %w", i, url, err)
			}
		}

		p.logger.Info("ingested page", "url", url, "chunks", len(pieces))
		result.Chunks += len(pieces)
	}

	if result.Chunks == 0 {
		return nil, fmt.Errorf("%w: %d of %d URLs failed", ErrNoContentLoaded, len(result.URLErrors), len(urls))
	}
	return result, nil
}
