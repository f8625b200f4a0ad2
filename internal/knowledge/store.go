package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds vector search queries so a slow database cannot
// block a chat request indefinitely.
const searchTimeout = 10 * time.Second

// Embedder converts text into an embedding vector. Implemented by the
// model client; mocked in tests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store persists chunks and serves similarity search over them.
// Safe for concurrent use; the pool handles connection management.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Store. The pool must have pgvector types registered
// (see database.Open).
func New(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

// Add embeds a chunk's content and upserts it.
func (s *Store) Add(ctx context.Context, chunk Chunk) error {
	vec, err := s.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("embedding chunk %q: %w", chunk.ID, err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding returned for chunk %q", chunk.ID)
	}

	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for chunk %q: %w", chunk.ID, err)
	}

	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const q = `
		INSERT INTO chunks (id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`
	if _, err := s.pool.Exec(ctx, q, chunk.ID, chunk.Content, pgvector.NewVector(vec), metadata, createdAt); err != nil {
		return fmt.Errorf("upserting chunk %q: %w", chunk.ID, err)
	}

	s.logger.Debug("added chunk", "id", chunk.ID, "content_length", len(chunk.Content))
	return nil
}

// Search embeds the query and returns the most similar chunks, ordered by
// cosine similarity.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("empty embedding returned for query")
	}
	queryVec := pgvector.NewVector(vec)

	var (
		sql  string
		args []any
	)
	if cfg.source != "" {
		sql = `
			SELECT id, content, metadata, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM chunks
			WHERE metadata @> $3
			ORDER BY embedding <=> $1
			LIMIT $2`
		filter, marshalErr := json.Marshal(map[string]string{"source_url": cfg.source})
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling source filter: %w", marshalErr)
		}
		args = []any{queryVec, cfg.topK, filter}
	} else {
		sql = `
			SELECT id, content, metadata, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM chunks
			ORDER BY embedding <=> $1
			LIMIT $2`
		args = []any{queryVec, cfg.topK}
	}

	rows, err := s.pool.Query(queryCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			chunk      Chunk
			metadata   []byte
			similarity float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &metadata, &chunk.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "id", chunk.ID, "error", err)
			chunk.Metadata = map[string]any{}
		}
		results = append(results, Result{Chunk: chunk, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	return results, nil
}

// Count returns the total number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(count), nil
}

// DeleteBySource removes all chunks ingested from the given URL. Used to
// re-ingest a page without duplicating its chunks.
func (s *Store) DeleteBySource(ctx context.Context, sourceURL string) error {
	filter, err := json.Marshal(map[string]string{"source_url": sourceURL})
	if err != nil {
		return fmt.Errorf("marshaling source filter: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE metadata @> $1`, filter)
	if err != nil {
		return fmt.Errorf("deleting chunks for %q: %w", sourceURL, err)
	}
	s.logger.Debug("deleted chunks by source", "source_url", sourceURL, "rows", tag.RowsAffected())
	return nil
}
