// Package rag coordinates ingestion, retrieval and generation behind a
// small state machine.
//
// The retrieval subsystem moves Uninitialized → Initializing → Ready.
// Initialization failure returns it to Uninitialized with the error
// recorded; a concurrent initialization request while one is running is a
// no-op, and once Ready further requests short-circuit.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/linyh/webrag/internal/extract"
	"github.com/linyh/webrag/internal/ingest"
	"github.com/linyh/webrag/internal/knowledge"
)

// DefaultTopK is the number of chunks retrieved per question when the
// config does not override it.
const DefaultTopK = 4

// Generator produces text from a prompt. Implemented by the model client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever serves similarity search over stored chunks.
type Retriever interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
	Count(ctx context.Context) (int, error)
}

// Ingestor populates the chunk store from a list of URLs.
type Ingestor interface {
	Ingest(ctx context.Context, urls []string) (*ingest.Result, error)
}

// Exchange pairs a request with the extracted response. RawText keeps the
// unmodified model output for diagnostics.
type Exchange struct {
	Reasoning    *string
	Answer       string
	HasReasoning bool
	RawText      string
}

// Status is a snapshot of the retrieval subsystem's readiness. Chunks is
// only populated once Ready.
type Status struct {
	Initialized  bool
	Initializing bool
	LastError    string
	Chunks       int
}

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
)

// Config carries the System's dependencies and settings.
type Config struct {
	Generator Generator // optional: nil fails chat calls with ErrModelUnavailable
	Retriever Retriever // required
	Ingestor  Ingestor  // required
	Logger    *slog.Logger
	URLs      []string // pages ingested by Initialize
	TopK      int      // 0 = DefaultTopK
}

func (cfg Config) validate() error {
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Ingestor == nil {
		return errors.New("ingestor is required")
	}
	if len(cfg.URLs) == 0 {
		return errors.New("at least one source URL is required")
	}
	return nil
}

// System is the query service. All fields are immutable after New except
// the state trio, which the mutex guards.
type System struct {
	gen       Generator
	retriever Retriever
	ingestor  Ingestor
	logger    *slog.Logger
	urls      []string
	topK      int

	mu      sync.Mutex
	state   state
	lastErr string
}

// New creates a System in the Uninitialized state.
func New(cfg Config) (*System, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid rag config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &System{
		gen:       cfg.Generator,
		retriever: cfg.Retriever,
		ingestor:  cfg.Ingestor,
		logger:    logger,
		urls:      cfg.URLs,
		topK:      topK,
	}, nil
}

// Initialize ingests the configured URLs and moves the system to Ready.
// While an initialization is running, further calls return nil without
// re-running; once Ready they return nil immediately.
func (s *System) Initialize(ctx context.Context) (err error) {
	s.mu.Lock()
	switch s.state {
	case stateReady:
		s.mu.Unlock()
		s.logger.Info("initialize skipped: already initialized")
		return nil
	case stateInitializing:
		s.mu.Unlock()
		s.logger.Info("initialize skipped: already in progress")
		return nil
	case stateUninitialized:
		s.state = stateInitializing
		s.lastErr = ""
	}
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "rag.initialize")
	defer func() { endSpan(span, err) }()

	result, err := s.ingestor.Ingest(ctx, s.urls)

	// The state always settles, whatever the ingestion outcome.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = stateUninitialized
		s.lastErr = err.Error()
		s.logger.Error("initialization failed", "error", err)
		return fmt.Errorf("initializing retrieval: %w", err)
	}

	s.state = stateReady
	s.logger.Info("retrieval initialized",
		"chunks", result.Chunks,
		"url_errors", len(result.URLErrors),
	)
	return nil
}

// Status returns a snapshot of the subsystem's readiness.
func (s *System) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		Initialized:  s.state == stateReady,
		Initializing: s.state == stateInitializing,
		LastError:    s.lastErr,
	}
	s.mu.Unlock()

	if st.Initialized {
		n, err := s.retriever.Count(ctx)
		if err != nil {
			s.logger.Warn("counting chunks for status", "error", err)
		} else {
			st.Chunks = n
		}
	}
	return st
}

// ChatDirect answers a topic without retrieval.
func (s *System) ChatDirect(ctx context.Context, topic string, reasoningMode bool) (_ *Exchange, err error) {
	ctx, span := tracer.Start(ctx, "rag.chat_direct")
	defer func() { endSpan(span, err) }()

	if s.gen == nil {
		return nil, fmt.Errorf("%w: no chat model configured", ErrModelUnavailable)
	}

	prompt, err := buildDirectPrompt(topic, reasoningMode)
	if err != nil {
		return nil, err
	}

	raw, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, err)
	}

	ex := toExchange(raw)
	s.logger.Info("chat direct", "topic_length", len(topic), "answer_length", len(ex.Answer), "has_reasoning", ex.HasReasoning)
	return ex, nil
}

// ChatWithRetrieval answers a question conditioned on the most similar
// stored chunks. Fails with ErrRetrievalUnavailable before Ready; the
// generation capability is never invoked in that case.
func (s *System) ChatWithRetrieval(ctx context.Context, question string, reasoningMode bool) (_ *Exchange, err error) {
	ctx, span := tracer.Start(ctx, "rag.chat_with_retrieval")
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	ready := s.state == stateReady
	s.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("%w: retrieval not initialized", ErrRetrievalUnavailable)
	}
	if s.gen == nil {
		return nil, fmt.Errorf("%w: no chat model configured", ErrModelUnavailable)
	}

	results, err := s.retriever.Search(ctx, question, knowledge.WithTopK(s.topK))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRetrievalUnavailable, err)
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Chunk.Content)
	}
	contextText := strings.Join(parts, "\n\n")

	prompt, err := buildRetrievalPrompt(contextText, question, reasoningMode)
	if err != nil {
		return nil, err
	}

	raw, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, err)
	}

	ex := toExchange(raw)
	s.logger.Info("chat with retrieval",
		"question_length", len(question),
		"retrieved", len(results),
		"context_length", len(contextText),
		"answer_length", len(ex.Answer),
	)
	return ex, nil
}

func toExchange(raw string) *Exchange {
	res := extract.Extract(raw)
	return &Exchange{
		Reasoning:    res.Reasoning,
		Answer:       res.Answer,
		HasReasoning: res.HasReasoning,
		RawText:      raw,
	}
}
