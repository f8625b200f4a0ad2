package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/linyh/webrag/internal/ingest"
	"github.com/linyh/webrag/internal/knowledge"
	"github.com/linyh/webrag/internal/log"
	"github.com/linyh/webrag/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRetriever struct {
	results   []knowledge.Result
	searchErr error
	count     int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ ...knowledge.SearchOption) ([]knowledge.Result, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeRetriever) Count(context.Context) (int, error) {
	return f.count, nil
}

type fakeIngestor struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{} // when non-nil, closed once Ingest is entered
	barrier chan struct{} // when non-nil, Ingest blocks until it closes
	result  *ingest.Result
}

func (f *fakeIngestor) Ingest(_ context.Context, urls []string) (*ingest.Result, error) {
	f.mu.Lock()
	f.calls++
	started, barrier := f.started, f.barrier
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if barrier != nil {
		<-barrier
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ingest.Result{Chunks: len(urls) * 3}, nil
}

func (f *fakeIngestor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSystem(t *testing.T, gen Generator, retriever Retriever, ingestor Ingestor) *System {
	t.Helper()
	if retriever == nil {
		retriever = &fakeRetriever{}
	}
	if ingestor == nil {
		ingestor = &fakeIngestor{}
	}
	s, err := New(Config{
		Generator: gen,
		Retriever: retriever,
		Ingestor:  ingestor,
		Logger:    log.NewNop(),
		URLs:      []string{"https://example.com/post"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("moves to ready", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		s := newTestSystem(t, nil, nil, ingestor)

		if st := s.Status(ctx); st.Initialized || st.Initializing {
			t.Fatalf("fresh system status = %+v", st)
		}
		if err := s.Initialize(ctx); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if st := s.Status(ctx); !st.Initialized || st.Initializing || st.LastError != "" {
			t.Errorf("status after init = %+v", st)
		}
	})

	t.Run("status reports chunk count once ready", func(t *testing.T) {
		retriever := &fakeRetriever{count: 6}
		s := newTestSystem(t, nil, retriever, nil)

		if got := s.Status(ctx).Chunks; got != 0 {
			t.Errorf("Chunks before init = %d", got)
		}
		if err := s.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		if got := s.Status(ctx).Chunks; got != 6 {
			t.Errorf("Chunks = %d, want 6", got)
		}
	})

	t.Run("ready short-circuits", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		s := newTestSystem(t, nil, nil, ingestor)

		if err := s.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		if err := s.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		if got := ingestor.callCount(); got != 1 {
			t.Errorf("ingestor called %d times, want 1", got)
		}
	})

	t.Run("failure returns to uninitialized", func(t *testing.T) {
		ingestor := &fakeIngestor{err: errors.New("every page failed")}
		s := newTestSystem(t, nil, nil, ingestor)

		if err := s.Initialize(ctx); err == nil {
			t.Fatal("expected failure")
		}
		st := s.Status(ctx)
		if st.Initialized || st.Initializing {
			t.Errorf("status after failure = %+v", st)
		}
		if !strings.Contains(st.LastError, "every page failed") {
			t.Errorf("LastError = %q", st.LastError)
		}

		// The failure is retryable.
		ingestor.err = nil
		if err := s.Initialize(ctx); err != nil {
			t.Fatalf("retry: %v", err)
		}
		if !s.Status(ctx).Initialized {
			t.Error("retry did not reach ready")
		}
	})

	t.Run("concurrent initialize is a no-op", func(t *testing.T) {
		started := make(chan struct{})
		barrier := make(chan struct{})
		ingestor := &fakeIngestor{started: started, barrier: barrier}
		s := newTestSystem(t, nil, nil, ingestor)

		done := make(chan error, 1)
		go func() { done <- s.Initialize(ctx) }()

		// Wait for the first call to enter ingestion.
		<-started
		if !s.Status(ctx).Initializing {
			t.Error("status not initializing while ingestion runs")
		}

		// A second request while one is running returns immediately.
		if err := s.Initialize(ctx); err != nil {
			t.Errorf("concurrent Initialize: %v", err)
		}

		close(barrier)
		if err := <-done; err != nil {
			t.Fatalf("first Initialize: %v", err)
		}
		if got := ingestor.callCount(); got != 1 {
			t.Errorf("ingestor called %d times, want 1", got)
		}
	})
}

func TestChatDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("extracts reasoning", func(t *testing.T) {
		gen := testutil.NewMockGenerator("<think>weighing options</think>Go with option A.")
		s := newTestSystem(t, gen, nil, nil)

		ex, err := s.ChatDirect(ctx, "which option", false)
		if err != nil {
			t.Fatalf("ChatDirect: %v", err)
		}
		if !ex.HasReasoning || ex.Reasoning == nil || *ex.Reasoning != "weighing options" {
			t.Errorf("Reasoning = %v", ex.Reasoning)
		}
		if ex.Answer != "Go with option A." {
			t.Errorf("Answer = %q", ex.Answer)
		}
		if ex.RawText == "" {
			t.Error("RawText not preserved")
		}
	})

	t.Run("reasoning mode changes the prompt", func(t *testing.T) {
		gen := testutil.NewMockGenerator("fine")
		s := newTestSystem(t, gen, nil, nil)

		if _, err := s.ChatDirect(ctx, "topic", true); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(gen.Calls[0], "<think></think>") {
			t.Errorf("prompt lacks reasoning instruction: %q", gen.Calls[0])
		}
	})

	t.Run("no generator", func(t *testing.T) {
		s := newTestSystem(t, nil, nil, nil)
		if _, err := s.ChatDirect(ctx, "topic", false); !errors.Is(err, ErrModelUnavailable) {
			t.Errorf("err = %v, want ErrModelUnavailable", err)
		}
	})

	t.Run("generator failure", func(t *testing.T) {
		gen := testutil.NewMockGenerator("")
		gen.Err = errors.New("connection refused")
		s := newTestSystem(t, gen, nil, nil)

		if _, err := s.ChatDirect(ctx, "topic", false); !errors.Is(err, ErrModelUnavailable) {
			t.Errorf("err = %v, want ErrModelUnavailable", err)
		}
	})
}

func TestChatWithRetrieval(t *testing.T) {
	ctx := context.Background()

	t.Run("before initialization", func(t *testing.T) {
		gen := testutil.NewMockGenerator("should never run")
		s := newTestSystem(t, gen, nil, nil)

		_, err := s.ChatWithRetrieval(ctx, "question", false)
		if !errors.Is(err, ErrRetrievalUnavailable) {
			t.Fatalf("err = %v, want ErrRetrievalUnavailable", err)
		}
		if gen.CallCount() != 0 {
			t.Error("generator invoked before retrieval was ready")
		}
	})

	t.Run("retrieved chunks reach the prompt", func(t *testing.T) {
		gen := testutil.NewMockGenerator("grounded answer")
		retriever := &fakeRetriever{results: []knowledge.Result{
			{Chunk: knowledge.Chunk{Content: "agents plan with decomposition"}, Similarity: 0.91},
			{Chunk: knowledge.Chunk{Content: "reflection refines past actions"}, Similarity: 0.87},
		}}
		s := newTestSystem(t, gen, retriever, nil)
		if err := s.Initialize(ctx); err != nil {
			t.Fatal(err)
		}

		ex, err := s.ChatWithRetrieval(ctx, "how do agents plan", false)
		if err != nil {
			t.Fatalf("ChatWithRetrieval: %v", err)
		}
		if ex.Answer != "grounded answer" {
			t.Errorf("Answer = %q", ex.Answer)
		}

		prompt := gen.Calls[0]
		if !strings.Contains(prompt, "agents plan with decomposition") ||
			!strings.Contains(prompt, "reflection refines past actions") {
			t.Errorf("prompt missing retrieved context: %q", prompt)
		}
		if !strings.Contains(prompt, "how do agents plan") {
			t.Errorf("prompt missing the question: %q", prompt)
		}
	})

	t.Run("search failure", func(t *testing.T) {
		gen := testutil.NewMockGenerator("unused")
		retriever := &fakeRetriever{}
		s := newTestSystem(t, gen, retriever, nil)
		if err := s.Initialize(ctx); err != nil {
			t.Fatal(err)
		}

		retriever.searchErr = errors.New("pool closed")
		_, err := s.ChatWithRetrieval(ctx, "question", false)
		if !errors.Is(err, ErrRetrievalUnavailable) {
			t.Errorf("err = %v, want ErrRetrievalUnavailable", err)
		}
		if gen.CallCount() != 0 {
			t.Error("generator invoked after search failure")
		}
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Retriever: &fakeRetriever{}, Logger: log.NewNop()})
	if err == nil {
		t.Error("missing ingestor accepted")
	}
	_, err = New(Config{Ingestor: &fakeIngestor{}, URLs: []string{"x"}, Logger: log.NewNop()})
	if err == nil {
		t.Error("missing retriever accepted")
	}
}
