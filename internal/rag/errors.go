package rag

import "errors"

// Sentinel errors for the query service. The HTTP facade maps these to
// status codes with errors.Is.
var (
	// ErrModelUnavailable indicates no chat model is configured or the
	// model server cannot be reached.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrRetrievalUnavailable indicates the retrieval subsystem has not
	// been initialized, or the vector store cannot be reached.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)
