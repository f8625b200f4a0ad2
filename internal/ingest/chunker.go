package ingest

// Default chunk geometry. Windows are measured in runes so multi-byte
// characters are never split.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into fixed-size overlapping windows. Consecutive
// windows overlap by exactly the configured amount; the final window may be
// shorter. Every rune of input is covered by at least one window.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Out-of-range arguments fall back to the
// defaults; overlap is clamped below size so the window always advances.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the overlapping windows of text. Empty input yields nil.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
