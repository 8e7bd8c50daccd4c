package retrieval

import "context"

// Candidate is one scored match from the vector index. Immutable once
// produced.
type Candidate struct {
	Content  string  `json:"content"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// IndexEntry is one embedded chunk upserted into the vector index during
// ingestion.
type IndexEntry struct {
	ID       string
	Vector   []float32
	Content  string
	SourceID string
}

// Embedder computes a fixed-dimension vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the vector similarity search collaborator.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Candidate, error)
	Upsert(ctx context.Context, entries []IndexEntry) error
}
