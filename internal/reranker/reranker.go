// Package reranker re-scores retrieval candidates with a cross-encoder
// style LLM pass: the model sees query and document together instead of
// comparing embeddings independently.
//
// # Trade-offs
//
//   - Latency: adds 1-3 seconds per query (extra LLM call)
//   - Quality: noticeably better ordering when the top-k vector scores
//     are close together
//   - Cost: roughly doubles LLM token usage per query
//
// Enable it where accuracy matters more than speed; leave it off for
// latency-sensitive widget traffic.
package reranker

import (
	"context"
)

// Candidate is one hydrated retrieval result: a chunk's text with its
// similarity score.
type Candidate struct {
	ChunkID string
	Content string
	Score   float32
}

// Reranker reorders candidates by relevance to the query.
type Reranker interface {
	// Rerank returns the candidates re-ordered with updated scores,
	// truncated to topK.
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
}
