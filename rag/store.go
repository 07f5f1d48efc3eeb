package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// VectorStore is the similarity index holding chunk vectors and metadata.
type VectorStore interface {
	// EnsureIndex creates the index if it is missing and waits until it is
	// ready. It is safe to call more than once.
	EnsureIndex(ctx context.Context) error
	// Upsert writes chunks keyed by their ID.
	Upsert(ctx context.Context, chunks []Chunk) error
	// Query returns up to topK chunks of documentID ordered by descending
	// cosine similarity. No matches is an empty result, not an error.
	Query(ctx context.Context, vector []float32, topK int, documentID string) ([]SearchResult, error)
}

// InMemoryStore keeps vectors in process. It backs tests and the "memory"
// store type.
type InMemoryStore struct {
	mu     sync.RWMutex
	chunks []Chunk
	byID   map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chunks: []Chunk{},
		byID:   map[string]int{},
	}
}

func (s *InMemoryStore) EnsureIndex(context.Context) error { return nil }

func (s *InMemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		if len(ch.Embedding) != Dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions", ErrStorageFailure, ch.ID, len(ch.Embedding))
		}
		if i, ok := s.byID[ch.ID]; ok {
			s.chunks[i] = ch
			continue
		}
		s.byID[ch.ID] = len(s.chunks)
		s.chunks = append(s.chunks, ch)
	}
	return nil
}

// naive cosine similarity
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *InMemoryStore) Query(_ context.Context, vector []float32, topK int, documentID string) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	for _, ch := range s.chunks {
		if ch.DocumentID != documentID {
			continue
		}
		results = append(results, SearchResult{
			Chunk: ch,
			Score: cosine(vector, ch.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK < 0 {
		topK = 0
	}
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// Len reports how many chunks are stored.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
