package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fabfab/docbot/ingestion"
)

// MemoryStore ranks chunks by brute-force cosine similarity.
type MemoryStore struct {
	mu        sync.RWMutex
	chunks    []ingestion.Chunk
	vectors   [][]float32
	dimension int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add appends chunks with their vectors. All vectors must share one dimension.
func (s *MemoryStore) Add(chunks []ingestion.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk count mismatch: have %d chunks, %d vectors", len(chunks), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for idx, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("vector %d is empty", idx)
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", idx, len(vec), dim)
		}
	}

	s.dimension = dim
	s.chunks = append(s.chunks, chunks...)
	s.vectors = append(s.vectors, vectors...)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Search returns the k most similar chunks, best first. Equal scores keep
// insertion order.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return []Match{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(vector), s.dimension)
	}

	matches := make([]Match, len(s.chunks))
	for idx, chunk := range s.chunks {
		matches[idx] = Match{Chunk: chunk, Score: cosine(vector, s.vectors[idx])}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// cosine returns 0 when either vector has zero length.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*MemoryStore)(nil)
