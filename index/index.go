// Package index holds the searchable chunk vectors built from the data
// directory and answers top-k similarity queries against them.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/docbot/embeddings"
	"github.com/fabfab/docbot/ingestion"
)

const defaultTopK = 1

// ErrInconsistentIndex is returned when a persisted index cannot be reused as is.
var ErrInconsistentIndex = errors.New("persisted index is inconsistent")

// Match is a retrieved chunk and its cosine similarity to the query.
type Match struct {
	Chunk ingestion.Chunk
	Score float64
}

// Store ranks stored chunks against a query vector.
type Store interface {
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// Index pairs a store with the embedder that filled it. It is read only once built.
type Index struct {
	store    Store
	embedder embeddings.Embedder
	topK     int
}

func New(store Store, embedder embeddings.Embedder, topK int) *Index {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Index{store: store, embedder: embedder, topK: topK}
}

// Retrieve embeds query and returns up to k matches. k <= 0 uses the default.
func (i *Index) Retrieve(ctx context.Context, query string, k int) ([]Match, error) {
	if i.store == nil {
		return nil, fmt.Errorf("vector store is not configured")
	}
	if i.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	if k <= 0 {
		k = i.topK
	}

	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	matches, err := i.store.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return matches, nil
}
