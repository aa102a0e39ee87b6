package index

import (
	"context"
	"fmt"
	"log"

	"github.com/fabfab/docbot/embeddings"
	"github.com/fabfab/docbot/ingestion"
)

// GraphSyncer mirrors freshly built documents into a knowledge graph.
type GraphSyncer interface {
	SyncDocument(ctx context.Context, doc ingestion.Document, chunks []ingestion.Chunk) error
	Prune(ctx context.Context, keep []string) error
}

type BuilderOptions struct {
	Loader       *ingestion.Service
	Embedder     embeddings.Embedder
	TokenCounter embeddings.TokenCounter
	BatchTokens  int
	TopK         int
	Graph        GraphSyncer
	Logger       *log.Logger
}

// Builder turns a data directory into an Index.
type Builder struct {
	loader      *ingestion.Service
	embedder    embeddings.Embedder
	count       embeddings.TokenCounter
	batchTokens int
	topK        int
	graph       GraphSyncer
	logger      *log.Logger
}

func NewBuilder(opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	loader := opts.Loader
	if loader == nil {
		loader = ingestion.NewService(logger, 0, 0)
	}
	count := opts.TokenCounter
	if count == nil {
		count = embeddings.EstimateTokens
	}

	return &Builder{
		loader:      loader,
		embedder:    opts.Embedder,
		count:       count,
		batchTokens: opts.BatchTokens,
		topK:        opts.TopK,
		graph:       opts.Graph,
		logger:      logger,
	}
}

type corpus struct {
	docs    []ingestion.Document
	chunks  []ingestion.Chunk
	byDoc   map[string][]ingestion.Chunk
	vectors [][]float32
}

// Build loads, chunks and embeds dir into a fresh in-memory index.
func (b *Builder) Build(ctx context.Context, dir string) (*Index, error) {
	c, err := b.prepare(ctx, dir)
	if err != nil {
		return nil, err
	}

	store := NewMemoryStore()
	if err := store.Add(c.chunks, c.vectors); err != nil {
		return nil, fmt.Errorf("store vectors: %w", err)
	}
	if err := b.syncGraph(ctx, c); err != nil {
		return nil, err
	}

	return New(store, b.embedder, b.topK), nil
}

// Open reuses the persisted index described by want unless reindex is set or
// nothing has been stored yet, in which case the index is rebuilt from dir.
func (b *Builder) Open(ctx context.Context, dir string, store PersistentStore, want Meta, reindex bool) (*Index, error) {
	if store == nil {
		return nil, fmt.Errorf("persistent store is not configured")
	}

	if !reindex {
		meta, ok, err := store.Meta(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := b.verify(ctx, store, meta, want); err != nil {
				return nil, err
			}
			b.logger.Printf("Reusing index... (%d chunks, model %s)", meta.ChunkCount, meta.EmbeddingModel)
			return New(store, b.embedder, b.topK), nil
		}
	}

	c, err := b.prepare(ctx, dir)
	if err != nil {
		return nil, err
	}
	for idx, vec := range c.vectors {
		if len(vec) != want.Dimension {
			return nil, fmt.Errorf("chunk %d embedding has dimension %d, want %d", idx, len(vec), want.Dimension)
		}
	}

	meta := Meta{EmbeddingModel: want.EmbeddingModel, Dimension: want.Dimension, ChunkCount: len(c.chunks)}
	if err := store.Replace(ctx, c.docs, c.chunks, c.vectors, meta); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}
	b.logger.Printf("persisted index with %d chunks", len(c.chunks))

	if err := b.syncGraph(ctx, c); err != nil {
		return nil, err
	}

	return New(store, b.embedder, b.topK), nil
}

func (b *Builder) verify(ctx context.Context, store PersistentStore, have, want Meta) error {
	if have.EmbeddingModel != want.EmbeddingModel || have.Dimension != want.Dimension {
		return fmt.Errorf("%w: built with %s/%d, configured %s/%d",
			ErrInconsistentIndex, have.EmbeddingModel, have.Dimension, want.EmbeddingModel, want.Dimension)
	}

	live, err := store.ChunkCount(ctx)
	if err != nil {
		return err
	}
	if live == 0 || live != have.ChunkCount {
		return fmt.Errorf("%w: recorded %d chunks, found %d", ErrInconsistentIndex, have.ChunkCount, live)
	}
	return nil
}

func (b *Builder) prepare(ctx context.Context, dir string) (corpus, error) {
	if b.embedder == nil {
		return corpus{}, fmt.Errorf("embedder is not configured")
	}

	docs, err := b.loader.LoadDirectory(ctx, dir)
	if err != nil {
		return corpus{}, err
	}

	c := corpus{docs: docs, byDoc: make(map[string][]ingestion.Chunk, len(docs))}
	for _, doc := range docs {
		chunks := b.loader.Chunk(doc)
		c.byDoc[doc.ID] = chunks
		c.chunks = append(c.chunks, chunks...)
	}

	texts := make([]string, len(c.chunks))
	for idx, chunk := range c.chunks {
		texts[idx] = chunk.Content
	}

	c.vectors, err = embeddings.EmbedAll(ctx, b.embedder, texts, b.batchTokens, b.count)
	if err != nil {
		return corpus{}, fmt.Errorf("embed chunks: %w", err)
	}

	b.logger.Printf("indexed %d chunks from %d documents", len(c.chunks), len(c.docs))
	return c, nil
}

func (b *Builder) syncGraph(ctx context.Context, c corpus) error {
	if b.graph == nil {
		return nil
	}

	keep := make([]string, 0, len(c.docs))
	for _, doc := range c.docs {
		if err := b.graph.SyncDocument(ctx, doc, c.byDoc[doc.ID]); err != nil {
			return fmt.Errorf("sync knowledge graph: %w", err)
		}
		keep = append(keep, doc.ID)
	}
	if err := b.graph.Prune(ctx, keep); err != nil {
		return fmt.Errorf("prune knowledge graph: %w", err)
	}

	b.logger.Printf("synced %d documents to knowledge graph", len(c.docs))
	return nil
}
