package index

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fabfab/docbot/ingestion"
)

var vocabulary = []string{"paris", "france", "berlin", "germany", "capital", "rome"}

// keywordEmbedder counts vocabulary words so similar texts get similar vectors.
type keywordEmbedder struct {
	calls int
	err   error
}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(vocabulary))
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,?!")
			for j, v := range vocabulary {
				if word == v {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

type recordingGraph struct {
	synced []string
	kept   []string
	err    error
}

func (g *recordingGraph) SyncDocument(ctx context.Context, doc ingestion.Document, chunks []ingestion.Chunk) error {
	if g.err != nil {
		return g.err
	}
	g.synced = append(g.synced, doc.Path)
	return nil
}

func (g *recordingGraph) Prune(ctx context.Context, keep []string) error {
	g.kept = keep
	return nil
}

type fakePersistentStore struct {
	*MemoryStore
	meta     Meta
	hasMeta  bool
	live     int
	replaced int
}

func newFakePersistentStore() *fakePersistentStore {
	return &fakePersistentStore{MemoryStore: NewMemoryStore()}
}

func (s *fakePersistentStore) Meta(ctx context.Context) (Meta, bool, error) {
	return s.meta, s.hasMeta, nil
}

func (s *fakePersistentStore) ChunkCount(ctx context.Context) (int, error) {
	return s.live, nil
}

func (s *fakePersistentStore) Replace(ctx context.Context, docs []ingestion.Document, chunks []ingestion.Chunk, vectors [][]float32, meta Meta) error {
	s.MemoryStore = NewMemoryStore()
	if err := s.MemoryStore.Add(chunks, vectors); err != nil {
		return err
	}
	s.meta = meta
	s.hasMeta = true
	s.live = len(chunks)
	s.replaced++
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"france.txt":  "The capital of France is Paris.",
		"germany.txt": "Berlin is the capital of Germany.",
		"italy.md":    "# Italy\n\nRome is in Italy.",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func newTestBuilder(embedder *keywordEmbedder, graph GraphSyncer) *Builder {
	opts := BuilderOptions{
		Embedder:    embedder,
		BatchTokens: 8000,
		TopK:        1,
		Logger:      quietLogger(),
	}
	if graph != nil {
		opts.Graph = graph
	}
	return NewBuilder(opts)
}

func TestMemoryStoreOrdering(t *testing.T) {
	store := NewMemoryStore()
	chunks := []ingestion.Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	vectors := [][]float32{{0, 1}, {1, 0}, {1, 0}, {1, 1}}
	if err := store.Add(chunks, vectors); err != nil {
		t.Fatalf("add: %v", err)
	}

	matches, err := store.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := []string{matches[0].Chunk.ID, matches[1].Chunk.ID, matches[2].Chunk.ID}
	if strings.Join(got, ",") != "b,c,d" {
		t.Fatalf("unexpected order %v", got)
	}
	if matches[0].Score < 0.999 || matches[0].Score > 1.001 {
		t.Fatalf("expected identical vectors to score 1, got %f", matches[0].Score)
	}
}

func TestMemoryStoreValidation(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Add([]ingestion.Chunk{{ID: "a"}}, nil); err == nil {
		t.Fatal("expected count mismatch error")
	}
	if err := store.Add([]ingestion.Chunk{{ID: "a"}, {ID: "b"}}, [][]float32{{1, 0}, {1}}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if store.Len() != 0 {
		t.Fatalf("failed add must not store chunks, have %d", store.Len())
	}

	matches, err := store.Search(context.Background(), []float32{1, 0}, 1)
	if err != nil || len(matches) != 0 {
		t.Fatalf("expected empty result from empty store, got %v %v", matches, err)
	}

	if err := store.Add([]ingestion.Chunk{{ID: "a"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.Search(context.Background(), []float32{1, 0, 0}, 1); err == nil {
		t.Fatal("expected query dimension error")
	}
}

func TestCosineZeroVector(t *testing.T) {
	if got := cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected 0 for zero vector, got %f", got)
	}
}

func TestBuildAndRetrieve(t *testing.T) {
	embedder := &keywordEmbedder{}
	graph := &recordingGraph{}
	builder := newTestBuilder(embedder, graph)

	idx, err := builder.Build(context.Background(), writeCorpus(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	matches, err := idx.Retrieve(context.Background(), "What is the capital of France?", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected default top k of 1, got %d", len(matches))
	}
	if matches[0].Chunk.Path != "france.txt" {
		t.Fatalf("expected france.txt, got %s", matches[0].Chunk.Path)
	}

	if strings.Join(graph.synced, ",") != "france.txt,germany.txt,italy.md" {
		t.Fatalf("unexpected graph sync %v", graph.synced)
	}
	if len(graph.kept) != 3 {
		t.Fatalf("expected prune to keep 3 documents, got %d", len(graph.kept))
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	dir := writeCorpus(t)
	question := "Which city is the capital of Germany?"

	first, err := newTestBuilder(&keywordEmbedder{}, nil).Build(context.Background(), dir)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := newTestBuilder(&keywordEmbedder{}, nil).Build(context.Background(), dir)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	a, err := first.Retrieve(context.Background(), question, 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	b, err := second.Retrieve(context.Background(), question, 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("result sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Chunk.ID != b[i].Chunk.ID || a[i].Score != b[i].Score {
			t.Fatalf("result %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestBuildEmbedFailure(t *testing.T) {
	embedErr := errors.New("service unavailable")
	builder := newTestBuilder(&keywordEmbedder{err: embedErr}, nil)

	_, err := builder.Build(context.Background(), writeCorpus(t))
	if !errors.Is(err, embedErr) {
		t.Fatalf("expected embed error, got %v", err)
	}
	if !strings.Contains(err.Error(), "embed chunks") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestBuildMissingDirectory(t *testing.T) {
	builder := newTestBuilder(&keywordEmbedder{}, nil)
	if _, err := builder.Build(context.Background(), filepath.Join(t.TempDir(), "nope")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBuildGraphFailure(t *testing.T) {
	graphErr := errors.New("neo4j down")
	builder := newTestBuilder(&keywordEmbedder{}, &recordingGraph{err: graphErr})
	if _, err := builder.Build(context.Background(), writeCorpus(t)); !errors.Is(err, graphErr) {
		t.Fatalf("expected graph error, got %v", err)
	}
}

func TestOpenBuildsThenReuses(t *testing.T) {
	dir := writeCorpus(t)
	store := newFakePersistentStore()
	want := Meta{EmbeddingModel: "keyword", Dimension: len(vocabulary)}

	embedder := &keywordEmbedder{}
	if _, err := newTestBuilder(embedder, nil).Open(context.Background(), dir, store, want, false); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if store.replaced != 1 || store.meta.ChunkCount != 3 {
		t.Fatalf("expected one rebuild with 3 chunks, got %d rebuilds, meta %+v", store.replaced, store.meta)
	}

	reuser := &keywordEmbedder{}
	idx, err := newTestBuilder(reuser, nil).Open(context.Background(), dir, store, want, false)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if store.replaced != 1 {
		t.Fatalf("expected index to be reused, got %d rebuilds", store.replaced)
	}
	if reuser.calls != 0 {
		t.Fatalf("reuse must not embed the corpus, got %d calls", reuser.calls)
	}

	matches, err := idx.Retrieve(context.Background(), "capital of France", 1)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if matches[0].Chunk.Path != "france.txt" {
		t.Fatalf("unexpected match %s", matches[0].Chunk.Path)
	}

	if _, err := newTestBuilder(&keywordEmbedder{}, nil).Open(context.Background(), dir, store, want, true); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if store.replaced != 2 {
		t.Fatalf("expected reindex to rebuild, got %d rebuilds", store.replaced)
	}
}

func TestOpenRejectsInconsistentIndex(t *testing.T) {
	dir := writeCorpus(t)
	want := Meta{EmbeddingModel: "keyword", Dimension: len(vocabulary)}

	cases := map[string]func(*fakePersistentStore){
		"model":     func(s *fakePersistentStore) { s.meta.EmbeddingModel = "other" },
		"dimension": func(s *fakePersistentStore) { s.meta.Dimension = 1536 },
		"count":     func(s *fakePersistentStore) { s.live = 1 },
		"empty":     func(s *fakePersistentStore) { s.live = 0; s.meta.ChunkCount = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakePersistentStore()
			store.meta = Meta{EmbeddingModel: "keyword", Dimension: len(vocabulary), ChunkCount: 3}
			store.hasMeta = true
			store.live = 3
			mutate(store)

			_, err := newTestBuilder(&keywordEmbedder{}, nil).Open(context.Background(), dir, store, want, false)
			if !errors.Is(err, ErrInconsistentIndex) {
				t.Fatalf("expected ErrInconsistentIndex, got %v", err)
			}
		})
	}
}

func TestOpenRejectsWrongDimension(t *testing.T) {
	store := newFakePersistentStore()
	want := Meta{EmbeddingModel: "keyword", Dimension: 1536}

	if _, err := newTestBuilder(&keywordEmbedder{}, nil).Open(context.Background(), writeCorpus(t), store, want, false); err == nil {
		t.Fatal("expected dimension error")
	}
	if store.replaced != 0 {
		t.Fatal("store must not be replaced with mismatched vectors")
	}
}

func TestRetrieveEmbedError(t *testing.T) {
	embedErr := errors.New("boom")
	idx := New(NewMemoryStore(), &keywordEmbedder{err: embedErr}, 1)
	if _, err := idx.Retrieve(context.Background(), "q", 1); !errors.Is(err, embedErr) {
		t.Fatalf("expected embed error, got %v", err)
	}
}
