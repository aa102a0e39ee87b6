package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fabfab/docbot/chat"
	"github.com/fabfab/docbot/config"
	"github.com/fabfab/docbot/console"
	"github.com/fabfab/docbot/database"
	"github.com/fabfab/docbot/embeddings"
	"github.com/fabfab/docbot/index"
	"github.com/fabfab/docbot/ingestion"
	"github.com/fabfab/docbot/knowledge"
	"github.com/fabfab/docbot/llm"
)

// newTokenCounter is replaced in tests to avoid fetching the BPE ranks.
var newTokenCounter = embeddings.NewTokenCounter

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	loadDotEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil {
		cancel()
		logger.Fatalf("docbot: %v", err)
	}
}

// loadDotEnv loads .env files into the environment. A missing file is
// ignored, a malformed one is logged and skipped.
func loadDotEnv(logger *log.Logger, filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Printf("load .env: %v", err)
	}
}

// run validates cfg, builds or reopens the index and then serves the loop
// until an exit token or end of input.
func run(ctx context.Context, cfg config.Config, logger *log.Logger, in io.Reader, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("embedder setup: %w", err)
	}
	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("llm setup: %w", err)
	}

	var (
		graphSync  index.GraphSyncer
		graphStore chat.GraphStore
	)
	if cfg.GraphEnabled() {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			return fmt.Errorf("neo4j connection: %w", err)
		}
		defer driver.Close(context.Background())
		graphSync = knowledge.NewGraph(driver)
		graphStore = chat.NewNeo4jGraphStore(driver)
	}

	builder := index.NewBuilder(index.BuilderOptions{
		Loader:       ingestion.NewService(logger, cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		Embedder:     embedder,
		TokenCounter: newTokenCounter(logger),
		BatchTokens:  cfg.Embeddings.BatchTokens,
		TopK:         cfg.Retrieval.TopK,
		Graph:        graphSync,
		Logger:       logger,
	})

	logger.Printf("indexing %s using %s/%s embeddings", cfg.DataDir, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	var idx *index.Index
	if cfg.Index.Persist {
		pool, err := database.NewPostgresPool(ctx, cfg.Index.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureRAGSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		store := index.NewPostgresStore(pool, logger)
		want := index.Meta{EmbeddingModel: cfg.Embeddings.Model, Dimension: cfg.Embeddings.Dimension}
		if idx, err = builder.Open(ctx, cfg.DataDir, store, want, cfg.Index.Reindex); err != nil {
			return fmt.Errorf("open index: %w", err)
		}
	} else {
		if idx, err = builder.Build(ctx, cfg.DataDir); err != nil {
			return fmt.Errorf("build index: %w", err)
		}
	}

	svc := chat.NewService(idx, graphStore, llmClient, logger)
	session := chat.NewSession(svc, chat.Config{SimilarityLimit: cfg.Retrieval.TopK})

	loop := console.NewLoop(session, console.Options{
		In:              in,
		Out:             out,
		Logger:          logger,
		ContinueOnError: cfg.Chat.ContinueOnError,
	})
	return loop.Run(ctx)
}
