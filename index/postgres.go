package index

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/docbot/ingestion"
)

// Meta describes how a persisted index was built.
type Meta struct {
	EmbeddingModel string
	Dimension      int
	ChunkCount     int
}

// PersistentStore is a Store that survives restarts and is replaced wholesale.
type PersistentStore interface {
	Store
	Meta(ctx context.Context) (Meta, bool, error)
	ChunkCount(ctx context.Context) (int, error)
	Replace(ctx context.Context, docs []ingestion.Document, chunks []ingestion.Chunk, vectors [][]float32, meta Meta) error
}

// PostgresStore keeps chunk vectors in pgvector columns.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) Meta(ctx context.Context) (Meta, bool, error) {
	if s.pool == nil {
		return Meta{}, false, fmt.Errorf("postgres pool is nil")
	}

	var meta Meta
	err := s.pool.QueryRow(ctx, `
		SELECT embedding_model, dimension, chunk_count
		FROM rag_index_meta
		WHERE id = 1
	`).Scan(&meta.EmbeddingModel, &meta.Dimension, &meta.ChunkCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Meta{}, false, nil
		}
		return Meta{}, false, fmt.Errorf("query index meta: %w", err)
	}
	return meta, true, nil
}

func (s *PostgresStore) ChunkCount(ctx context.Context) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rag_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// Replace truncates every index table and writes the new corpus in one transaction.
func (s *PostgresStore) Replace(ctx context.Context, docs []ingestion.Document, chunks []ingestion.Chunk, vectors [][]float32, meta Meta) (err error) {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk count mismatch: have %d chunks, %d vectors", len(chunks), len(vectors))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, "TRUNCATE rag_chunks, rag_documents, rag_index_meta"); err != nil {
		return fmt.Errorf("truncate index tables: %w", err)
	}

	for _, doc := range docs {
		docID, parseErr := uuid.Parse(doc.ID)
		if parseErr != nil {
			err = fmt.Errorf("parse document id %q: %w", doc.ID, parseErr)
			return err
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_documents (id, source_path, title, folder, sha256)
			VALUES ($1, $2, $3, $4, $5)
		`, docID, doc.Path, doc.Title, doc.Folder, doc.SHA256); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.Path, err)
		}
	}

	for pos, chunk := range chunks {
		chunkID, parseErr := uuid.Parse(chunk.ID)
		if parseErr != nil {
			err = fmt.Errorf("parse chunk id %q: %w", chunk.ID, parseErr)
			return err
		}
		docID, parseErr := uuid.Parse(chunk.DocumentID)
		if parseErr != nil {
			err = fmt.Errorf("parse document id %q: %w", chunk.DocumentID, parseErr)
			return err
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, document_id, position, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, chunkID, docID, pos, chunk.Index, chunk.Content, pgvector.NewVector(vectors[pos])); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", chunk.Index, chunk.Path, err)
		}
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO rag_index_meta (id, embedding_model, dimension, chunk_count, built_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET embedding_model = EXCLUDED.embedding_model,
		    dimension = EXCLUDED.dimension,
		    chunk_count = EXCLUDED.chunk_count,
		    built_at = EXCLUDED.built_at
	`, meta.EmbeddingModel, meta.Dimension, meta.ChunkCount); err != nil {
		return fmt.Errorf("upsert index meta: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Search orders chunks by cosine distance. Equal distances keep build order.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		k = defaultTopK
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			rc.id,
			rc.document_id,
			rc.chunk_index,
			rd.source_path,
			COALESCE(rd.title, ''),
			rc.content,
			(rc.embedding <=> $1::vector) AS distance
		FROM rag_chunks rc
		JOIN rag_documents rd ON rd.id = rc.document_id
		ORDER BY rc.embedding <=> $1::vector, rc.position
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var (
			chunk    ingestion.Chunk
			distance float64
		)
		if scanErr := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Path, &chunk.Title, &chunk.Content, &distance); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		matches = append(matches, Match{Chunk: chunk, Score: 1 - distance})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}

	return matches, nil
}

var _ PersistentStore = (*PostgresStore)(nil)
