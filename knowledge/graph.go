// Package knowledge mirrors the indexed corpus into Neo4j so that chat answers
// can mention folders and related documents.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/docbot/ingestion"
)

// Graph syncs documents through a shared driver.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

func (g *Graph) SyncDocument(ctx context.Context, doc ingestion.Document, chunks []ingestion.Chunk) error {
	return SyncDocument(ctx, g.driver, doc, chunks)
}

// Prune removes document nodes whose id is not in keep, along with their chunks.
func (g *Graph) Prune(ctx context.Context, keep []string) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (d:Document)
			WHERE NOT d.id IN $keep
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c, d
		`, map[string]any{"keep": keep}); err != nil {
			return nil, fmt.Errorf("delete stale documents: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (f:Folder)
			WHERE NOT (f)<-[:IN_FOLDER]-(:Document)
			DELETE f
		`, nil); err != nil {
			return nil, fmt.Errorf("delete empty folders: %w", err)
		}
		return nil, nil
	})
	return err
}

// SyncDocument upserts a document node, its folder and its chunk nodes.
func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc ingestion.Document, chunks []ingestion.Chunk) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":     doc.ID,
		"path":   doc.Path,
		"title":  doc.Title,
		"sha":    doc.SHA256,
		"folder": doc.Folder,
		"format": string(doc.Format),
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.path = $path,
			    d.title = $title,
			    d.sha256 = $sha,
			    d.format = $format,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:IN_FOLDER]->(:Folder)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale folder relation: %w", err)
		}
		if doc.Folder != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (f:Folder {name: $folder})
				MERGE (d)-[:IN_FOLDER]->(f)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert folder relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for _, chunk := range chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.index = $chunk_index,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_index}]->(c)
			`, map[string]any{
				"doc_id":      doc.ID,
				"chunk_id":    chunk.ID,
				"chunk_index": chunk.Index,
				"chunk_text":  chunk.Content,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		return nil, nil
	})

	return err
}
