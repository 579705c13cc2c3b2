// Package pgvector implements retrieval.KnowledgeSearcher on a Postgres
// database with the pgvector extension. Documents are embedded once at
// ingestion; queries embed the incoming text and rank by cosine similarity.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/model"
)

// Document is one knowledge-base entry with its embedding.
type Document struct {
	ID        string
	Partition string
	Title     string
	Text      string
	Embedding []float32
}

// Store searches and maintains the security knowledge base.
type Store struct {
	db       *sql.DB
	embedder model.Embedder
}

// Open connects to Postgres, ensures the schema and returns a Store.
func Open(dsn string, embedder model.Embedder) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle without running migrations.
func NewStore(db *sql.DB, embedder model.Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS security_knowledge (
			id TEXT PRIMARY KEY,
			partition TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			doc_text TEXT NOT NULL,
			embedding vector(1536) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS security_knowledge_partition_idx
			ON security_knowledge (partition)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate knowledge schema: %w", err)
		}
	}
	return nil
}

// Search implements retrieval.KnowledgeSearcher. Similarity is cosine based
// and mapped to [0,1], where 1 is an exact embedding match.
func (s *Store) Search(ctx context.Context, query string, partitions []string, topK int) ([]core.RetrievalResult, error) {
	if len(partitions) == 0 {
		return nil, errors.New("at least one partition is required")
	}
	if topK <= 0 {
		topK = 5
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT title,
			doc_text,
			1 - (embedding <=> $1) AS similarity
		FROM security_knowledge
		WHERE partition = ANY($2)
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(embedding), pq.Array(partitions), topK)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var results []core.RetrievalResult
	for rows.Next() {
		var title, text string
		var similarity float64
		if err := rows.Scan(&title, &text, &similarity); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		if similarity < 0 {
			similarity = 0
		}
		results = append(results, core.RetrievalResult{
			Content:    text,
			Source:     core.SourceKnowledgeBase,
			Relevance:  similarity,
			Provenance: title,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge rows: %w", err)
	}
	return results, nil
}

// Upsert embeds and stores documents, replacing matching IDs. Documents
// arriving with an embedding are stored as-is.
func (s *Store) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO security_knowledge (id, partition, title, doc_text, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			partition = EXCLUDED.partition,
			title = EXCLUDED.title,
			doc_text = EXCLUDED.doc_text,
			embedding = EXCLUDED.embedding
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		if doc.Partition == "" {
			return errors.New("partition is required for document")
		}
		embedding := doc.Embedding
		if len(embedding) == 0 {
			embedding, err = s.embedder.Embed(ctx, doc.Text)
			if err != nil {
				return fmt.Errorf("embed document %s: %w", doc.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Partition, doc.Title, doc.Text, pgvector.NewVector(embedding)); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
