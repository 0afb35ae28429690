package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"klaus/types"
)

// PostgresStore keeps the embedded knowledge base in a pgvector table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
	}, nil
}

// LoadIndex returns the facts in build order.
func (p *PostgresStore) LoadIndex(ctx context.Context) ([]types.EmbeddedFact, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, text, embedding FROM kb_facts ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []types.EmbeddedFact
	for rows.Next() {
		var (
			f   types.EmbeddedFact
			vec pgvector.Vector
		)
		if err := rows.Scan(&f.ID, &f.Text, &vec); err != nil {
			return nil, err
		}
		f.Embedding = vec.Slice()
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := checkDimensions(facts); err != nil {
		return nil, fmt.Errorf("postgres index: %w", err)
	}

	log.Printf("[INDEX] loaded %d facts from postgres", len(facts))
	return facts, nil
}

// SaveIndex replaces the whole index in one transaction.
func (p *PostgresStore) SaveIndex(ctx context.Context, facts []types.EmbeddedFact) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM kb_facts"); err != nil {
		return fmt.Errorf("error deleting old facts: %w", err)
	}

	batch := &pgx.Batch{}
	for i, f := range facts {
		batch.Queue(`INSERT INTO kb_facts (position, id, text, embedding) VALUES ($1, $2, $3, $4)`,
			i, f.ID, f.Text, pgvector.NewVector(f.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("error inserting facts: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresStore) createKBTables(ctx context.Context) error {
	query := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS kb_facts (
		position INT NOT NULL,
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		embedding vector NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kb_facts_position ON kb_facts(position);
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createKBTables(ctx)
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
