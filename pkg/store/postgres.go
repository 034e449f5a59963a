// Package store persists exported dataset records in Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type DatasetStoreConfig struct {
	ConnString string
	TableName  string
	BatchSize  int
}

// Record is one stored dataset item.
type Record struct {
	ID        string          `json:"id"`
	Dataset   string          `json:"dataset"`
	Format    string          `json:"format"`
	Index     int             `json:"index"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

type DatasetStore struct {
	config DatasetStoreConfig
	pool   *pgxpool.Pool
	table  string
}

func NewWithConfig(ctx context.Context, config DatasetStoreConfig) (*DatasetStore, error) {
	if config.ConnString == "" {
		return nil, fmt.Errorf("database connection string is required")
	}
	if config.TableName == "" {
		config.TableName = "datasets"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &DatasetStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *DatasetStore) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			format TEXT NOT NULL,
			item_index INTEGER NOT NULL,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)

	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (dataset, item_index)`,
		pgx.Identifier{s.config.TableName + "_dataset_idx"}.Sanitize(), s.table)

	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Store replaces the records of dataset with records, in one transaction.
// It returns the number of records written.
func (s *DatasetStore) Store(ctx context.Context, dataset, format string, records []json.RawMessage) (int, error) {
	dataset = sanitizeUTF8(dataset)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE dataset = $1`, s.table), dataset); err != nil {
		return 0, fmt.Errorf("failed to clear dataset: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, dataset, format, item_index, content)
		VALUES ($1, $2, $3, $4, $5)`,
		s.table)

	for start := 0; start < len(records); start += s.config.BatchSize {
		batch := &pgx.Batch{}
		for i := start; i < min(start+s.config.BatchSize, len(records)); i++ {
			id := fmt.Sprintf("%s_%d", dataset, i)
			batch.Queue(stmt, id, dataset, format, i, string(records[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("failed to insert records: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("dataset", dataset).
		Str("format", format).
		Int("records", len(records)).
		Msg("stored dataset")
	return len(records), nil
}

// Query returns the records of dataset in item order. A limit of zero
// returns all of them.
func (s *DatasetStore) Query(ctx context.Context, dataset string, limit int) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT id, dataset, format, item_index, content, created_at
		FROM %s
		WHERE dataset = $1
		ORDER BY item_index`,
		s.table)

	args := []any{dataset}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			content []byte
		)
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Format, &r.Index, &content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Content = content
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *DatasetStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
