package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// PostgresStore keeps each servitor as a JSONB document with companion
// index columns so listings never deserialize full documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the servitors table if it does not exist.
func (p *PostgresStore) Init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS servitors (
			name         TEXT PRIMARY KEY,
			doc          JSONB NOT NULL,
			status       TEXT NOT NULL,
			charge_level DOUBLE PRECISION NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// Load reads a servitor document by name.
func (p *PostgresStore) Load(ctx context.Context, name string) (*servitor.Servitor, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM servitors WHERE name = $1`, name).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, servitor.ErrNotFound
		}
		return nil, fmt.Errorf("storage: load %s: %w", name, err)
	}

	var s servitor.Servitor
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", name, err)
	}
	return &s, nil
}

// Save upserts the document and its index columns in one statement.
func (p *PostgresStore) Save(ctx context.Context, s *servitor.Servitor) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", s.Name, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO servitors (name, doc, status, charge_level, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET doc = EXCLUDED.doc,
		    status = EXCLUDED.status,
		    charge_level = EXCLUDED.charge_level`,
		s.Name, doc, string(s.Status), s.ChargeLevel, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: save %s: %w", s.Name, err)
	}
	return nil
}

// Delete removes the servitor row.
func (p *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM servitors WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return servitor.ErrNotFound
	}
	return nil
}

// List loads every matching servitor document ordered by creation time.
func (p *PostgresStore) List(ctx context.Context, status servitor.Status) ([]*servitor.Servitor, error) {
	rows, err := p.query(ctx, `SELECT doc FROM servitors`, status)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	var servitors []*servitor.Servitor
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: list scan: %w", err)
		}
		var s servitor.Servitor
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("storage: list parse: %w", err)
		}
		servitors = append(servitors, &s)
	}
	return servitors, rows.Err()
}

// ListIndex reads only the index columns.
func (p *PostgresStore) ListIndex(ctx context.Context, status servitor.Status) ([]IndexEntry, error) {
	rows, err := p.query(ctx, `SELECT name, status, charge_level, created_at FROM servitors`, status)
	if err != nil {
		return nil, fmt.Errorf("storage: list index: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var (
			entry     IndexEntry
			statusStr string
			createdAt time.Time
		)
		if err := rows.Scan(&entry.Name, &statusStr, &entry.ChargeLevel, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: list index scan: %w", err)
		}
		entry.Status = servitor.Status(statusStr)
		entry.CreatedAt = createdAt
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Archive persists a dismissed servitor in place.
func (p *PostgresStore) Archive(ctx context.Context, s *servitor.Servitor) error {
	s.Status = servitor.StatusDismissed
	return p.Save(ctx, s)
}

// query appends the optional status filter and creation-time ordering to a
// base SELECT.
func (p *PostgresStore) query(ctx context.Context, base string, status servitor.Status) (pgx.Rows, error) {
	if status != "" {
		return p.pool.Query(ctx, base+` WHERE status = $1 ORDER BY created_at`, string(status))
	}
	return p.pool.Query(ctx, base+` ORDER BY created_at`)
}
