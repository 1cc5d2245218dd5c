package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Store is the PostgreSQL Repository
type Store struct {
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate creates the schema if it does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a READ COMMITTED transaction. Consistency relies on
// explicit FOR UPDATE row locks taken through the Tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

const variantColumns = `v.id, v.product_id, v.sku, v.price, v.stock, v.initial_stock, v.active, v.updated_at,
	p.name AS product_name, p.discount_percent`

const variantFrom = ` FROM product_variants v JOIN products p ON p.id = v.product_id`

// GetVariant retrieves a variant with its product pricing data
func (t *pgTx) GetVariant(ctx context.Context, id int64) (*models.Variant, error) {
	var v models.Variant
	err := t.tx.GetContext(ctx, &v, "SELECT "+variantColumns+variantFrom+" WHERE v.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LockVariants locks variant rows (FOR UPDATE) in id order
func (t *pgTx) LockVariants(ctx context.Context, ids []int64) (map[int64]*models.Variant, error) {
	out := make(map[int64]*models.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var variants []models.Variant
	err := t.tx.SelectContext(ctx, &variants,
		"SELECT "+variantColumns+variantFrom+" WHERE v.id = ANY($1) ORDER BY v.id FOR UPDATE OF v",
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock variants: %w", err)
	}

	for i := range variants {
		out[variants[i].ID] = &variants[i]
	}
	return out, nil
}

// AdjustVariantStock changes stock by delta, refusing to go below zero
func (t *pgTx) AdjustVariantStock(ctx context.Context, variantID int64, delta int) (int, error) {
	var stock int
	err := t.tx.GetContext(ctx, &stock,
		`UPDATE product_variants SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2 AND stock + $1 >= 0
		RETURNING stock`,
		delta, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := t.GetVariant(ctx, variantID); getErr != nil {
			return 0, getErr
		}
		return 0, fmt.Errorf("variant %d delta %d: %w", variantID, delta, ErrNegativeStock)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust stock: %w", err)
	}
	return stock, nil
}

// InsertAuditLog appends an audit entry
func (t *pgTx) InsertAuditLog(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (user_id, action, table_name, record_id, ip)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return t.tx.QueryRowxContext(ctx, query,
		entry.UserID, entry.Action, entry.TableName, entry.RecordID, entry.IP).
		Scan(&entry.ID, &entry.CreatedAt)
}
