package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kissr/kissr-sync/internal/metrics"
)

// PostgresStore keeps cursors in the sync_cursors table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a cursor store on an open database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the stored cursor for accountID.
func (p *PostgresStore) Get(ctx context.Context, accountID string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_cursor", time.Since(start)) }()

	var c string
	err := p.db.QueryRowContext(ctx,
		`SELECT cursor FROM sync_cursors WHERE dropbox_user_id = $1`, accountID).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get cursor %s: %w", accountID, err)
	}
	return c, nil
}

// Set overwrites the cursor for accountID.
func (p *PostgresStore) Set(ctx context.Context, accountID, cursor string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_cursor", time.Since(start)) }()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sync_cursors (dropbox_user_id, cursor, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (dropbox_user_id) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`,
		accountID, cursor)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", accountID, err)
	}
	return nil
}
