// Package postgres provides the PostgreSQL-backed account store: access
// tokens and site registrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kissr/kissr-sync/internal/logging"
	"github.com/kissr/kissr-sync/internal/metrics"
)

// ErrAccountNotFound is returned when no users row matches a Dropbox account id.
var ErrAccountNotFound = errors.New("account not found")

// Store is a PostgreSQL account store.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files in lexical order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// GetToken returns the Dropbox access token stored for accountID.
func (s *Store) GetToken(ctx context.Context, accountID string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_token", time.Since(start)) }()

	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM users WHERE dropbox_user_id = $1`, accountID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get token for %s: %w", accountID, ErrAccountNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get token for %s: %w", accountID, err)
	}
	return token, nil
}

// SiteRegistered reports whether domain is registered for sync under accountID.
func (s *Store) SiteRegistered(ctx context.Context, accountID, domain string) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("site_registered", time.Since(start)) }()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users JOIN sites ON users.id = sites.user_id
		 WHERE users.dropbox_user_id = $1 AND sites.domain = $2
		 LIMIT 1`, accountID, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check site %s for %s: %w", domain, accountID, err)
	}
	return true, nil
}

// UpsertAccount creates or updates an account's token and returns its row id.
// Accounts are normally provisioned out of band; this exists for seeding.
func (s *Store) UpsertAccount(ctx context.Context, accountID, token string) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (dropbox_user_id, token) VALUES ($1, $2)
		 ON CONFLICT (dropbox_user_id) DO UPDATE SET token = EXCLUDED.token
		 RETURNING id`, accountID, token).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert account %s: %w", accountID, err)
	}
	return id, nil
}

// RegisterSite adds a domain registration for an account row id.
func (s *Store) RegisterSite(ctx context.Context, userID int, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (user_id, domain) VALUES ($1, $2)
		 ON CONFLICT (user_id, domain) DO NOTHING`, userID, domain)
	if err != nil {
		return fmt.Errorf("register site %s: %w", domain, err)
	}
	return nil
}
