package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/kektech/kektech/internal/config"
)

const driverLibsql = "libsql"

// Store wraps the libsql/Turso connection backing shared quota windows.
type Store struct {
	DB *sql.DB
}

// Open initializes a store connection using the quota configuration.
func Open(ctx context.Context, cfg config.QuotaConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, local, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}

	if local {
		if err := configureLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return s.DB.PingContext(ctx)
}

// configureLocal pins embedded databases to a single connection so that
// in-memory databases are shared and writers never contend.
func configureLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("configure libsql journal mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("configure libsql busy timeout: %w", err)
	}
	return nil
}

func buildLibsqlDSN(cfg config.QuotaConfig) (string, bool, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return "", false, errors.New("quota store url is required")
	}

	if dsn == ":memory:" {
		return dsn, true, nil
	}

	if strings.HasPrefix(dsn, "file:") {
		localPath, err := extractFilePath(dsn)
		if err != nil {
			return "", false, err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", false, err
		}
		return dsn, true, nil
	}

	dsn, err := addAuthToken(dsn, cfg.Token)
	if err != nil {
		return "", false, err
	}
	return dsn, false, nil
}

func addAuthToken(dsn string, token string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid store url: %s", parsed.Redacted())
	}

	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
