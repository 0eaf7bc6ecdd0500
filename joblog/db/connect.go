// Package db opens the record store connection for a configured target and keeps its schema migrated.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/joblog/joblog/config"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

// Kind classifies a storage target.
type Kind int

const (
	KindLocal Kind = iota
	KindRemoteLibSQL
	KindPostgres
	KindMemory
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemoteLibSQL:
		return "libsql"
	case KindPostgres:
		return "postgres"
	case KindMemory:
		return "memory"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Dialect is the SQL flavour spoken over a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Target is a resolved storage location.
type Target struct {
	Kind    Kind
	Driver  string // database/sql driver name; empty for KindMemory
	DSN     string
	Dialect Dialect
	Path    string // database file for KindLocal
}

// Conn is an open, migrated connection.
type Conn struct {
	DB      *sql.DB
	Dialect Dialect
	Target  Target
}

// Close closes the underlying pool.
func (c *Conn) Close() error {
	return c.DB.Close()
}

// ResolveTarget maps the configured connection target onto a driver and DSN.
func ResolveTarget(cfg config.StorageConfig) (Target, error) {
	target := strings.TrimSpace(cfg.Target)

	switch {
	case target == "" || target == "local":
		return localTarget(cfg, filepath.Join(cfg.DataDir, cfg.Database+".db"))

	case strings.HasPrefix(target, "file:"):
		path := strings.TrimPrefix(target, "file:")
		if path == "" {
			return Target{}, fmt.Errorf("file target has no path: %q", target)
		}
		return localTarget(cfg, path)

	case target == "mem://" || target == ":memory:":
		return Target{Kind: KindMemory}, nil

	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		u, err := url.Parse(target)
		if err != nil {
			return Target{}, fmt.Errorf("invalid postgres target: %w", err)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + cfg.Database
		}
		return Target{Kind: KindPostgres, Driver: "postgres", DSN: u.String(), Dialect: DialectPostgres}, nil

	case strings.HasPrefix(target, "libsql://"), strings.HasPrefix(target, "https://"), strings.HasPrefix(target, "http://"):
		return Target{Kind: KindRemoteLibSQL, Driver: "libsql", DSN: withAuthToken(target, cfg.AuthToken), Dialect: DialectSQLite}, nil

	default:
		return Target{}, fmt.Errorf("unsupported storage target %q", target)
	}
}

func localTarget(cfg config.StorageConfig, path string) (Target, error) {
	switch cfg.LocalDriver {
	case "", "sqlite":
		dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
		return Target{Kind: KindLocal, Driver: "sqlite", DSN: dsn, Dialect: DialectSQLite, Path: path}, nil
	case "libsql":
		return Target{Kind: KindLocal, Driver: "libsql", DSN: "file:" + path, Dialect: DialectSQLite, Path: path}, nil
	default:
		return Target{}, fmt.Errorf("unsupported local driver %q", cfg.LocalDriver)
	}
}

func withAuthToken(dbURL, token string) string {
	if token == "" {
		return dbURL
	}
	if u, err := url.Parse(dbURL); err == nil {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dbURL, "?") {
		return dbURL + "&authToken=" + url.QueryEscape(token)
	}
	return dbURL + "?authToken=" + url.QueryEscape(token)
}

// Open connects to the configured target, verifies connectivity and runs migrations.
// KindMemory targets have no SQL connection; callers check the Kind first.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Conn, error) {
	target, err := ResolveTarget(cfg)
	if err != nil {
		return nil, err
	}
	if target.Kind == KindMemory {
		return nil, fmt.Errorf("memory target has no SQL connection")
	}

	if target.Kind == KindLocal {
		dir := filepath.Dir(target.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}

	logger.Debug().
		Str("kind", target.Kind.String()).
		Str("driver", target.Driver).
		Str("database", cfg.Database).
		Msg("Opening record store")

	sqlDB, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", target.Driver, err)
	}

	configureConnectionPooling(sqlDB, cfg)

	if err := verifyConnectivity(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := Migrate(ctx, sqlDB, target); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Conn{DB: sqlDB, Dialect: target.Dialect, Target: target}, nil
}

// verifyConnectivity surfaces unreachable or misconfigured backends at open time.
func verifyConnectivity(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

func configureConnectionPooling(db *sql.DB, cfg config.StorageConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
