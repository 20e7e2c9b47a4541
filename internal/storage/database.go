package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"prepareup/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB carries the driver name so queries written with "?" placeholders can be
// rebound for postgres.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the configured database and pings it.
func Open(driver string, dbCfg config.DatabaseConfig) (*DB, error) {
	driver = strings.ToLower(driver)
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = "file:prepareup.db?_busy_timeout=5000"
		}
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "postgresql", "pgx":
		driver = "postgres"
		dsn := dbCfg.DSN
		if dsn == "" {
			u := url.URL{
				Scheme:   "postgres",
				User:     url.UserPassword(dbCfg.Username, dbCfg.Password),
				Host:     fmt.Sprintf("%s:%d", dbCfg.Host, dbCfg.Port),
				Path:     "/" + dbCfg.DBName,
				RawQuery: dbCfg.Params,
			}
			dsn = u.String()
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

// Rebind rewrites "?" placeholders to "$n" for postgres and returns other
// queries unchanged. Queries must not contain literal question marks.
func (db *DB) Rebind(query string) string {
	if db.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate ensures the required tables are present.
func Migrate(db *DB) error {
	var stmts []string
	switch db.Driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				display_name TEXT,
				avatar_url TEXT,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS oauth_accounts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				provider TEXT NOT NULL,
				provider_subject TEXT NOT NULL,
				email_at_auth TEXT,
				created_at DATETIME NOT NULL,
				UNIQUE(provider, provider_subject),
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_oauth_accounts_user ON oauth_accounts(user_id)`,
			`CREATE TABLE IF NOT EXISTS refresh_tokens (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				token_hash TEXT NOT NULL UNIQUE,
				expires_at DATETIME NOT NULL,
				revoked_at DATETIME,
				replaced_by_id TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY(replaced_by_id) REFERENCES refresh_tokens(id) ON DELETE SET NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id CHAR(36) NOT NULL,
				display_name VARCHAR(255),
				avatar_url VARCHAR(512),
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS oauth_accounts (
				id CHAR(36) NOT NULL,
				user_id CHAR(36) NOT NULL,
				provider VARCHAR(20) NOT NULL,
				provider_subject VARCHAR(255) NOT NULL,
				email_at_auth VARCHAR(255),
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_provider_subject (provider, provider_subject),
				INDEX idx_oauth_accounts_user (user_id),
				CONSTRAINT fk_oauth_accounts_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS refresh_tokens (
				id CHAR(36) NOT NULL,
				user_id CHAR(36) NOT NULL,
				token_hash VARCHAR(255) NOT NULL,
				expires_at DATETIME NOT NULL,
				revoked_at DATETIME NULL,
				replaced_by_id CHAR(36) NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_refresh_token_hash (token_hash),
				INDEX idx_refresh_tokens_user (user_id),
				CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				CONSTRAINT fk_refresh_tokens_replaced FOREIGN KEY (replaced_by_id) REFERENCES refresh_tokens(id) ON DELETE SET NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				display_name VARCHAR(255),
				avatar_url VARCHAR(512),
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS oauth_accounts (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				provider VARCHAR(20) NOT NULL,
				provider_subject VARCHAR(255) NOT NULL,
				email_at_auth VARCHAR(255),
				created_at TIMESTAMPTZ NOT NULL,
				UNIQUE (provider, provider_subject)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_oauth_accounts_user ON oauth_accounts(user_id)`,
			`CREATE TABLE IF NOT EXISTS refresh_tokens (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token_hash VARCHAR(255) NOT NULL UNIQUE,
				expires_at TIMESTAMPTZ NOT NULL,
				revoked_at TIMESTAMPTZ,
				replaced_by_id UUID REFERENCES refresh_tokens(id) ON DELETE SET NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.Driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.Driver, err)
		}
	}
	return nil
}
