// Package db stores credentials for courier sessions in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scheme     TEXT    NOT NULL,
	host       TEXT    NOT NULL,
	port       INTEGER NOT NULL,
	realm      TEXT    NOT NULL DEFAULT '',
	user       TEXT    NOT NULL,
	password   TEXT    NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (scheme, host, port, realm, user)
)`

// ErrNotFound is returned when no credential matches.
var ErrNotFound = errors.New("credential not found")

// Entry is a stored credential together with the space it applies to.
type Entry struct {
	Space      engine.ProtectionSpace
	Credential *engine.Credential
	Default    bool
	CreatedAt  time.Time
}

// CredentialStore implements session.CredentialStorage on a SQLite database.
// A credential stored without a realm applies to every realm of its host.
type CredentialStore struct {
	db           *sql.DB
	dataSource   string
	queryTimeout time.Duration
	now          func() time.Time
}

// Open opens or creates the store. connectionString is a file path, or
// uses the sqlite:// or sqlite: prefix.
func Open(connectionString string) (*CredentialStore, error) {
	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &CredentialStore{
		db:           db,
		dataSource:   dsn,
		queryTimeout: 30 * time.Second,
		now:          time.Now,
	}, nil
}

// Close closes the database connection
func (s *CredentialStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Set stores credential for space, replacing the password of an existing
// entry for the same user. The first credential stored for a space becomes
// its default.
func (s *CredentialStore) Set(space engine.ProtectionSpace, credential *engine.Credential) error {
	if credential == nil || credential.User == "" {
		return fmt.Errorf("credential requires a user")
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE scheme = ? AND host = ? AND port = ? AND realm = ?`,
		space.Scheme, space.Host, space.Port, space.Realm,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (scheme, host, port, realm, user, password, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scheme, host, port, realm, user) DO UPDATE SET password = excluded.password`,
		space.Scheme, space.Host, space.Port, space.Realm,
		credential.User, credential.Password, existing == 0, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return tx.Commit()
}

// SetDefault makes the stored credential of user the default for space.
func (s *CredentialStore) SetDefault(space engine.ProtectionSpace, user string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE scheme = ? AND host = ? AND port = ? AND realm = ? AND user = ?`,
		space.Scheme, space.Host, space.Port, space.Realm, user,
	).Scan(&found); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if found == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_default = (user = ?) WHERE scheme = ? AND host = ? AND port = ? AND realm = ?`,
		user, space.Scheme, space.Host, space.Port, space.Realm,
	); err != nil {
		return fmt.Errorf("failed to update default: %w", err)
	}
	return tx.Commit()
}

// Remove deletes the credential of user for space.
func (s *CredentialStore) Remove(space engine.ProtectionSpace, user string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE scheme = ? AND host = ? AND port = ? AND realm = ? AND user = ?`,
		space.Scheme, space.Host, space.Port, space.Realm, user,
	)
	if err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DefaultCredential returns the default credential for space, or nil when
// none is stored. Realm specific entries win over realm-less ones.
func (s *CredentialStore) DefaultCredential(space engine.ProtectionSpace) (*engine.Credential, error) {
	entries, err := s.lookup(space)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0].Credential, nil
}

// Credentials returns every credential applicable to space, default first.
func (s *CredentialStore) Credentials(space engine.ProtectionSpace) ([]*engine.Credential, error) {
	entries, err := s.lookup(space)
	if err != nil {
		return nil, err
	}
	creds := make([]*engine.Credential, 0, len(entries))
	for _, e := range entries {
		creds = append(creds, e.Credential)
	}
	return creds, nil
}

func (s *CredentialStore) lookup(space engine.ProtectionSpace) ([]Entry, error) {
	return s.query(`
		SELECT scheme, host, port, realm, user, password, is_default, created_at
		FROM credentials
		WHERE scheme = ? AND host = ? AND port = ? AND (realm = ? OR realm = '')
		ORDER BY realm = '' ASC, is_default DESC, id ASC`,
		space.Scheme, space.Host, space.Port, space.Realm,
	)
}

// List returns every stored credential ordered by host.
func (s *CredentialStore) List() ([]Entry, error) {
	return s.query(`
		SELECT scheme, host, port, realm, user, password, is_default, created_at
		FROM credentials
		ORDER BY host, port, scheme, realm, is_default DESC, id`)
}

func (s *CredentialStore) query(query string, args ...any) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			cred engine.Credential
		)
		if err := rows.Scan(&e.Space.Scheme, &e.Space.Host, &e.Space.Port, &e.Space.Realm,
			&cred.User, &cred.Password, &e.Default, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.Credential = &cred
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// parseConnectionString accepts:
// - sqlite://path/to/db.sqlite
// - sqlite:./test.db
// - path/to/db.sqlite
func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)
	switch {
	case connStr == "":
		return "", fmt.Errorf("empty connection string")
	case strings.HasPrefix(connStr, "sqlite://"):
		return strings.TrimPrefix(connStr, "sqlite://"), nil
	case strings.HasPrefix(connStr, "sqlite:"):
		return strings.TrimPrefix(connStr, "sqlite:"), nil
	case strings.Contains(connStr, "://"):
		return "", fmt.Errorf("unsupported database scheme: %s", connStr[:strings.Index(connStr, "://")])
	default:
		return connStr, nil
	}
}
