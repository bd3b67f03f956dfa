package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

const schemaVersion = "1"

type Store struct {
	db     *sql.DB
	driver Driver
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database for the given driver and applies the schema.
// For SQLite dsn is a file path (or ":memory:"); for PostgreSQL it is a connection URL.
func New(driver Driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// A single connection keeps ":memory:" databases shared and serializes writers.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver {
	return s.driver
}

// rebind rewrites "?" placeholders into "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	return res, classify(err)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// txOptions picks the isolation level for multi-row writes. SQLite transactions are
// always serializable, so only PostgreSQL needs an explicit level.
func (s *Store) txOptions() *sql.TxOptions {
	if s.driver == DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.txOptions())
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

func (s *Store) schema() string {
	ts, js := "TIMESTAMP", "TEXT"
	if s.driver == DriverPostgres {
		ts, js = "TIMESTAMPTZ", "JSONB"
	}
	return strings.NewReplacer("{{ts}}", ts, "{{json}}", js).Replace(`
	CREATE TABLE IF NOT EXISTS web_user (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		username TEXT UNIQUE,
		display_username TEXT,
		image TEXT,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	);
	CREATE INDEX IF NOT EXISTS user_email_idx ON web_user (email);

	CREATE TABLE IF NOT EXISTS web_session (
		id TEXT PRIMARY KEY,
		expires_at {{ts}} NOT NULL,
		token TEXT NOT NULL UNIQUE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		user_id TEXT NOT NULL REFERENCES web_user (id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS session_user_id_idx ON web_session (user_id);
	CREATE INDEX IF NOT EXISTS session_token_idx ON web_session (token);

	CREATE TABLE IF NOT EXISTS web_account (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES web_user (id) ON DELETE CASCADE,
		access_token TEXT,
		refresh_token TEXT,
		id_token TEXT,
		access_token_expires_at {{ts}},
		refresh_token_expires_at {{ts}},
		scope TEXT,
		password TEXT,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	);
	CREATE INDEX IF NOT EXISTS account_user_id_idx ON web_account (user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS account_provider_idx ON web_account (provider_id, account_id);

	CREATE TABLE IF NOT EXISTS web_verification (
		id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL,
		value TEXT NOT NULL,
		expires_at {{ts}} NOT NULL,
		created_at {{ts}},
		updated_at {{ts}}
	);
	CREATE INDEX IF NOT EXISTS verification_identifier_idx ON web_verification (identifier);

	CREATE TABLE IF NOT EXISTS web_practice_test (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		user_id TEXT REFERENCES web_user (id) ON DELETE CASCADE,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}}
	);
	CREATE INDEX IF NOT EXISTS practice_test_user_id_idx ON web_practice_test (user_id);

	CREATE TABLE IF NOT EXISTS web_section (
		id TEXT PRIMARY KEY,
		practice_test_id TEXT NOT NULL REFERENCES web_practice_test (id) ON DELETE CASCADE,
		position INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		duration INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS section_practice_test_id_idx ON web_section (practice_test_id);

	CREATE TABLE IF NOT EXISTS web_module (
		id TEXT PRIMARY KEY,
		section_id TEXT NOT NULL REFERENCES web_section (id) ON DELETE CASCADE,
		position INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		duration INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS module_section_id_idx ON web_module (section_id);

	CREATE TABLE IF NOT EXISTS web_question (
		id TEXT PRIMARY KEY,
		module_id TEXT NOT NULL REFERENCES web_module (id) ON DELETE CASCADE,
		position INTEGER NOT NULL DEFAULT 0,
		question_text TEXT NOT NULL,
		passage_text TEXT,
		options {{json}},
		correct_answer TEXT NOT NULL,
		explanation TEXT,
		domain TEXT,
		type TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS question_module_id_idx ON web_question (module_id);

	CREATE TABLE IF NOT EXISTS web_test_attempt (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES web_user (id) ON DELETE CASCADE,
		practice_test_id TEXT NOT NULL REFERENCES web_practice_test (id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		results {{json}} NOT NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}}
	);
	CREATE INDEX IF NOT EXISTS test_attempt_user_id_idx ON web_test_attempt (user_id);

	CREATE TABLE IF NOT EXISTS web_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schema(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return s.SetMetadata(ctx, "schema_version", schemaVersion)
}
