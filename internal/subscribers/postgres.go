package subscribers

import (
	"context"
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	listQuery   = `SELECT chat_id, address FROM subscribers ORDER BY chat_id`
	getQuery    = `SELECT address FROM subscribers WHERE chat_id = $1`
	upsertQuery = `INSERT INTO subscribers (chat_id, address) VALUES ($1, $2)
ON CONFLICT (chat_id) DO UPDATE SET address = EXCLUDED.address, updated_at = now()`
	deleteQuery = `DELETE FROM subscribers WHERE chat_id = $1`
)

// PostgresStore keeps subscribers in a PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

var _ Registry = (*PostgresStore)(nil)

// OpenPostgresStore connects to dsn and applies pending migrations.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already migrated database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate brings the subscribers schema up to date.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return errors.Wrap(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, errors.Wrap(err, "list subscribers")
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ChatID, &sub.Address); err != nil {
			return nil, errors.Wrap(err, "scan subscriber")
		}
		out = append(out, sub)
	}
	return out, errors.Wrap(rows.Err(), "iterate subscribers")
}

func (s *PostgresStore) Get(ctx context.Context, chatID int64) (Subscriber, bool, error) {
	sub := Subscriber{ChatID: chatID}
	err := s.db.QueryRowContext(ctx, getQuery, chatID).Scan(&sub.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, false, nil
	}
	if err != nil {
		return sub, false, errors.Wrapf(err, "get subscriber %d", chatID)
	}
	return sub, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, chatID int64, address string) error {
	_, err := s.db.ExecContext(ctx, upsertQuery, chatID, address)
	return errors.Wrapf(err, "set subscriber %d", chatID)
}

func (s *PostgresStore) Delete(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, deleteQuery, chatID)
	return errors.Wrapf(err, "delete subscriber %d", chatID)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
