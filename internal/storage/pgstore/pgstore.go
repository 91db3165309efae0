package pgstore

import (
	"context"
	"errors"

	"github.com/BearBump/RelayBox/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements storage.Repository on top of a pool or a transaction.
type queries struct {
	db dbtx
}

type Storage struct {
	*queries
	pool *pgxpool.Pool
}

var _ storage.Store = (*Storage)(nil)

// New connects to Postgres and applies pending migrations.
func New(ctx context.Context, connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse pg config")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "connect pg")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerrors.Wrap(err, "ping pg")
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Storage{queries: &queries{db: pool}, pool: pool}, nil
}

func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) WithTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return pkgerrors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr(err, "commit tx")
	}
	return nil
}

// mapErr translates driver errors into storage sentinels and adds context.
func mapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return pkgerrors.Wrap(storage.ErrNotFound, msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pkgerrors.Wrapf(storage.ErrConflict, "%s: %s", msg, pgErr.ConstraintName)
	}
	return pkgerrors.Wrap(err, msg)
}

func expectOne(tag pgconn.CommandTag, msg string) error {
	if tag.RowsAffected() == 0 {
		return pkgerrors.Wrap(storage.ErrNotFound, msg)
	}
	return nil
}
