package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/kanbansync/internal/domain"
)

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type Store struct {
	pool     *pgxpool.Pool
	boards   *BoardRepo
	tickets  *TicketRepo
	comments *CommentRepo
	history  *HistoryRepo
}

func New(ctx context.Context, dsn string, pc PoolConfig) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 && pc.MinConns <= cfg.MaxConns {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	if pc.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pc.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:     pool,
		boards:   NewBoardRepo(pool),
		tickets:  NewTicketRepo(pool),
		comments: NewCommentRepo(pool),
		history:  NewHistoryRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres.Store.Ping: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.pool)
}

func (s *Store) Boards() domain.BoardRepository        { return s.boards }
func (s *Store) Tickets() domain.TicketRepository      { return s.tickets }
func (s *Store) Comments() domain.CommentRepository    { return s.comments }
func (s *Store) History() domain.MoveHistoryRepository { return s.history }

// Postgres SQLSTATE codes that indicate a dependency-order violation.
const (
	pgForeignKeyViolation = "23503"
	pgRestrictViolation   = "23001"
)

// mapPgError turns referential-integrity failures into domain.ErrIntegrity.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation, pgRestrictViolation:
			return fmt.Errorf("%s (%s): %w", pgErr.Message, pgErr.ConstraintName, domain.ErrIntegrity)
		}
	}
	return err
}

func isIntegrity(err error) bool {
	return errors.Is(err, domain.ErrIntegrity)
}
