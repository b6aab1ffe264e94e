package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/kanbansync/internal/domain"
)

type BoardRepo struct {
	pool *pgxpool.Pool
}

func NewBoardRepo(pool *pgxpool.Pool) *BoardRepo {
	return &BoardRepo{pool: pool}
}

func (r *BoardRepo) Create(ctx context.Context, b *domain.Board) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO boards (id, name, column_names, created_at)
		 VALUES ($1, $2, $3, $4)`,
		b.ID, b.Name, b.Columns, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("boardRepo.Create: %w", err)
	}

	return nil
}

func (r *BoardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Board, error) {
	var b domain.Board

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, column_names, created_at FROM boards WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Name, &b.Columns, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", err)
	}

	return &b, nil
}

func (r *BoardRepo) List(ctx context.Context) ([]*domain.Board, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, column_names, created_at FROM boards ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.List: %w", err)
	}
	defer rows.Close()

	var boards []*domain.Board
	for rows.Next() {
		var b domain.Board

		err = rows.Scan(&b.ID, &b.Name, &b.Columns, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("boardRepo.List: scan: %w", err)
		}
		boards = append(boards, &b)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("boardRepo.List: rows: %w", err)
	}

	return boards, nil
}

// cascadeStatements run in dependency order: comments and move history
// before tickets, tickets before the board row. The foreign keys are
// ON DELETE RESTRICT, so an out-of-order statement fails the transaction.
var cascadeStatements = []struct {
	step string
	sql  string
}{
	{"comments", `DELETE FROM comments WHERE ticket_id IN (SELECT id FROM tickets WHERE board_id = $1)`},
	{"history", `DELETE FROM move_history WHERE board_id = $1`},
	{"tickets", `DELETE FROM tickets WHERE board_id = $1`},
	{"board", `DELETE FROM boards WHERE id = $1`},
}

// Delete removes the board and everything that depends on it in one
// transaction. Any failure rolls the whole cascade back.
func (r *BoardRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM boards WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock board: %w", err)
		}

		for _, st := range cascadeStatements {
			if _, err := tx.Exec(ctx, st.sql, id); err != nil {
				return fmt.Errorf("%s: %w", st.step, mapPgError(err))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boardRepo.Delete: %w", err)
	}

	return nil
}
