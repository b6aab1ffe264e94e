package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/kanbansync/internal/domain"
)

const ticketColumns = `id, board_id, current_column, title, description, fields,
	column_entered_at, created_at, updated_at`

type TicketRepo struct {
	pool *pgxpool.Pool
}

func NewTicketRepo(pool *pgxpool.Pool) *TicketRepo {
	return &TicketRepo{pool: pool}
}

// Create validates the column against the board row inside the insert
// transaction so a ticket can never land in a column its board lacks.
func (r *TicketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var columns []string
		err := tx.QueryRow(ctx,
			`SELECT column_names FROM boards WHERE id = $1 FOR SHARE`, t.BoardID,
		).Scan(&columns)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("board: %w", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("board: %w", err)
		}
		if !slices.Contains(columns, t.Column) {
			return &domain.ColumnError{BoardID: t.BoardID, Column: t.Column}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO tickets (`+ticketColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, t.BoardID, t.Column, t.Title, t.Description, fieldsOrEmpty(t.Fields),
			t.ColumnEnteredAt, t.CreatedAt, t.UpdatedAt,
		)
		return mapPgError(err)
	})
	if err != nil {
		return fmt.Errorf("ticketRepo.Create: %w", err)
	}

	return nil
}

func (r *TicketRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	var t domain.Ticket

	err := r.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`,
		id,
	).Scan(
		&t.ID, &t.BoardID, &t.Column, &t.Title, &t.Description, &t.Fields,
		&t.ColumnEnteredAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticketRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.GetByID: %w", err)
	}

	return &t, nil
}

// ListByBoard filters on board_id in SQL; a missing board is ErrNotFound
// rather than an empty list.
func (r *TicketRepo) ListByBoard(ctx context.Context, boardID uuid.UUID) ([]*domain.Ticket, error) {
	if boardID == uuid.Nil {
		return nil, fmt.Errorf("ticketRepo.ListByBoard: nil board id: %w", domain.ErrNotFound)
	}

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM boards WHERE id = $1)`, boardID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.ListByBoard: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("ticketRepo.ListByBoard: %w", domain.ErrNotFound)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE board_id = $1
		 ORDER BY created_at, id`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.ListByBoard: %w", err)
	}
	defer rows.Close()

	return scanTickets(rows, "ticketRepo.ListByBoard")
}

func (r *TicketRepo) UpdateFields(ctx context.Context, t *domain.Ticket) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tickets SET title = $1, description = $2, fields = $3, updated_at = $4
		 WHERE id = $5 AND board_id = $6`,
		t.Title, t.Description, fieldsOrEmpty(t.Fields), t.UpdatedAt, t.ID, t.BoardID,
	)
	if err != nil {
		return fmt.Errorf("ticketRepo.UpdateFields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticketRepo.UpdateFields: %w", domain.ErrNotFound)
	}

	return nil
}

// ApplyMove locks the ticket row, validates the target against the owning
// board's columns and writes the new column and entry time in one
// transaction. The returned column is the one observed under the lock.
func (r *TicketRepo) ApplyMove(ctx context.Context, id uuid.UUID, toColumn string, at time.Time) (string, error) {
	var from string

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			boardID uuid.UUID
			columns []string
		)
		err := tx.QueryRow(ctx,
			`SELECT t.board_id, t.current_column, b.column_names
			 FROM tickets t JOIN boards b ON b.id = t.board_id
			 WHERE t.id = $1
			 FOR UPDATE OF t`,
			id,
		).Scan(&boardID, &from, &columns)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock ticket: %w", err)
		}
		if !slices.Contains(columns, toColumn) {
			return &domain.ColumnError{BoardID: boardID, Column: toColumn}
		}

		_, err = tx.Exec(ctx,
			`UPDATE tickets SET current_column = $1, column_entered_at = $2, updated_at = $2
			 WHERE id = $3`,
			toColumn, at, id,
		)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ticketRepo.ApplyMove: %w", err)
	}

	return from, nil
}

// Delete removes a single ticket along with its comments and move history.
func (r *TicketRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE ticket_id = $1`, id); err != nil {
			return fmt.Errorf("comments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM move_history WHERE ticket_id = $1`, id); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("ticket: %w", mapPgError(err))
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ticketRepo.Delete: %w", err)
	}

	return nil
}

func fieldsOrEmpty(fields map[string]string) map[string]string {
	if fields == nil {
		return map[string]string{}
	}
	return fields
}

func scanTickets(rows pgx.Rows, caller string) ([]*domain.Ticket, error) {
	var tickets []*domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(
			&t.ID, &t.BoardID, &t.Column, &t.Title, &t.Description, &t.Fields,
			&t.ColumnEnteredAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		tickets = append(tickets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return tickets, nil
}
