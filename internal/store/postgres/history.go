package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/kanbansync/internal/domain"
)

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func (r *HistoryRepo) Append(ctx context.Context, rec *domain.MoveRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO move_history (id, ticket_id, board_id, from_column, to_column, request_id, moved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TicketID, rec.BoardID, rec.FromColumn, rec.ToColumn, rec.RequestID, rec.MovedAt,
	)
	if err != nil {
		err = mapPgError(err)
		if isIntegrity(err) {
			return fmt.Errorf("historyRepo.Append: ticket: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("historyRepo.Append: %w", err)
	}

	return nil
}

// ListByTicket returns newest first. A limit of 0 means no limit.
func (r *HistoryRepo) ListByTicket(ctx context.Context, ticketID uuid.UUID, limit int) ([]*domain.MoveRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const q = `SELECT id, ticket_id, board_id, from_column, to_column, request_id, moved_at
		 FROM move_history WHERE ticket_id = $1
		 ORDER BY moved_at DESC, id`
	if limit > 0 {
		rows, err = r.pool.Query(ctx, q+` LIMIT $2`, ticketID, limit)
	} else {
		rows, err = r.pool.Query(ctx, q, ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("historyRepo.ListByTicket: %w", err)
	}
	defer rows.Close()

	return scanMoveRecords(rows, "historyRepo.ListByTicket")
}

func scanMoveRecords(rows pgx.Rows, caller string) ([]*domain.MoveRecord, error) {
	records := []*domain.MoveRecord{}
	for rows.Next() {
		var rec domain.MoveRecord
		if err := rows.Scan(
			&rec.ID, &rec.TicketID, &rec.BoardID, &rec.FromColumn,
			&rec.ToColumn, &rec.RequestID, &rec.MovedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return records, nil
}
