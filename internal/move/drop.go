package move

import (
	"fmt"
	"strings"

	"github.com/gosuda/kanbansync/internal/domain"
)

// DropTarget describes where a card was released. Over is set when the card
// was dropped onto another card rather than onto a column's empty area.
type DropTarget struct {
	Column string
	Over   *domain.Ticket
}

// ResolveDropTarget maps a drop to the column the ticket should move to.
// Dropping on a card means "the column that card is in", never the dragged
// card's own column.
func ResolveDropTarget(b *domain.Board, target DropTarget) (string, error) {
	column := strings.TrimSpace(target.Column)
	if target.Over != nil {
		if target.Over.BoardID != b.ID {
			return "", fmt.Errorf("move.ResolveDropTarget: card %s is on another board: %w",
				target.Over.ID, domain.ErrValidation)
		}
		column = target.Over.Column
	}
	if column == "" {
		return "", fmt.Errorf("move.ResolveDropTarget: empty drop target: %w", domain.ErrValidation)
	}
	if err := b.ValidateColumn(column); err != nil {
		return "", fmt.Errorf("move.ResolveDropTarget: %w", err)
	}
	return column, nil
}
