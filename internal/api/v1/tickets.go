package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/move"
)

type CreateTicketInput struct {
	BoardID uuid.UUID `path:"id" doc:"Board ID"`
	Body    struct {
		Title       string            `json:"title" minLength:"1" maxLength:"500" doc:"Ticket title"`
		Description string            `json:"description,omitempty" doc:"Ticket description"`
		Column      string            `json:"column,omitempty" doc:"Initial column; defaults to the board's first column"`
		Fields      map[string]string `json:"fields,omitempty" doc:"Free-text fields"`
	}
}

type CreateTicketOutput struct {
	Body *domain.Ticket
}

type ListTicketsInput struct {
	BoardID uuid.UUID `path:"id" doc:"Board ID"`
	Column  string    `query:"column" doc:"Filter by column"`
}

type ListTicketsOutput struct {
	Body []*domain.Ticket
}

type GetTicketInput struct {
	ID uuid.UUID `path:"id" doc:"Ticket ID"`
}

type GetTicketOutput struct {
	Body *domain.Ticket
}

type UpdateTicketInput struct {
	ID   uuid.UUID `path:"id" doc:"Ticket ID"`
	Body struct {
		Title       *string           `json:"title,omitempty" maxLength:"500" doc:"Ticket title"`
		Description *string           `json:"description,omitempty" doc:"Ticket description"`
		Fields      map[string]string `json:"fields,omitempty" doc:"Fields to set; an empty value removes the field"`
	}
}

type UpdateTicketOutput struct {
	Body *domain.Ticket
}

type MoveTicketInput struct {
	ID   uuid.UUID `path:"id" doc:"Ticket ID"`
	Body struct {
		ToColumn     string    `json:"to_column,omitempty" minLength:"1" doc:"Target column"`
		OverTicketID uuid.UUID `json:"over_ticket_id,omitempty" doc:"Card the ticket was dropped onto; its column wins over to_column"`
		RequestID    string    `json:"request_id,omitempty" maxLength:"128" doc:"Client idempotency key"`
	}
}

type MoveTicketOutput struct {
	Body domain.MoveResult
}

type DeleteTicketInput struct {
	ID uuid.UUID `path:"id" doc:"Ticket ID"`
}

type ListHistoryInput struct {
	ID    uuid.UUID `path:"id" doc:"Ticket ID"`
	Limit int       `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum rows, newest first (0 = all)"`
}

type ListHistoryOutput struct {
	Body []*domain.MoveRecord
}

func RegisterTicketRoutes(api huma.API, store DataStore, mut Mutator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/boards/{id}/tickets",
		Summary:       "Create a ticket on a board",
		Tags:          []string{"Tickets"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateTicketInput) (*CreateTicketOutput, error) {
		t, err := mut.CreateTicket(ctx, input.BoardID, move.CreateTicketInput{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Column:      input.Body.Column,
			Fields:      input.Body.Fields,
		})
		if err != nil {
			return nil, httpError(err, "failed to create ticket")
		}
		return &CreateTicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/tickets",
		Summary:     "List a board's tickets",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *ListTicketsInput) (*ListTicketsOutput, error) {
		tickets, err := store.Tickets().ListByBoard(ctx, input.BoardID)
		if err != nil {
			return nil, httpError(err, "failed to list tickets")
		}
		if input.Column == "" {
			return &ListTicketsOutput{Body: tickets}, nil
		}

		filtered := make([]*domain.Ticket, 0, len(tickets))
		for _, t := range tickets {
			if t.Column == input.Column {
				filtered = append(filtered, t)
			}
		}
		return &ListTicketsOutput{Body: filtered}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get a ticket by ID",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *GetTicketInput) (*GetTicketOutput, error) {
		t, err := store.Tickets().GetByID(ctx, input.ID)
		if err != nil {
			return nil, httpError(err, "ticket not found")
		}
		return &GetTicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{id}",
		Summary:     "Edit a ticket's title, description or fields",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *UpdateTicketInput) (*UpdateTicketOutput, error) {
		t, err := mut.UpdateTicket(ctx, input.ID, domain.TicketPatch{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Fields:      input.Body.Fields,
		})
		if err != nil {
			return nil, httpError(err, "failed to update ticket")
		}
		return &UpdateTicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/move",
		Summary:     "Move a ticket to another column",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *MoveTicketInput) (*MoveTicketOutput, error) {
		res, err := mut.Move(ctx, move.Request{
			TicketID:     input.ID,
			ToColumn:     input.Body.ToColumn,
			OverTicketID: input.Body.OverTicketID,
			RequestID:    input.Body.RequestID,
		})
		if err != nil {
			return nil, httpError(err, "failed to move ticket")
		}
		return &MoveTicketOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-ticket",
		Method:      http.MethodDelete,
		Path:        "/tickets/{id}",
		Summary:     "Delete a ticket with its comments and history",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *DeleteTicketInput) (*struct{}, error) {
		if err := mut.DeleteTicket(ctx, input.ID); err != nil {
			return nil, httpError(err, "failed to delete ticket")
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ticket-history",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}/history",
		Summary:     "List a ticket's moves, newest first",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
		if _, err := store.Tickets().GetByID(ctx, input.ID); err != nil {
			return nil, httpError(err, "ticket not found")
		}
		rows, err := store.History().ListByTicket(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, httpError(err, "failed to list history")
		}
		return &ListHistoryOutput{Body: rows}, nil
	})
}
