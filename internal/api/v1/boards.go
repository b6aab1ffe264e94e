package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/dwell"
)

type CreateBoardInput struct {
	Body struct {
		Name    string   `json:"name" minLength:"1" maxLength:"200" doc:"Board name"`
		Columns []string `json:"columns" minItems:"1" doc:"Ordered column names"`
	}
}

type CreateBoardOutput struct {
	Body *domain.Board
}

type ListBoardsOutput struct {
	Body []*domain.Board
}

type GetBoardInput struct {
	ID uuid.UUID `path:"id" doc:"Board ID"`
}

// ClassifiedTicket is a ticket annotated with its urgency color.
type ClassifiedTicket struct {
	domain.Ticket
	Color domain.Color `json:"color"`
}

type BoardColumn struct {
	Name    string              `json:"name"`
	Tickets []*ClassifiedTicket `json:"tickets"`
}

type BoardView struct {
	domain.Board
	Lanes      []BoardColumn `json:"lanes"`
	Stats      dwell.Summary `json:"stats"`
	ComputedAt time.Time     `json:"computed_at"`
}

type GetBoardOutput struct {
	Body *BoardView
}

type DeleteBoardInput struct {
	ID uuid.UUID `path:"id" doc:"Board ID"`
}

func RegisterBoardRoutes(api huma.API, store DataStore, mut Mutator, classifier Classifier) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-board",
		Method:        http.MethodPost,
		Path:          "/boards",
		Summary:       "Create a board",
		Tags:          []string{"Boards"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateBoardInput) (*CreateBoardOutput, error) {
		b, err := mut.CreateBoard(ctx, input.Body.Name, input.Body.Columns)
		if err != nil {
			return nil, httpError(err, "failed to create board")
		}
		return &CreateBoardOutput{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List boards",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, _ *struct{}) (*ListBoardsOutput, error) {
		boards, err := store.Boards().List(ctx)
		if err != nil {
			return nil, httpError(err, "failed to list boards")
		}
		return &ListBoardsOutput{Body: boards}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{id}",
		Summary:     "Get a board with its tickets grouped by column and colored by dwell time",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *GetBoardInput) (*GetBoardOutput, error) {
		b, err := store.Boards().GetByID(ctx, input.ID)
		if err != nil {
			return nil, httpError(err, "board not found")
		}
		tickets, err := store.Tickets().ListByBoard(ctx, input.ID)
		if err != nil {
			return nil, httpError(err, "failed to list tickets for board")
		}
		res, err := classifier.ClassifyBoard(ctx, input.ID)
		if err != nil {
			return nil, httpError(err, "failed to classify board")
		}

		return &GetBoardOutput{Body: buildBoardView(b, tickets, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-board",
		Method:        http.MethodDelete,
		Path:          "/boards/{id}",
		Summary:       "Delete a board with all of its tickets, comments and history",
		Tags:          []string{"Boards"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DeleteBoardInput) (*struct{}, error) {
		if err := mut.DeleteBoard(ctx, input.ID); err != nil {
			return nil, httpError(err, "failed to delete board")
		}
		return nil, nil
	})
}

// buildBoardView groups tickets into the board's column order. Tickets whose
// column is not on the board are dropped; tickets the classifier did not see
// are gray.
func buildBoardView(b *domain.Board, tickets []*domain.Ticket, res dwell.Result) *BoardView {
	colors := res.Colors()
	lanes := make([]BoardColumn, len(b.Columns))
	index := make(map[string]int, len(b.Columns))
	for i, name := range b.Columns {
		lanes[i] = BoardColumn{Name: name, Tickets: make([]*ClassifiedTicket, 0)}
		index[name] = i
	}

	for _, t := range tickets {
		i, ok := index[t.Column]
		if !ok {
			continue
		}
		color, ok := colors[t.ID]
		if !ok {
			color = domain.ColorGray
		}
		lanes[i].Tickets = append(lanes[i].Tickets, &ClassifiedTicket{Ticket: *t, Color: color})
	}

	return &BoardView{
		Board:      *b,
		Lanes:      lanes,
		Stats:      res.Summary,
		ComputedAt: res.ComputedAt,
	}
}
