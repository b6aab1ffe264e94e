package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

type CreateCommentInput struct {
	TicketID uuid.UUID `path:"id" doc:"Ticket ID"`
	Body     struct {
		Author string `json:"author,omitempty" maxLength:"200" doc:"Comment author"`
		Body   string `json:"body" minLength:"1" maxLength:"10000" doc:"Comment text"`
	}
}

type CreateCommentOutput struct {
	Body *domain.Comment
}

type ListCommentsInput struct {
	TicketID uuid.UUID `path:"id" doc:"Ticket ID"`
}

type ListCommentsOutput struct {
	Body []*domain.Comment
}

func RegisterCommentRoutes(api huma.API, store DataStore, mut Mutator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/tickets/{id}/comments",
		Summary:       "Comment on a ticket",
		Tags:          []string{"Comments"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateCommentInput) (*CreateCommentOutput, error) {
		c, err := mut.AddComment(ctx, input.TicketID, input.Body.Author, input.Body.Body)
		if err != nil {
			return nil, httpError(err, "failed to add comment")
		}
		return &CreateCommentOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}/comments",
		Summary:     "List a ticket's comments, oldest first",
		Tags:        []string{"Comments"},
	}, func(ctx context.Context, input *ListCommentsInput) (*ListCommentsOutput, error) {
		comments, err := store.Comments().ListByTicket(ctx, input.TicketID)
		if err != nil {
			return nil, httpError(err, "failed to list comments")
		}
		return &ListCommentsOutput{Body: comments}, nil
	})
}
