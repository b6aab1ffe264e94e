package v1_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/kanbansync/internal/api/v1"
	"github.com/gosuda/kanbansync/internal/domain"
)

func TestCreateComment(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		ticketID := uuid.New()
		_, api := humatest.New(t)
		mut := &mockMutator{
			addCommentFunc: func(_ context.Context, id uuid.UUID, author, body string) (*domain.Comment, error) {
				assert.Equal(t, ticketID, id)
				return &domain.Comment{ID: uuid.New(), TicketID: id, Author: author, Body: body, CreatedAt: time.Now().UTC()}, nil
			},
		}
		v1.RegisterCommentRoutes(api, &mockDataStore{}, mut)

		resp := api.Post("/tickets/"+ticketID.String()+"/comments", map[string]any{"author": "sam", "body": "looks good"})

		require.Equal(t, http.StatusCreated, resp.Code)
		var got domain.Comment
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
		assert.Equal(t, "sam", got.Author)
		assert.Equal(t, "looks good", got.Body)
	})

	t.Run("ticket_not_found", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		mut := &mockMutator{
			addCommentFunc: func(_ context.Context, _ uuid.UUID, _, _ string) (*domain.Comment, error) {
				return nil, fmt.Errorf("move.AddComment: %w", domain.ErrNotFound)
			},
		}
		v1.RegisterCommentRoutes(api, &mockDataStore{}, mut)

		resp := api.Post("/tickets/"+uuid.NewString()+"/comments", map[string]any{"body": "hi"})

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("empty_body_fails_schema", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterCommentRoutes(api, &mockDataStore{}, &mockMutator{})

		resp := api.Post("/tickets/"+uuid.NewString()+"/comments", map[string]any{"body": ""})

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func TestListComments(t *testing.T) {
	t.Parallel()

	ticketID := uuid.New()
	first := &domain.Comment{ID: uuid.New(), TicketID: ticketID, Author: "a", Body: "one", CreatedAt: time.Now().UTC()}
	second := &domain.Comment{ID: uuid.New(), TicketID: ticketID, Author: "b", Body: "two", CreatedAt: first.CreatedAt.Add(time.Second)}

	_, api := humatest.New(t)
	store := &mockDataStore{
		comments: &mockCommentRepo{
			listByTicketFunc: func(_ context.Context, id uuid.UUID) ([]*domain.Comment, error) {
				if id != ticketID {
					return nil, domain.ErrNotFound
				}
				return []*domain.Comment{first, second}, nil
			},
		},
	}
	v1.RegisterCommentRoutes(api, store, &mockMutator{})

	resp := api.Get("/tickets/" + ticketID.String() + "/comments")
	require.Equal(t, http.StatusOK, resp.Code)
	var got []domain.Comment
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Body)
	assert.Equal(t, "two", got[1].Body)

	resp = api.Get("/tickets/" + uuid.NewString() + "/comments")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
