package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/kanbansync/internal/api/v1"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterBoardRoutes(api, deps.Store, deps.Mutator, deps.Classifier)
	v1.RegisterTicketRoutes(api, deps.Store, deps.Mutator)
	v1.RegisterCommentRoutes(api, deps.Store, deps.Mutator)
}

func registerWSRoutes(r chi.Router, boards http.HandlerFunc) {
	if boards == nil {
		return
	}
	r.Get("/boards/{boardID}", boards)
}
