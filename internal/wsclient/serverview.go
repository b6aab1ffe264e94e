package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

// HTTPView reads authoritative board state from the REST API. It satisfies
// reconcile.ServerView.
type HTTPView struct {
	baseURL string
	client  *http.Client
}

// NewHTTPView targets baseURL, e.g. "http://localhost:8080". A nil client
// uses http.DefaultClient.
func NewHTTPView(baseURL string, client *http.Client) *HTTPView {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPView{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (v *HTTPView) TicketColumn(ctx context.Context, ticketID uuid.UUID) (string, error) {
	var t domain.Ticket
	if err := v.get(ctx, "/api/v1/tickets/"+ticketID.String(), &t); err != nil {
		return "", fmt.Errorf("wsclient.TicketColumn: %w", err)
	}
	return t.Column, nil
}

// Tickets returns the board's current snapshot.
func (v *HTTPView) Tickets(ctx context.Context, boardID uuid.UUID) ([]*domain.Ticket, error) {
	var tickets []*domain.Ticket
	if err := v.get(ctx, "/api/v1/boards/"+boardID.String()+"/tickets", &tickets); err != nil {
		return nil, fmt.Errorf("wsclient.Tickets: %w", err)
	}
	return tickets, nil
}

func (v *HTTPView) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("GET %s: status %d: %w", path, resp.StatusCode, domain.ErrConnection)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
