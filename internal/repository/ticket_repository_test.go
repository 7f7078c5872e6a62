package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-desk/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestTicketListQuery(t *testing.T) {
	base := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	order := ` ORDER BY created_at DESC, id`

	tests := []struct {
		name      string
		filter    TicketFilter
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "no filter",
			wantQuery: base + order,
			wantArgs:  []any{},
		},
		{
			name:      "involved reuses one placeholder",
			filter:    TicketFilter{InvolvedID: ptr("u1")},
			wantQuery: base + ` AND (creator_id=$1 OR assignee_id=$1)` + order,
			wantArgs:  []any{"u1"},
		},
		{
			name: "placeholders follow argument order",
			filter: TicketFilter{
				CreatorID: ptr("u1"),
				Status:    ptr(domain.TicketStatusOpen),
				Priority:  ptr(domain.TicketPriorityHigh),
			},
			wantQuery: base + ` AND creator_id=$1 AND status=$2 AND priority=$3` + order,
			wantArgs:  []any{"u1", domain.TicketStatusOpen, domain.TicketPriorityHigh},
		},
		{
			name:   "keyword is folded in sql and passed verbatim",
			filter: TicketFilter{Status: ptr(domain.TicketStatusClosed), Keyword: ptr("50%_ÉCRAN")},
			wantQuery: base + ` AND status=$1` +
				` AND (strpos(LOWER(subject), LOWER($2)) > 0 OR strpos(LOWER(description), LOWER($2)) > 0)` + order,
			wantArgs: []any{domain.TicketStatusClosed, "50%_ÉCRAN"},
		},
		{
			name:      "paging clamps a negative offset",
			filter:    TicketFilter{Limit: 10, Offset: -5},
			wantQuery: base + order + ` LIMIT 10 OFFSET 0`,
			wantArgs:  []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := ticketListQuery(tt.filter)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMapError(t *testing.T) {
	other := errors.New("connection reset")

	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows)), ErrNotFound)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "22P02"}), ErrNotFound)

	unique := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	mapped := mapError(unique)
	assert.ErrorIs(t, mapped, ErrConflict)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, mapped, &pgErr)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23503"}), ErrConflict)

	assert.Same(t, other, mapError(other))
	assert.Equal(t, "42P01", mapError(&pgconn.PgError{Code: "42P01"}).(*pgconn.PgError).Code)
}
