package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
)

func seedUser(t *testing.T, store *Store, username string) *domain.User {
	t.Helper()
	user := &domain.User{
		Username: username,
		Email:    username + "@example.com",
		Role:     domain.RoleUser,
		Active:   true,
	}
	require.NoError(t, store.Users().Create(context.Background(), user))
	return user
}

func seedTicket(t *testing.T, store *Store, creator string, subject string, createdAt time.Time) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Subject:     subject,
		Description: "body",
		Priority:    domain.TicketPriorityMedium,
		Status:      domain.TicketStatusOpen,
		CreatorID:   creator,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	require.NoError(t, store.Tickets().Create(context.Background(), ticket))
	return ticket
}

func TestUsersUniqueUsernameAndEmail(t *testing.T) {
	store := NewStore()
	seedUser(t, store, "alice")

	err := store.Users().Create(context.Background(), &domain.User{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	err = store.Users().Create(context.Background(), &domain.User{Username: "other", Email: "alice@example.com"})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestTicketListOrderingAndFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := seedTicket(t, store, alice.ID, "Printer jam", base)
	second := seedTicket(t, store, bob.ID, "URGENT: VPN down", base.Add(time.Minute))
	second.AssigneeID = &alice.ID
	require.NoError(t, store.Tickets().Update(ctx, second))

	all, err := store.Tickets().List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	mine, err := store.Tickets().List(ctx, repository.TicketFilter{CreatorID: &bob.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second.ID, mine[0].ID)

	involved, err := store.Tickets().List(ctx, repository.TicketFilter{InvolvedID: &alice.ID})
	require.NoError(t, err)
	assert.Len(t, involved, 2)

	keyword := "urgent"
	found, err := store.Tickets().List(ctx, repository.TicketFilter{Keyword: &keyword})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, second.ID, found[0].ID)

	paged, err := store.Tickets().List(ctx, repository.TicketFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, first.ID, paged[0].ID)
}

func TestReturnedTicketsAreCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	ticket := seedTicket(t, store, alice.ID, "Copy", time.Now())

	loaded, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	loaded.Subject = "changed"

	again, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Copy", again.Subject)
}

func TestTicketDeleteRequiresChildrenRemoved(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	ticket := seedTicket(t, store, alice.ID, "With comment", time.Now())
	require.NoError(t, store.Comments().Create(ctx, &domain.Comment{TicketID: ticket.ID, AuthorID: alice.ID, Content: "hi"}))

	assert.ErrorIs(t, store.Tickets().Delete(ctx, ticket.ID), repository.ErrConflict)

	require.NoError(t, store.Comments().DeleteByTicket(ctx, ticket.ID))
	require.NoError(t, store.Tickets().Delete(ctx, ticket.ID))
	assert.ErrorIs(t, store.Tickets().Delete(ctx, ticket.ID), repository.ErrNotFound)
}

func TestUserDeleteClearsAssigneeAndGuardsCreator(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	agent := seedUser(t, store, "agent")
	ticket := seedTicket(t, store, alice.ID, "Assigned", time.Now())
	ticket.AssigneeID = &agent.ID
	require.NoError(t, store.Tickets().Update(ctx, ticket))

	assert.ErrorIs(t, store.Users().Delete(ctx, alice.ID), repository.ErrConflict)
	require.NoError(t, store.Users().Delete(ctx, agent.ID))

	loaded, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.AssigneeID)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	ticket := seedTicket(t, store, alice.ID, "Keep me", time.Now())
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Tickets().Delete(ctx, ticket.ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Tickets().GetByID(ctx, ticket.ID)
	assert.NoError(t, err)

	err = store.WithinTx(ctx, func(tx repository.Store) error {
		return tx.WithinTx(ctx, func(inner repository.Store) error {
			return inner.Tickets().Delete(ctx, ticket.ID)
		})
	})
	require.NoError(t, err)
	_, err = store.Tickets().GetByID(ctx, ticket.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHistoryGuardsTicketAndForgetsDeletedActor(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	agent := seedUser(t, store, "agent")
	ticket := seedTicket(t, store, alice.ID, "History", time.Now())

	entry := &domain.TicketHistory{
		TicketID:    ticket.ID,
		ChangedByID: &agent.ID,
		ChangeType:  domain.ChangeTypeStatus,
		NewValue:    map[string]any{"status": "CLOSED"},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.History().Create(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.ErrorIs(t, store.History().Create(ctx, &domain.TicketHistory{TicketID: "missing"}), repository.ErrConflict)

	assert.ErrorIs(t, store.Tickets().Delete(ctx, ticket.ID), repository.ErrConflict)

	require.NoError(t, store.Users().Delete(ctx, agent.ID))
	entries, err := store.History().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ChangedByID)

	entries[0].NewValue["status"] = "OPEN"
	again, err := store.History().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", again[0].NewValue["status"])

	require.NoError(t, store.History().DeleteByTicket(ctx, ticket.ID))
	require.NoError(t, store.Tickets().Delete(ctx, ticket.ID))
}

func TestWithinTxRollbackKeepsConcurrentWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	doomed := seedTicket(t, store, alice.ID, "Doomed", time.Now())
	boom := errors.New("boom")

	var outside *domain.Ticket
	var outsideComment *domain.Comment
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:   doomed.ID,
			ChangeType: domain.ChangeTypeStatus,
			CreatedAt:  time.Now().UTC(),
		}))
		// another request writes without a transaction while this one runs
		outside = seedTicket(t, store, alice.ID, "Committed elsewhere", time.Now())
		outsideComment = &domain.Comment{TicketID: outside.ID, AuthorID: alice.ID, Content: "hi", CreatedAt: time.Now()}
		require.NoError(t, store.Comments().Create(ctx, outsideComment))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Tickets().GetByID(ctx, outside.ID)
	assert.NoError(t, err)
	comments, err := store.Comments().ListByTicket(ctx, outside.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 1)

	entries, err := store.History().ListByTicket(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithinTxRollbackRestoresCascade(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	alice := seedUser(t, store, "alice")
	agent := seedUser(t, store, "agent")
	ticket := seedTicket(t, store, alice.ID, "Cascade", time.Now())
	ticket.AssigneeID = &agent.ID
	require.NoError(t, store.Tickets().Update(ctx, ticket))
	require.NoError(t, store.Comments().Create(ctx, &domain.Comment{TicketID: ticket.ID, AuthorID: alice.ID, Content: "first", CreatedAt: time.Now()}))
	require.NoError(t, store.Attachments().Create(ctx, &domain.Attachment{TicketID: ticket.ID, UploaderID: alice.ID, FileName: "a.txt"}))
	entry := &domain.TicketHistory{TicketID: ticket.ID, ChangedByID: &agent.ID, ChangeType: domain.ChangeTypeAssignee, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.History().Create(ctx, entry))
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Comments().DeleteByTicket(ctx, ticket.ID))
		require.NoError(t, tx.Attachments().DeleteByTicket(ctx, ticket.ID))
		require.NoError(t, tx.History().DeleteByTicket(ctx, ticket.ID))
		require.NoError(t, tx.Tickets().Delete(ctx, ticket.ID))
		require.NoError(t, tx.Users().Delete(ctx, agent.ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.AssigneeID)
	assert.Equal(t, agent.ID, *loaded.AssigneeID)
	_, err = store.Users().GetByID(ctx, agent.ID)
	assert.NoError(t, err)

	comments, err := store.Comments().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
	attachments, err := store.Attachments().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, attachments, 1)
	entries, err := store.History().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ChangedByID)
	assert.Equal(t, agent.ID, *entries[0].ChangedByID)
}
