// Package memory implements repository.Store in process memory. It backs the
// test suites and local runs without POSTGRES_DSN; data is lost on exit.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
)

type state struct {
	tickets     map[string]domain.Ticket
	users       map[string]domain.User
	comments    []domain.Comment
	attachments []domain.Attachment
	history     []domain.TicketHistory
}

// Store is an in-memory repository.Store. Foreign keys are enforced the way the
// SQL schema enforces them, so services behave identically on both backends.
type Store struct {
	mu   *sync.RWMutex
	txMu *sync.Mutex
	data *state
	inTx bool
	undo *[]func(*state)
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		mu:   &sync.RWMutex{},
		txMu: &sync.Mutex{},
		data: &state{
			tickets: make(map[string]domain.Ticket),
			users:   make(map[string]domain.User),
		},
	}
}

func (s *Store) Tickets() repository.TicketRepository         { return ticketRepo{s} }
func (s *Store) Comments() repository.CommentRepository       { return commentRepo{s} }
func (s *Store) Attachments() repository.AttachmentRepository { return attachmentRepo{s} }
func (s *Store) Users() repository.UserRepository             { return userRepo{s} }
func (s *Store) History() repository.TicketHistoryRepository  { return historyRepo{s} }

// WithinTx serializes transactions. Writes made through the transactional store
// are journaled, and a failing fn replays the journal backwards so only the
// transaction's own writes are reverted.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	var undo []func(*state)
	tx := &Store{mu: s.mu, txMu: s.txMu, data: s.data, inTx: true, undo: &undo}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](s.data)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// journal records the inverse of a write. Callers hold mu.
func (s *Store) journal(revert func(*state)) {
	if s.undo != nil {
		*s.undo = append(*s.undo, revert)
	}
}

func removeWhere[T any](items []T, drop func(T) bool) (kept, removed []T) {
	kept = items[:0:0]
	for _, item := range items {
		if drop(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	return kept, removed
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.users[ticket.CreatorID]; !ok {
		return repository.ErrConflict
	}
	if ticket.AssigneeID != nil {
		if _, ok := r.s.data.users[*ticket.AssigneeID]; !ok {
			return repository.ErrConflict
		}
	}
	ticket.ID = uuid.NewString()
	r.s.data.tickets[ticket.ID] = cloneTicket(*ticket)
	id := ticket.ID
	r.s.journal(func(d *state) { delete(d.tickets, id) })
	return nil
}

func (r ticketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.data.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if ticket.AssigneeID != nil {
		if _, ok := r.s.data.users[*ticket.AssigneeID]; !ok {
			return repository.ErrConflict
		}
	}
	updated := cloneTicket(*ticket)
	updated.CreatorID = current.CreatorID
	updated.CreatedAt = current.CreatedAt
	r.s.data.tickets[ticket.ID] = updated
	r.s.journal(func(d *state) { d.tickets[current.ID] = current })
	return nil
}

func (r ticketRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.tickets[id]; !ok {
		return repository.ErrNotFound
	}
	for _, c := range r.s.data.comments {
		if c.TicketID == id {
			return repository.ErrConflict
		}
	}
	for _, a := range r.s.data.attachments {
		if a.TicketID == id {
			return repository.ErrConflict
		}
	}
	for _, h := range r.s.data.history {
		if h.TicketID == id {
			return repository.ErrConflict
		}
	}
	previous := r.s.data.tickets[id]
	delete(r.s.data.tickets, id)
	r.s.journal(func(d *state) { d.tickets[id] = previous })
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ticket, ok := r.s.data.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneTicket(ticket)
	return &out, nil
}

func (r ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []domain.Ticket{}
	for _, ticket := range r.s.data.tickets {
		if matches(ticket, filter) {
			result = append(result, cloneTicket(ticket))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		if offset > len(result) {
			offset = len(result)
		}
		end := offset + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[offset:end]
	}
	return result, nil
}

func matches(ticket domain.Ticket, filter repository.TicketFilter) bool {
	if filter.CreatorID != nil && ticket.CreatorID != *filter.CreatorID {
		return false
	}
	if filter.InvolvedID != nil {
		assigned := ticket.AssigneeID != nil && *ticket.AssigneeID == *filter.InvolvedID
		if ticket.CreatorID != *filter.InvolvedID && !assigned {
			return false
		}
	}
	if filter.Status != nil && ticket.Status != *filter.Status {
		return false
	}
	if filter.Priority != nil && ticket.Priority != *filter.Priority {
		return false
	}
	if filter.Keyword != nil {
		keyword := strings.ToLower(*filter.Keyword)
		if !strings.Contains(strings.ToLower(ticket.Subject), keyword) &&
			!strings.Contains(strings.ToLower(ticket.Description), keyword) {
			return false
		}
	}
	return true
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.AssigneeID = clonePtr(t.AssigneeID)
	t.Rating = clonePtr(t.Rating)
	t.Feedback = clonePtr(t.Feedback)
	t.ResolvedAt = clonePtr(t.ResolvedAt)
	t.ClosedAt = clonePtr(t.ClosedAt)
	return t
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type commentRepo struct{ s *Store }

func (r commentRepo) Create(_ context.Context, comment *domain.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.tickets[comment.TicketID]; !ok {
		return repository.ErrConflict
	}
	if _, ok := r.s.data.users[comment.AuthorID]; !ok {
		return repository.ErrConflict
	}
	comment.ID = uuid.NewString()
	r.s.data.comments = append(r.s.data.comments, *comment)
	id := comment.ID
	r.s.journal(func(d *state) {
		d.comments, _ = removeWhere(d.comments, func(c domain.Comment) bool { return c.ID == id })
	})
	return nil
}

func (r commentRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.Comment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []domain.Comment{}
	for _, c := range r.s.data.comments {
		if c.TicketID == ticketID {
			result = append(result, c)
		}
	}
	// stable keeps insertion order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r commentRepo) DeleteByTicket(_ context.Context, ticketID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var removed []domain.Comment
	r.s.data.comments, removed = removeWhere(r.s.data.comments, func(c domain.Comment) bool { return c.TicketID == ticketID })
	r.s.journal(func(d *state) { d.comments = append(d.comments, removed...) })
	return nil
}

type attachmentRepo struct{ s *Store }

func (r attachmentRepo) Create(_ context.Context, attachment *domain.Attachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.tickets[attachment.TicketID]; !ok {
		return repository.ErrConflict
	}
	if _, ok := r.s.data.users[attachment.UploaderID]; !ok {
		return repository.ErrConflict
	}
	attachment.ID = uuid.NewString()
	r.s.data.attachments = append(r.s.data.attachments, *attachment)
	id := attachment.ID
	r.s.journal(func(d *state) {
		d.attachments, _ = removeWhere(d.attachments, func(a domain.Attachment) bool { return a.ID == id })
	})
	return nil
}

func (r attachmentRepo) GetByID(_ context.Context, id string) (*domain.Attachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.data.attachments {
		if a.ID == id {
			out := a
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r attachmentRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.Attachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []domain.Attachment{}
	for _, a := range r.s.data.attachments {
		if a.TicketID == ticketID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r attachmentRepo) DeleteByTicket(_ context.Context, ticketID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var removed []domain.Attachment
	r.s.data.attachments, removed = removeWhere(r.s.data.attachments, func(a domain.Attachment) bool { return a.TicketID == ticketID })
	r.s.journal(func(d *state) { d.attachments = append(d.attachments, removed...) })
	return nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Create(_ context.Context, history *domain.TicketHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.tickets[history.TicketID]; !ok {
		return repository.ErrConflict
	}
	if history.ChangedByID != nil {
		if _, ok := r.s.data.users[*history.ChangedByID]; !ok {
			return repository.ErrConflict
		}
	}
	history.ID = uuid.NewString()
	r.s.data.history = append(r.s.data.history, cloneHistory(*history))
	id := history.ID
	r.s.journal(func(d *state) {
		d.history, _ = removeWhere(d.history, func(h domain.TicketHistory) bool { return h.ID == id })
	})
	return nil
}

func (r historyRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []domain.TicketHistory{}
	for _, h := range r.s.data.history {
		if h.TicketID == ticketID {
			result = append(result, cloneHistory(h))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r historyRepo) DeleteByTicket(_ context.Context, ticketID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var removed []domain.TicketHistory
	r.s.data.history, removed = removeWhere(r.s.data.history, func(h domain.TicketHistory) bool { return h.TicketID == ticketID })
	r.s.journal(func(d *state) { d.history = append(d.history, removed...) })
	return nil
}

func cloneHistory(h domain.TicketHistory) domain.TicketHistory {
	h.ChangedByID = clonePtr(h.ChangedByID)
	h.OldValue = maps.Clone(h.OldValue)
	h.NewValue = maps.Clone(h.NewValue)
	return h
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	r.s.data.users[user.ID] = *user
	id := user.ID
	r.s.journal(func(d *state) { delete(d.users, id) })
	return nil
}

func (r userRepo) Update(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.data.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.s.data.users {
		if id != user.ID && existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	updated := *user
	updated.Username = current.Username
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.s.data.users[user.ID] = updated
	*user = updated
	r.s.journal(func(d *state) { d.users[current.ID] = current })
	return nil
}

func (r userRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.users[id]; !ok {
		return repository.ErrNotFound
	}
	for _, t := range r.s.data.tickets {
		if t.CreatorID == id {
			return repository.ErrConflict
		}
	}
	for _, c := range r.s.data.comments {
		if c.AuthorID == id {
			return repository.ErrConflict
		}
	}
	for _, a := range r.s.data.attachments {
		if a.UploaderID == id {
			return repository.ErrConflict
		}
	}
	var unassigned, forgotten []string
	for tid, t := range r.s.data.tickets {
		if t.AssigneeID != nil && *t.AssigneeID == id {
			t.AssigneeID = nil
			r.s.data.tickets[tid] = t
			unassigned = append(unassigned, tid)
		}
	}
	for i := range r.s.data.history {
		if h := &r.s.data.history[i]; h.ChangedByID != nil && *h.ChangedByID == id {
			h.ChangedByID = nil
			forgotten = append(forgotten, h.ID)
		}
	}
	previous := r.s.data.users[id]
	delete(r.s.data.users, id)
	r.s.journal(func(d *state) {
		d.users[id] = previous
		for _, tid := range unassigned {
			if t, ok := d.tickets[tid]; ok && t.AssigneeID == nil {
				t.AssigneeID = clonePtr(&id)
				d.tickets[tid] = t
			}
		}
		for i := range d.history {
			if h := &d.history[i]; h.ChangedByID == nil && slices.Contains(forgotten, h.ID) {
				h.ChangedByID = clonePtr(&id)
			}
		}
	})
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r userRepo) List(_ context.Context) ([]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.User, 0, len(r.s.data.users))
	for _, u := range r.s.data.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r userRepo) find(pred func(domain.User) bool) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.data.users {
		if pred(u) {
			out := u
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}
