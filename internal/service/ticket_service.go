package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/policy"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/storage"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

const defaultContentType = "application/octet-stream"

// TicketService coordinates the ticket lifecycle. Every mutation consults the
// policy package first; notifications are best effort.
type TicketService struct {
	store          repository.Store
	blobs          storage.BlobStore
	dispatcher     events.Dispatcher
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
	maxUploadBytes int64
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store          repository.Store
	Blobs          storage.BlobStore
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Clock          func() time.Time
	MaxUploadBytes int64
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject     string
	Description string
	Priority    domain.TicketPriority
}

// AttachmentUpload carries an uploaded file fully read into memory.
type AttachmentUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// TicketDetail is a ticket together with the records it owns. People holds
// the creator, assignee, comment authors and uploaders keyed by user ID.
type TicketDetail struct {
	Ticket      *domain.Ticket
	Comments    []domain.Comment
	Attachments []domain.Attachment
	People      map[string]domain.User
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		store:          deps.Store,
		blobs:          deps.Blobs,
		dispatcher:     deps.Dispatcher,
		logger:         logger,
		metrics:        deps.Metrics,
		now:            clock,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// CreateTicket opens a ticket owned by creator. An empty priority defaults to MEDIUM.
func (s *TicketService) CreateTicket(ctx context.Context, creator *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if err := requireCaller(creator); err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(input.Subject)
	description := strings.TrimSpace(input.Description)
	details := map[string]any{}
	if subject == "" {
		details["subject"] = "subject is required"
	}
	if description == "" {
		details["description"] = "description is required"
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		details["priority"] = "priority must be one of LOW, MEDIUM, HIGH, URGENT"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	now := s.timestamp()
	ticket := &domain.Ticket{
		Subject:     subject,
		Description: description,
		Priority:    priority,
		Status:      domain.TicketStatusOpen,
		CreatorID:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Tickets().Create(ctx, ticket); err != nil {
		return nil, storeError(err, "ticket", nil)
	}

	s.publishEvent(ctx, events.EventTicketCreated, creator.ID, ticket, creator.ID, "")
	return ticket, nil
}

// GetTicket loads a ticket the user may access.
func (s *TicketService) GetTicket(ctx context.Context, user *domain.User, ticketID string) (*domain.Ticket, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	return s.loadAccessible(ctx, user, ticketID)
}

// GetTicketDetail loads a ticket with its comments and attachments.
func (s *TicketService) GetTicketDetail(ctx context.Context, user *domain.User, ticketID string) (*TicketDetail, error) {
	ticket, err := s.GetTicket(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.Comments().ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, storeError(err, "comment", nil)
	}
	attachments, err := s.store.Attachments().ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, storeError(err, "attachment", nil)
	}

	ids := []string{ticket.CreatorID}
	if ticket.AssigneeID != nil {
		ids = append(ids, *ticket.AssigneeID)
	}
	for _, c := range comments {
		ids = append(ids, c.AuthorID)
	}
	for _, a := range attachments {
		ids = append(ids, a.UploaderID)
	}
	people, err := s.loadPeople(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: ticket, Comments: comments, Attachments: attachments, People: people}, nil
}

// loadPeople resolves user IDs once each. Users deleted meanwhile are left out.
func (s *TicketService) loadPeople(ctx context.Context, ids []string) (map[string]domain.User, error) {
	people := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if _, seen := people[id]; seen || id == "" {
			continue
		}
		user, err := s.store.Users().GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeError(err, "user", nil)
		}
		people[id] = *user
	}
	return people, nil
}

// ListForUser returns the tickets the user created.
func (s *TicketService) ListForUser(ctx context.Context, user *domain.User) ([]domain.Ticket, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	return s.list(ctx, repository.TicketFilter{CreatorID: &user.ID})
}

// ListInvolving returns tickets the user created or is assigned to.
func (s *TicketService) ListInvolving(ctx context.Context, user *domain.User) ([]domain.Ticket, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	return s.list(ctx, repository.TicketFilter{InvolvedID: &user.ID})
}

// ListAll returns every ticket. Callers gate it by role.
func (s *TicketService) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	return s.list(ctx, repository.TicketFilter{})
}

// SearchByKeyword matches keyword case-insensitively against subject or
// description. An empty keyword matches every ticket.
func (s *TicketService) SearchByKeyword(ctx context.Context, keyword string) ([]domain.Ticket, error) {
	return s.list(ctx, repository.TicketFilter{Keyword: &keyword})
}

// FilterByStatus returns tickets in exactly the given status.
func (s *TicketService) FilterByStatus(ctx context.Context, status domain.TicketStatus) ([]domain.Ticket, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(status)})
	}
	return s.list(ctx, repository.TicketFilter{Status: &status})
}

// FilterByPriority returns tickets with exactly the given priority.
func (s *TicketService) FilterByPriority(ctx context.Context, priority domain.TicketPriority) ([]domain.Ticket, error) {
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": string(priority)})
	}
	return s.list(ctx, repository.TicketFilter{Priority: &priority})
}

// UpdateStatus moves a ticket to any status. RESOLVED stamps resolvedAt and
// CLOSED stamps closedAt, refreshing them on repeats.
func (s *TicketService) UpdateStatus(ctx context.Context, user *domain.User, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	ticket, err := s.loadAccessible(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(status)})
	}

	now := s.timestamp()
	oldStatus := ticket.Status
	ticket.Status = status
	switch status {
	case domain.TicketStatusResolved:
		ticket.ResolvedAt = &now
	case domain.TicketStatusClosed:
		ticket.ClosedAt = &now
	}
	ticket.UpdatedAt = now
	entry := historyEntry(user, ticket, domain.ChangeTypeStatus,
		map[string]any{"status": string(oldStatus)},
		map[string]any{"status": string(status)})
	if err := s.saveWithHistory(ctx, ticket, entry); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventTicketStatusChanged, user.ID, ticket, ticket.CreatorID, oldStatus)
	return ticket, nil
}

// AssignTicket sets the assignee. An OPEN ticket advances to IN_PROGRESS.
func (s *TicketService) AssignTicket(ctx context.Context, user *domain.User, ticketID, assigneeID string) (*domain.Ticket, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	if !policy.CanAssign(user) {
		return nil, apperrors.NewForbidden("only support staff can assign tickets")
	}
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	assignee, err := s.store.Users().GetByID(ctx, assigneeID)
	if err != nil {
		return nil, storeError(err, "assignee", map[string]any{"assignee_id": assigneeID})
	}

	oldStatus := ticket.Status
	oldValue := map[string]any{"assignee_id": nil, "status": string(oldStatus)}
	if ticket.AssigneeID != nil {
		oldValue["assignee_id"] = *ticket.AssigneeID
	}
	ticket.AssigneeID = &assignee.ID
	if ticket.Status == domain.TicketStatusOpen {
		ticket.Status = domain.TicketStatusInProgress
	}
	ticket.UpdatedAt = s.timestamp()
	entry := historyEntry(user, ticket, domain.ChangeTypeAssignee, oldValue,
		map[string]any{"assignee_id": assignee.ID, "status": string(ticket.Status)})
	if err := s.saveWithHistory(ctx, ticket, entry); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventTicketAssigned, user.ID, ticket, assignee.ID, oldStatus)
	return ticket, nil
}

// AddComment appends a comment authored by user.
func (s *TicketService) AddComment(ctx context.Context, user *domain.User, ticketID, content string) (*domain.Comment, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	ticket, err := s.loadAccessible(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("comment content is required", map[string]any{"content": "must not be empty"})
	}

	comment := &domain.Comment{
		TicketID:  ticket.ID,
		AuthorID:  user.ID,
		Content:   content,
		CreatedAt: s.timestamp(),
	}
	if err := s.store.Comments().Create(ctx, comment); err != nil {
		return nil, storeError(err, "comment", map[string]any{"ticket_id": ticketID})
	}
	return comment, nil
}

// ListComments returns a ticket's comments oldest first.
func (s *TicketService) ListComments(ctx context.Context, user *domain.User, ticketID string) ([]domain.Comment, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	ticket, err := s.loadAccessible(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.Comments().ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, storeError(err, "comment", nil)
	}
	return comments, nil
}

// RateTicket records the creator's rating of a resolved or closed ticket.
// Authorization is checked before the rating range; a ticket is rated once.
func (s *TicketService) RateTicket(ctx context.Context, user *domain.User, ticketID string, rating int, feedback string) (*domain.Ticket, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	if reason := policy.RateDenial(user, ticket); reason != "" {
		return nil, apperrors.NewForbidden(reason)
	}
	if rating < domain.MinRating || rating > domain.MaxRating {
		return nil, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"rating": rating})
	}
	if ticket.Rating != nil {
		return nil, apperrors.NewConflict("ticket already rated", map[string]any{"ticket_id": ticketID})
	}

	ticket.Rating = &rating
	if trimmed := strings.TrimSpace(feedback); trimmed != "" {
		ticket.Feedback = &trimmed
	}
	ticket.UpdatedAt = s.timestamp()
	entry := historyEntry(user, ticket, domain.ChangeTypeRating, map[string]any{},
		map[string]any{"rating": rating})
	if err := s.saveWithHistory(ctx, ticket, entry); err != nil {
		return nil, err
	}
	return ticket, nil
}

// TicketHistory returns the audit trail of a ticket, oldest first.
func (s *TicketService) TicketHistory(ctx context.Context, user *domain.User, ticketID string) ([]domain.TicketHistory, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	if _, err := s.loadAccessible(ctx, user, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.store.History().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket history", map[string]any{"ticket_id": ticketID})
	}
	return entries, nil
}

// UploadAttachment stores the bytes in the blob store and records metadata
// pointing at the returned handle.
func (s *TicketService) UploadAttachment(ctx context.Context, user *domain.User, ticketID string, upload AttachmentUpload) (*domain.Attachment, error) {
	if err := requireCaller(user); err != nil {
		return nil, err
	}
	ticket, err := s.loadAccessible(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	fileName := strings.TrimSpace(upload.FileName)
	switch {
	case fileName == "":
		return nil, apperrors.NewValidationError("file name is required", map[string]any{"file": "missing file name"})
	case len(upload.Data) == 0:
		return nil, apperrors.NewValidationError("file is empty", map[string]any{"file": "empty payload"})
	case s.maxUploadBytes > 0 && int64(len(upload.Data)) > s.maxUploadBytes:
		return nil, apperrors.NewValidationError("file too large", map[string]any{"max_bytes": s.maxUploadBytes})
	}
	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	handle, err := s.blobs.Store(ctx, upload.Data, fileName, contentType)
	if err != nil {
		return nil, apperrors.NewStorageError(err)
	}

	attachment := &domain.Attachment{
		TicketID:    ticket.ID,
		UploaderID:  user.ID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   int64(len(upload.Data)),
		StorageKey:  handle,
		UploadedAt:  s.timestamp(),
	}
	if err := s.store.Attachments().Create(ctx, attachment); err != nil {
		s.removeBlob(ctx, handle)
		return nil, storeError(err, "attachment", map[string]any{"ticket_id": ticketID})
	}
	return attachment, nil
}

// DownloadAttachment returns an attachment's metadata and bytes.
func (s *TicketService) DownloadAttachment(ctx context.Context, user *domain.User, ticketID, attachmentID string) (*domain.Attachment, []byte, error) {
	if err := requireCaller(user); err != nil {
		return nil, nil, err
	}
	ticket, err := s.loadAccessible(ctx, user, ticketID)
	if err != nil {
		return nil, nil, err
	}
	notFound := map[string]any{"attachment_id": attachmentID}
	attachment, err := s.store.Attachments().GetByID(ctx, attachmentID)
	if err != nil {
		return nil, nil, storeError(err, "attachment", notFound)
	}
	if attachment.TicketID != ticket.ID {
		return nil, nil, apperrors.NewNotFound("attachment", notFound)
	}

	data, err := s.blobs.Retrieve(ctx, attachment.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, nil, apperrors.NewNotFound("attachment content", notFound)
		}
		return nil, nil, apperrors.NewStorageError(err)
	}
	return attachment, data, nil
}

// DeleteTicket removes a ticket with its comments, attachments and history in
// one transaction. Blob removal happens after commit and is best effort.
func (s *TicketService) DeleteTicket(ctx context.Context, user *domain.User, ticketID string) error {
	if err := requireCaller(user); err != nil {
		return err
	}
	if !policy.CanDelete(user) {
		return apperrors.NewForbidden("only administrators can delete tickets")
	}

	details := map[string]any{"ticket_id": ticketID}
	var handles []string
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Tickets().GetByID(ctx, ticketID); err != nil {
			return storeError(err, "ticket", details)
		}
		attachments, err := tx.Attachments().ListByTicket(ctx, ticketID)
		if err != nil {
			return storeError(err, "attachment", details)
		}
		if err := tx.Comments().DeleteByTicket(ctx, ticketID); err != nil {
			return storeError(err, "comment", details)
		}
		if err := tx.Attachments().DeleteByTicket(ctx, ticketID); err != nil {
			return storeError(err, "attachment", details)
		}
		if err := tx.History().DeleteByTicket(ctx, ticketID); err != nil {
			return storeError(err, "ticket history", details)
		}
		if err := tx.Tickets().Delete(ctx, ticketID); err != nil {
			return storeError(err, "ticket", details)
		}
		handles = make([]string, 0, len(attachments))
		for _, a := range attachments {
			handles = append(handles, a.StorageKey)
		}
		return nil
	})
	if err != nil {
		return storeError(err, "ticket", details)
	}

	for _, handle := range handles {
		s.removeBlob(ctx, handle)
	}
	return nil
}

func (s *TicketService) loadAccessible(ctx context.Context, user *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	if !policy.CanAccess(user, ticket) {
		return nil, apperrors.NewForbidden("access to ticket denied")
	}
	return ticket, nil
}

// saveWithHistory persists ticket and its audit entry atomically.
func (s *TicketService) saveWithHistory(ctx context.Context, ticket *domain.Ticket, entry domain.TicketHistory) error {
	details := map[string]any{"ticket_id": ticket.ID}
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			return err
		}
		return tx.History().Create(ctx, &entry)
	})
	if err != nil {
		return storeError(err, "ticket", details)
	}
	return nil
}

func historyEntry(user *domain.User, ticket *domain.Ticket, changeType domain.TicketChangeType, oldValue, newValue map[string]any) domain.TicketHistory {
	actorID := user.ID
	return domain.TicketHistory{
		TicketID:    ticket.ID,
		ChangedByID: &actorID,
		ChangeType:  changeType,
		OldValue:    oldValue,
		NewValue:    newValue,
		CreatedAt:   ticket.UpdatedAt,
	}
}

func (s *TicketService) list(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.store.Tickets().List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "ticket", nil)
	}
	return tickets, nil
}

func (s *TicketService) removeBlob(ctx context.Context, handle string) {
	if err := s.blobs.Remove(ctx, handle); err != nil {
		s.logger.Warn("blob removal failed", zap.String("handle", handle), zap.Error(err))
	}
}

// timestamp truncates to the precision PostgreSQL keeps so both stores agree.
func (s *TicketService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *TicketService) publishEvent(ctx context.Context, eventType events.EventType, actorID string, ticket *domain.Ticket, recipientID string, oldStatus domain.TicketStatus) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		ActorID:   actorID,
		Timestamp: s.timestamp(),
		Payload: events.Payload{
			RecipientID: recipientID,
			Subject:     ticket.Subject,
			Status:      ticket.Status,
			Priority:    ticket.Priority,
			OldStatus:   oldStatus,
			AssigneeID:  ticket.AssigneeID,
		},
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.metrics.RecordNotificationFailure()
		s.logger.Warn("notification failed",
			zap.String("event_type", string(eventType)),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
	}
}
