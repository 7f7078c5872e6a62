package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/service"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

func currentUser(c *fiber.Ctx) (*domain.User, error) {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return user, nil
}

// parseBody decodes and validates a JSON body into req.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"body": err.Error()})
	}
	return dto.Validate(req)
}

func ticketSummaries(tickets []domain.Ticket) []dto.TicketSummary {
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		items = append(items, dto.TicketSummary{
			ID:         t.ID,
			Subject:    t.Subject,
			Status:     t.Status,
			Priority:   t.Priority,
			CreatorID:  t.CreatorID,
			AssigneeID: t.AssigneeID,
			CreatedAt:  t.CreatedAt,
			UpdatedAt:  t.UpdatedAt,
		})
	}
	return items
}

func ticketResponse(t *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:          t.ID,
		Subject:     t.Subject,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		CreatorID:   t.CreatorID,
		AssigneeID:  t.AssigneeID,
		Rating:      t.Rating,
		Feedback:    t.Feedback,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		ResolvedAt:  t.ResolvedAt,
		ClosedAt:    t.ClosedAt,
	}
}

func ticketDetail(detail *service.TicketDetail) dto.TicketDetailResponse {
	person := func(id string) *dto.UserSummary {
		user, ok := detail.People[id]
		if !ok {
			return nil
		}
		return &dto.UserSummary{ID: user.ID, Username: user.Username, FullName: user.FullName, Role: user.Role}
	}

	comments := make([]dto.CommentResponse, 0, len(detail.Comments))
	for i := range detail.Comments {
		comment := commentResponse(&detail.Comments[i])
		comment.Author = person(comment.AuthorID)
		comments = append(comments, comment)
	}
	attachments := make([]dto.AttachmentResponse, 0, len(detail.Attachments))
	for i := range detail.Attachments {
		attachment := attachmentResponse(&detail.Attachments[i])
		attachment.Uploader = person(attachment.UploaderID)
		attachments = append(attachments, attachment)
	}
	resp := dto.TicketDetailResponse{
		TicketResponse: ticketResponse(detail.Ticket),
		Creator:        person(detail.Ticket.CreatorID),
		Comments:       comments,
		Attachments:    attachments,
	}
	if detail.Ticket.AssigneeID != nil {
		resp.Assignee = person(*detail.Ticket.AssigneeID)
	}
	return resp
}

func commentResponse(c *domain.Comment) dto.CommentResponse {
	return dto.CommentResponse{
		ID:        c.ID,
		TicketID:  c.TicketID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

func attachmentResponse(a *domain.Attachment) dto.AttachmentResponse {
	return dto.AttachmentResponse{
		ID:          a.ID,
		TicketID:    a.TicketID,
		UploaderID:  a.UploaderID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		UploadedAt:  a.UploadedAt,
		URL:         fmt.Sprintf("/api/tickets/%s/attachments/%s", a.TicketID, a.ID),
	}
}

func userResponse(u *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
