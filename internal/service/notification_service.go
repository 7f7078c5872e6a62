package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/notify"
	"github.com/spec-kit/support-desk/internal/repository"
)

// EventPublisher forwards events to an external channel.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// NotificationService turns lifecycle events into log lines, emails to the
// event's recipient and messages on every configured publisher.
type NotificationService struct {
	dispatcher events.Dispatcher
	users      repository.UserRepository
	mailer     notify.MailSender
	publishers []EventPublisher
	logger     *zap.Logger
}

// NotificationDependencies bundles collaborators. Mailer and Publishers are optional.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Users      repository.UserRepository
	Mailer     notify.MailSender
	Publishers []EventPublisher
	Logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		users:      deps.Users,
		mailer:     deps.Mailer,
		publishers: deps.Publishers,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to every lifecycle event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketAssigned,
		events.EventTicketStatusChanged,
	} {
		n.dispatcher.Subscribe(eventType, n.logEvent)
		if n.mailer != nil {
			n.dispatcher.Subscribe(eventType, n.emailRecipient)
		}
		for _, publisher := range n.publishers {
			if publisher != nil {
				n.dispatcher.Subscribe(eventType, publisher.Publish)
			}
		}
	}
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.ActorID),
		zap.String("recipient_id", event.Payload.RecipientID),
		zap.String("status", string(event.Payload.Status)))
	return nil
}

func (n *NotificationService) emailRecipient(ctx context.Context, event events.Event) error {
	if event.Payload.RecipientID == "" || n.users == nil {
		return nil
	}
	recipient, err := n.users.GetByID(ctx, event.Payload.RecipientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !recipient.Active || recipient.Email == "" {
		return nil
	}
	mail, ok := notify.ComposeMail(recipient.Email, event)
	if !ok {
		return nil
	}
	return n.mailer.Send(ctx, mail)
}
