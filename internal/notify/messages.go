package notify

import (
	"fmt"

	"github.com/spec-kit/support-desk/internal/events"
)

// ComposeMail words the email for an event. ok is false for unknown event types.
func ComposeMail(to string, event events.Event) (Mail, bool) {
	p := event.Payload
	var subject, body string
	switch event.Type {
	case events.EventTicketCreated:
		subject = fmt.Sprintf("Ticket created: %s", p.Subject)
		body = fmt.Sprintf("Your ticket %q was created with priority %s.\nTicket ID: %s", p.Subject, p.Priority, event.TicketID)
	case events.EventTicketAssigned:
		subject = fmt.Sprintf("Ticket assigned: %s", p.Subject)
		body = fmt.Sprintf("Ticket %q (priority %s) has been assigned to you.\nCurrent status: %s\nTicket ID: %s", p.Subject, p.Priority, p.Status, event.TicketID)
	case events.EventTicketStatusChanged:
		subject = fmt.Sprintf("Ticket status changed: %s", p.Subject)
		body = fmt.Sprintf("The status of your ticket %q changed from %s to %s.\nTicket ID: %s", p.Subject, p.OldStatus, p.Status, event.TicketID)
	default:
		return Mail{}, false
	}
	return Mail{To: to, Subject: subject, Body: body}, true
}
