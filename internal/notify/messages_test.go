package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
)

func TestComposeMail(t *testing.T) {
	base := events.Event{
		TicketID: "t-1",
		Payload: events.Payload{
			Subject:   "Printer broken",
			Status:    domain.TicketStatusResolved,
			OldStatus: domain.TicketStatusInProgress,
			Priority:  domain.TicketPriorityHigh,
		},
	}

	tests := []struct {
		name        string
		eventType   events.EventType
		wantSubject string
		wantBody    string
	}{
		{"created", events.EventTicketCreated, "Ticket created: Printer broken", "priority HIGH"},
		{"assigned", events.EventTicketAssigned, "Ticket assigned: Printer broken", "assigned to you"},
		{"status", events.EventTicketStatusChanged, "Ticket status changed: Printer broken", "from IN_PROGRESS to RESOLVED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := base
			event.Type = tt.eventType
			mail, ok := ComposeMail("u1@example.com", event)
			assert.True(t, ok)
			assert.Equal(t, "u1@example.com", mail.To)
			assert.Equal(t, tt.wantSubject, mail.Subject)
			assert.Contains(t, mail.Body, tt.wantBody)
			assert.Contains(t, mail.Body, "t-1")
		})
	}

	_, ok := ComposeMail("x@example.com", events.Event{Type: "unknown"})
	assert.False(t, ok)
}
