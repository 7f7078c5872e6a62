package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-desk/internal/domain"
)

var (
	allRoles    = []domain.Role{domain.RoleUser, domain.RoleSupportAgent, domain.RoleAdmin}
	allStatuses = []domain.TicketStatus{
		domain.TicketStatusOpen,
		domain.TicketStatusInProgress,
		domain.TicketStatusResolved,
		domain.TicketStatusClosed,
	}
)

func TestCanAccess(t *testing.T) {
	ticket := &domain.Ticket{ID: "t1", CreatorID: "creator"}

	for _, role := range allRoles {
		for _, userID := range []string{"creator", "someone-else"} {
			user := &domain.User{ID: userID, Role: role}
			want := role != domain.RoleUser || userID == "creator"
			assert.Equal(t, want, CanAccess(user, ticket), "role=%s user=%s", role, userID)
		}
	}
}

func TestCanAccessNil(t *testing.T) {
	assert.False(t, CanAccess(nil, &domain.Ticket{}))
	assert.False(t, CanAccess(&domain.User{Role: domain.RoleAdmin}, nil))
}

func TestCanAssign(t *testing.T) {
	assert.False(t, CanAssign(&domain.User{Role: domain.RoleUser}))
	assert.True(t, CanAssign(&domain.User{Role: domain.RoleSupportAgent}))
	assert.True(t, CanAssign(&domain.User{Role: domain.RoleAdmin}))
	assert.False(t, CanAssign(nil))
}

func TestCanRate(t *testing.T) {
	for _, role := range allRoles {
		for _, status := range allStatuses {
			ticket := &domain.Ticket{CreatorID: "creator", Status: status}
			creator := &domain.User{ID: "creator", Role: role}
			other := &domain.User{ID: "other", Role: role}

			finished := status == domain.TicketStatusResolved || status == domain.TicketStatusClosed
			assert.Equal(t, finished, CanRate(creator, ticket), "creator role=%s status=%s", role, status)
			assert.False(t, CanRate(other, ticket), "other role=%s status=%s", role, status)
		}
	}
}

func TestRateDenialReasons(t *testing.T) {
	open := &domain.Ticket{CreatorID: "u1", Status: domain.TicketStatusOpen}
	resolved := &domain.Ticket{CreatorID: "u1", Status: domain.TicketStatusResolved}

	assert.Equal(t, DenyNotCreator, RateDenial(&domain.User{ID: "u2"}, resolved))
	assert.Equal(t, DenyNotDone, RateDenial(&domain.User{ID: "u1"}, open))
	assert.Empty(t, RateDenial(&domain.User{ID: "u1"}, resolved))
}

func TestAdminOnlyActions(t *testing.T) {
	for _, role := range allRoles {
		user := &domain.User{Role: role}
		assert.Equal(t, role == domain.RoleAdmin, CanDelete(user), "role=%s", role)
		assert.Equal(t, role == domain.RoleAdmin, CanManageUsers(user), "role=%s", role)
	}
}
