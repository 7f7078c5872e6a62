// Package policy decides who may do what with a ticket. Every function is pure
// and total: a nil user or ticket is simply denied.
package policy

import "github.com/spec-kit/support-desk/internal/domain"

// Rate denial reasons returned by RateDenial.
const (
	DenyNotCreator = "only the ticket creator can rate"
	DenyNotDone    = "only resolved or closed tickets can be rated"
)

// CanAccess reports whether user may view or act on ticket.
func CanAccess(user *domain.User, ticket *domain.Ticket) bool {
	if user == nil || ticket == nil {
		return false
	}
	if user.Role.IsStaff() {
		return true
	}
	return user.ID == ticket.CreatorID
}

// CanAssign reports whether user may assign tickets. The check is global, not per ticket.
func CanAssign(user *domain.User) bool {
	return user != nil && user.Role.IsStaff()
}

// CanRate reports whether user may rate ticket.
func CanRate(user *domain.User, ticket *domain.Ticket) bool {
	return RateDenial(user, ticket) == ""
}

// RateDenial returns why user may not rate ticket, or "" when rating is allowed.
func RateDenial(user *domain.User, ticket *domain.Ticket) string {
	if user == nil || ticket == nil || user.ID != ticket.CreatorID {
		return DenyNotCreator
	}
	if !ticket.Status.Finished() {
		return DenyNotDone
	}
	return ""
}

// CanDelete reports whether user may delete tickets.
func CanDelete(user *domain.User) bool {
	return user != nil && user.Role == domain.RoleAdmin
}

// CanManageUsers reports whether user may administer accounts.
func CanManageUsers(user *domain.User) bool {
	return user != nil && user.Role == domain.RoleAdmin
}
