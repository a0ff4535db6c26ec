// Package domain defines the chat and member model shared across the bot.
package domain

// Chat member roles as reported by Telegram.
const (
	RoleMember        = "member"
	RoleAdministrator = "administrator"
	RoleCreator       = "creator"
	RoleRestricted    = "restricted"
	RoleLeft          = "left"
	RoleKicked        = "kicked"
)

// activityRoleTransitions maps a member's current role to the role recorded
// when fresh activity arrives. Roles absent from the table are unchanged.
var activityRoleTransitions = map[string]string{
	RoleLeft:   RoleMember,
	RoleKicked: RoleMember,
}

// RolesResetByActivity returns the roles that revert to member the moment new
// activity is recorded for the user (rejoin-by-activity).
func RolesResetByActivity() []string {
	return []string{RoleLeft, RoleKicked}
}

// RoleAfterActivity resolves the role a member holds after recording activity.
func RoleAfterActivity(current string) string {
	if next, ok := activityRoleTransitions[current]; ok {
		return next
	}
	return current
}

// IsProtectedRole reports whether the role permanently shields a member from
// warning and removal.
func IsProtectedRole(role string) bool {
	return role == RoleAdministrator || role == RoleCreator
}

// IsKnownRole reports whether the role is one Telegram can deliver.
func IsKnownRole(role string) bool {
	switch role {
	case RoleMember, RoleAdministrator, RoleCreator, RoleRestricted, RoleLeft, RoleKicked:
		return true
	default:
		return false
	}
}
