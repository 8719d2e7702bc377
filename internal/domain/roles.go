// Package domain defines shared domain constants and types.
package domain

const (
	// RoleOwner represents the bot owner configured at startup.
	RoleOwner = "owner"
	// RoleAdmin represents a platform administrator of the current server.
	RoleAdmin = "admin"
	// RoleAuthorized represents a user on the global authorization list.
	RoleAuthorized = "authorized"
	// RoleUser represents a standard user with no elevated privileges.
	RoleUser = "user"
)

// Role priorities; higher outranks lower.
const (
	RolePriorityUser = iota + 1
	RolePriorityAuthorized
	RolePriorityAdmin
	RolePriorityOwner
)

// RolePriority returns the rank of role, or 0 for unknown roles.
func RolePriority(role string) int {
	switch role {
	case RoleOwner:
		return RolePriorityOwner
	case RoleAdmin:
		return RolePriorityAdmin
	case RoleAuthorized:
		return RolePriorityAuthorized
	case RoleUser:
		return RolePriorityUser
	default:
		return 0
	}
}

// AtLeast reports whether role ranks at or above minimum.
func AtLeast(role, minimum string) bool {
	got := RolePriority(role)
	return got > 0 && got >= RolePriority(minimum)
}
