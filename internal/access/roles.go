// Package access holds the static role to permission matrix that governs who
// may act on a feeder.
package access

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the management role a user holds on a single feeder.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleManager   Role = "manager"
	RoleScheduler Role = "scheduler"
	RoleViewer    Role = "viewer"
)

// Permission names an action guarded by the matrix.
type Permission string

const (
	PermissionView          Permission = "view"
	PermissionWriteSchedule Permission = "schedule.write"
	PermissionReleaseFeed   Permission = "feed.release"
	PermissionInvite        Permission = "invite"
	PermissionDeleteFeeder  Permission = "feeder.delete"
)

// ErrUnknownRole is returned when a role name is not part of the matrix.
var ErrUnknownRole = errors.New("access: unknown role")

var matrix = map[Role]map[Permission]bool{
	RoleOwner: {
		PermissionView:          true,
		PermissionWriteSchedule: true,
		PermissionReleaseFeed:   true,
		PermissionInvite:        true,
		PermissionDeleteFeeder:  true,
	},
	RoleManager: {
		PermissionView:          true,
		PermissionWriteSchedule: true,
		PermissionReleaseFeed:   true,
		PermissionInvite:        true,
	},
	RoleScheduler: {
		PermissionView:          true,
		PermissionWriteSchedule: true,
	},
	RoleViewer: {
		PermissionView: true,
	},
}

// rank orders roles from most to least privileged.
var rank = map[Role]int{
	RoleOwner:     4,
	RoleManager:   3,
	RoleScheduler: 2,
	RoleViewer:    1,
}

// ParseRole converts a wire value into a Role.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := matrix[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
	}
	return role, nil
}

// Valid reports whether the role is part of the matrix.
func (r Role) Valid() bool {
	_, ok := matrix[r]
	return ok
}

// Allows reports whether the role grants the permission. Unknown roles grant nothing.
func Allows(role Role, permission Permission) bool {
	return matrix[role][permission]
}

// CanGrant reports whether a holder of actor may invite someone as target.
// Roles may only hand out roles strictly below their own, so ownership is
// never transferable through an invitation.
func CanGrant(actor, target Role) bool {
	if !Allows(actor, PermissionInvite) || !target.Valid() {
		return false
	}
	return rank[target] < rank[actor]
}

// Outranks reports whether a is strictly more privileged than b.
func Outranks(a, b Role) bool {
	return rank[a] > rank[b]
}

// Permissions lists the permissions granted to role in a stable order.
func Permissions(role Role) []Permission {
	ordered := []Permission{
		PermissionView,
		PermissionWriteSchedule,
		PermissionReleaseFeed,
		PermissionInvite,
		PermissionDeleteFeeder,
	}
	granted := make([]Permission, 0, len(ordered))
	for _, p := range ordered {
		if Allows(role, p) {
			granted = append(granted, p)
		}
	}
	return granted
}
