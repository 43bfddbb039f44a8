// Package team implements organization membership and the role gate that
// protects it.
package team

import "strings"

// Role is a team member's role within an organization.
type Role string

const (
	Owner  Role = "OWNER"
	Admin  Role = "ADMIN"
	Member Role = "MEMBER"
	Viewer Role = "VIEWER"
)

// ParseRole returns the Role named by s and whether it is recognized.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case Owner, Admin, Member, Viewer:
		return r, true
	}
	return "", false
}

// CanManage reports whether the role may change other members.
func (r Role) CanManage() bool {
	return r == Owner || r == Admin
}

// IsProtected reports whether members holding the role cannot be removed
// or have their role changed.
func (r Role) IsProtected() bool {
	return r == Owner
}

// Assignable reports whether the role can be granted by invitation or role
// change. Ownership is never handed out.
func (r Role) Assignable() bool {
	return r == Admin || r == Member || r == Viewer
}

func (r Role) String() string {
	return string(r)
}
