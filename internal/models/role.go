package models

// Role is the authenticated role returned by the identity provider.
type Role string

const (
	RoleMember    Role = "member"
	RoleTherapist Role = "therapist"
	RoleResponder Role = "crisis_responder"
	RoleAdmin     Role = "admin"
)

// CanRespond reports whether the role may accept crisis alerts.
func (r Role) CanRespond() bool {
	return r == RoleResponder || r == RoleTherapist
}
