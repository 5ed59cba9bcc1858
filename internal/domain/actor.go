package domain

type Role string

const (
	RoleStudent        Role = "STUDENT"
	RoleCafeteriaStaff Role = "CAFETERIA_STAFF"
	RoleAdmin          Role = "ADMIN"
)

// SystemActor performs transitions driven by inbound integration events.
var SystemActor = Actor{UserAgent: "system"}

// Actor is whoever triggers a state change, along with the request context
// recorded in the audit log.
type Actor struct {
	UserID    int64
	Role      Role
	IP        string
	UserAgent string
}

func (a Actor) IsStaff() bool {
	return a.Role == RoleCafeteriaStaff || a.Role == RoleAdmin
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCafeteriaStaff, RoleAdmin:
		return true
	}

	return false
}
