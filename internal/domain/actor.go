package domain

type Role string

const (
	RoleClient   Role = "client"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// Actor is whoever is asking for a change. It is always passed explicitly;
// nothing in the core reads an ambient session.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}

// DisplayName falls back to the actor ID when no name was supplied.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// IsParty reports whether the actor is the job's participant for its role.
func (a Actor) IsParty(job Job) bool {
	switch a.Role {
	case RoleClient:
		return a.ID != "" && a.ID == job.ClientID
	case RoleOperator:
		return a.ID != "" && a.ID == job.OperatorID
	}
	return false
}
