package models

// Role decides which storage lifecycle applies to a user's results
type Role string

const (
	RoleFree    Role = "free_user"
	RolePremium Role = "premium_user"
)

// UserProfile is the subset of a user's account this system reads
type UserProfile struct {
	ID    string
	Name  string
	Email string
	Role  Role
}

// Premium reports whether the user's results are exempt from archival
func (p *UserProfile) Premium() bool {
	return p.Role == RolePremium
}
