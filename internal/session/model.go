package session

import "agentdash/internal/isotime"

type Role string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

type User struct {
	ID        int64        `json:"id"`
	Email     string       `json:"email"`
	Role      Role         `json:"role"`
	Status    Status       `json:"status"`
	CreatedAt isotime.Time `json:"created_at"`
}

// Demo reports whether the account may only run tasks in the restricted
// pending-approval capacity.
func (u User) Demo() bool {
	return u.Status == StatusPending
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Status      Status `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
