package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// UserID is the participant identity used for join/leave and read checks.
// OrgID is the clinic/organisation; patients may have none.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
