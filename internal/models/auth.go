package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims is the payload of bearer tokens issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	College  string   `json:"college,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the caller holds one of roles.
func (c *JWTClaims) HasRole(roles ...UserRole) bool {
	if c == nil {
		return false
	}
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}
