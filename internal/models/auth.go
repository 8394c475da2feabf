package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the identity token payload issued by the session provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	FullName string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the explicit caller identity used by services.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Role: c.Role}
}
