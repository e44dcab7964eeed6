package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the access token payload. For payers UserID is the payer ID that plans
// and payments are keyed by.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// ActsFor reports whether the caller may read or pay on behalf of payerID.
func (c *JWTClaims) ActsFor(payerID string) bool {
	if c == nil {
		return false
	}
	return c.Role.IsStaff() || c.UserID == payerID
}
