package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload issued by the school's identity
// service. This API never issues tokens itself; it only verifies them.
type JWTClaims struct {
	UserID       string `json:"user_id"`
	Role         Role   `json:"role"`
	FullName     string `json:"full_name"`
	DepartmentID string `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the explicit actor identity passed
// to service operations.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Role: c.Role, DepartmentID: c.DepartmentID}
}
