package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleDoctor    = "DOCTOR"
	RoleReception = "RECEPTION"
	RoleAdmin     = "ADMIN"
)

// Claims do token emitido pelo sistema de login da clínica.
// DoctorID vem preenchido para médicos (mesmo id usado na agenda).
type Claims struct {
	jwt.RegisteredClaims
	UserID   string  `json:"user_id"`
	Role     string  `json:"role"`
	DoctorID *string `json:"doctor_id,omitempty"`
}

// BuildJWT assina um token HS256. Usado em testes e pelo comando `token` (dev).
func BuildJWT(secret []byte, userID, role string, doctorID *string, exp time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
		},
		UserID:   userID,
		Role:     role,
		DoctorID: doctorID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseJWT(secret []byte, tokenString string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if !ValidRole(c.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", jwt.ErrTokenInvalidClaims, c.Role)
	}
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	return c, nil
}

func ValidRole(r string) bool {
	switch r {
	case RoleDoctor, RoleReception, RoleAdmin:
		return true
	}
	return false
}
