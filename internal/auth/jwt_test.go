package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret-min-32-chars-long!!!!")

func TestBuildAndParseJWT(t *testing.T) {
	doctorID := "dr-1"
	tok, err := BuildJWT(secret, "user-123", RoleDoctor, &doctorID, time.Hour)
	if err != nil {
		t.Fatalf("BuildJWT: %v", err)
	}
	claims, err := ParseJWT(secret, tok)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != "user-123" || claims.Role != RoleDoctor || claims.DoctorID == nil || *claims.DoctorID != doctorID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestParseJWT_Rejects(t *testing.T) {
	expired, _ := BuildJWT(secret, "u", RoleReception, nil, -time.Minute)
	if _, err := ParseJWT(secret, expired); err == nil {
		t.Error("expired token accepted")
	}

	other, _ := BuildJWT([]byte("another-secret-min-32-chars-long!"), "u", RoleReception, nil, time.Hour)
	if _, err := ParseJWT(secret, other); err == nil {
		t.Error("token signed with another secret accepted")
	}

	badRole, _ := BuildJWT(secret, "u", "SUPER_ADMIN", nil, time.Hour)
	if _, err := ParseJWT(secret, badRole); err == nil {
		t.Error("unknown role accepted")
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u", Role: RoleAdmin})
	raw, _ := noExp.SignedString(secret)
	if _, err := ParseJWT(secret, raw); err == nil {
		t.Error("token without exp accepted")
	}
}

func TestDoctorIDFrom(t *testing.T) {
	id := "dr-9"
	ctx := WithClaims(context.Background(), &Claims{UserID: "u", Role: RoleDoctor, DoctorID: &id})
	if got := DoctorIDFrom(ctx); got == nil || *got != id {
		t.Fatalf("doctor: got %v", got)
	}
	ctx = WithClaims(context.Background(), &Claims{UserID: "u", Role: RoleReception, DoctorID: &id})
	if DoctorIDFrom(ctx) != nil {
		t.Fatal("reception should not carry a doctor id")
	}
	if DoctorIDFrom(context.Background()) != nil || ClaimsFrom(context.Background()) != nil {
		t.Fatal("empty context")
	}
}
