package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestService(t *testing.T, ttl time.Duration) *AuthService {
	t.Helper()
	svc, err := NewAuthService("test-secret", ttl)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

func TestNewAuthServiceRequiresSecret(t *testing.T) {
	if _, err := NewAuthService("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService(t, time.Hour)

	identity := Identity{
		UserID: 42,
		Name:   "Ada",
		Phone:  "081234567890",
		Email:  "ada@example.com",
		Role:   "applicant",
	}

	token, err := svc.GenerateToken(identity)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != identity.UserID {
		t.Fatalf("expected user id %d, got %d", identity.UserID, claims.UserID)
	}
	if claims.Name != identity.Name || claims.Phone != identity.Phone || claims.Email != identity.Email {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Role != "applicant" {
		t.Fatalf("expected role applicant, got %q", claims.Role)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Fatal("expected future expiry")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := newTestService(t, time.Hour)

	now := time.Now().Add(-2 * time.Hour)
	claims := TokenClaims{
		UserID: 7,
		Role:   "applicant",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := newTestService(t, time.Hour)
	other := newTestService(t, time.Hour)
	other.secret = []byte("another-secret")

	token, err := other.GenerateToken(Identity{UserID: 1, Role: "admin"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestValidateTokenRejectsWrongAlgorithm(t *testing.T) {
	svc := newTestService(t, time.Hour)

	// alg=none 的令牌必须被拒绝。
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, TokenClaims{UserID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := svc.ValidateToken(unsigned); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestValidateTokenRejectsEmpty(t *testing.T) {
	svc := newTestService(t, time.Hour)
	if _, err := svc.ValidateToken(""); err == nil {
		t.Fatal("expected empty token to be rejected")
	}
}
