package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/store"
)

type userDirectoryStub struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (s *userDirectoryStub) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *userDirectoryStub) Signup(_ context.Context, req domain.SignupRequest, passwordHash string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.User)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user := domain.User{
		Email:        email,
		Name:         req.Name,
		Role:         domain.RoleRetailer,
		RetailerID:   "ret-stub",
		PasswordHash: passwordHash,
	}
	s.users[email] = user
	return user, nil
}

func TestLoginRoundTripCarriesRoleAndRetailer(t *testing.T) {
	hash, err := hashPassword("secret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	dir := &userDirectoryStub{users: map[string]domain.User{
		"owner@shop.local": {
			Email:        "owner@shop.local",
			Role:         domain.RoleRetailer,
			RetailerID:   "ret-1",
			PasswordHash: hash,
		},
	}}

	manager := NewAuthManager("test-secret", time.Hour, dir)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Email:    "Owner@Shop.Local",
		Password: "secret-pass",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Email != "owner@shop.local" || actor.Role != domain.RoleRetailer || actor.RetailerID != "ret-1" {
		t.Fatalf("unexpected actor from token: %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := hashPassword("secret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	dir := &userDirectoryStub{users: map[string]domain.User{
		"owner@shop.local": {Email: "owner@shop.local", Role: domain.RoleRetailer, PasswordHash: hash},
	}}

	manager := NewAuthManager("test-secret", time.Hour, dir)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Email:    "owner@shop.local",
		Password: "not-it",
	}); err == nil {
		t.Fatalf("expected login to fail with wrong password")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Email:    "nobody@shop.local",
		Password: "secret-pass",
	}); err == nil {
		t.Fatalf("expected login to fail for unknown user")
	}
}

func TestSignupHashesPassword(t *testing.T) {
	dir := &userDirectoryStub{}
	manager := NewAuthManager("test-secret", time.Hour, dir)

	if _, err := manager.Signup(context.Background(), domain.SignupRequest{
		Email:    "staff@shop.local",
		Password: "short",
	}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}

	resp, err := manager.Signup(context.Background(), domain.SignupRequest{
		Email:    "staff@shop.local",
		Name:     "Staff",
		Password: "long-enough-pass",
	})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected signup to issue a token")
	}

	stored := dir.users["staff@shop.local"]
	if stored.PasswordHash == "long-enough-pass" {
		t.Fatalf("expected password to be stored as hash")
	}
	if !strings.HasPrefix(stored.PasswordHash, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", stored.PasswordHash)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userDirectoryStub{})
	if _, err := manager.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}

	// Tokens signed under a different secret must not validate.
	other := NewAuthManager("other-secret", time.Hour, &userDirectoryStub{})
	resp, err := other.issueToken(domain.User{Email: "x@y.local", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected cross-secret token to be rejected")
	}
}
