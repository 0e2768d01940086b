package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tradehub/backend/internal/domain"
)

// UserDirectory is the slice of the service layer the auth manager needs.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	Signup(ctx context.Context, req domain.SignupRequest, passwordHash string) (domain.User, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserDirectory
}

type hubCustomClaims struct {
	jwtlib.RegisteredClaims
	Role       string `json:"role"`
	RetailerID string `json:"retailer_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserDirectory) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	return a.issueToken(user)
}

func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.LoginResponse, error) {
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 8 {
		return domain.LoginResponse{}, fmt.Errorf("password must be at least 8 characters")
	}
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("failed to hash password")
	}

	user, err := a.users.Signup(ctx, req, passwordHash)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return a.issueToken(user)
}

func (a *AuthManager) issueToken(user domain.User) (domain.LoginResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		RetailerID:  user.RetailerID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &hubCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Email: sub, Role: claims.Role, RetailerID: claims.RetailerID}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := hubCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tradehub",
		},
		Role:       user.Role,
		RetailerID: user.RetailerID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
