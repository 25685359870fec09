package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	store         *Store
	secret        []byte
	ttl           time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

type Option func(*Service)

func WithTokenTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithRefreshWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store *Store, secret string, opts ...Option) *Service {
	s := &Service{
		store:         store,
		secret:        []byte(secret),
		ttl:           time.Hour,
		refreshWindow: 7 * 24 * time.Hour,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRefreshExpired     = errors.New("refresh window elapsed")
)

func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, string, error) {
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Signup creates a member account awaiting approval.
func (s *Service) Signup(ctx context.Context, email, password string) (*User, error) {
	return s.store.Create(ctx, email, password, RoleMember, StatusPending)
}

type Claims struct {
	UserID int64  `json:"uid"`
	Role   Role   `json:"role"`
	Status Status `json:"status"`
	jwt.RegisteredClaims
}

func (s *Service) IssueToken(user *User) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		Status: user.Status,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *Service) keyFunc(t *jwt.Token) (interface{}, error) {
	return s.secret, nil
}

// ParseToken verifies the signature and the expiry.
func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh issues a new token for a correctly signed one, expired or not, as
// long as it expired less than the refresh window ago. The account is
// re-read so role and status changes reach the new token.
func (s *Service) Refresh(ctx context.Context, tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !token.Valid || claims.ExpiresAt == nil {
		return "", ErrInvalidToken
	}
	if s.now().Sub(claims.ExpiresAt.Time) > s.refreshWindow {
		return "", ErrRefreshExpired
	}
	user, err := s.store.GetByID(ctx, claims.UserID)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	return s.IssueToken(user)
}
