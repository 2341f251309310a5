package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"qrhub/internal/common"
	"qrhub/internal/config"
	"qrhub/internal/logging"
	"qrhub/internal/models"
	"qrhub/internal/repositories"
)

// bcrypt ignores input past this many bytes; longer passwords are refused
// rather than silently truncated.
const maxPasswordBytes = 72

// tokenPrecision is the resolution of the iat and exp claims. Tokens are
// valid for exactly the configured TTL from their issue time at this
// resolution.
const tokenPrecision = time.Millisecond

func init() {
	jwt.TimePrecision = tokenPrecision
}

// Claims is the JWT payload issued on sign-in.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthService handles registration, sign-in and token validation.
type AuthService struct {
	accounts   repositories.AccountRepository
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	now        func() time.Time
	log        logging.Logger
	parser     *jwt.Parser
	dummyHash  []byte
}

// AuthOption customizes an AuthService.
type AuthOption func(*AuthService)

// WithClock replaces time.Now for issuing and checking tokens.
func WithClock(now func() time.Time) AuthOption {
	return func(s *AuthService) { s.now = now }
}

// WithAuthLogger sets the logger used for account events.
func WithAuthLogger(log logging.Logger) AuthOption {
	return func(s *AuthService) { s.log = log }
}

// NewAuthService creates a new AuthService.
func NewAuthService(accounts repositories.AccountRepository, cfg config.AuthConfig, opts ...AuthOption) *AuthService {
	s := &AuthService{
		accounts:   accounts,
		jwtSecret:  []byte(cfg.JWTSecret),
		tokenTTL:   cfg.TokenTTL,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
		log:        logging.Nop(),
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	for _, opt := range opts {
		opt(s)
	}

	// Expiry is checked in ValidateToken against the millisecond exp.
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	// Compared against when the username is unknown so both failure paths
	// cost one bcrypt comparison.
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("qrhub-placeholder"), s.bcryptCost)
	return s
}

// Register creates an account and returns its ID. Duplicate usernames or
// emails are reported by the store as common.ErrDuplicate.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (uint, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return 0, fmt.Errorf("%w: username, email and password are required", common.ErrValidation)
	}
	if len(password) > maxPasswordBytes {
		return 0, fmt.Errorf("%w: password longer than %d bytes", common.ErrValidation, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return 0, fmt.Errorf("register %s: %w", username, err)
	}
	s.log.Info(ctx, "account registered", "account_id", account.ID, "username", username)
	return account.ID, nil
}

// SignIn checks the credentials and issues a token valid for the configured
// TTL. Unknown usernames and wrong passwords both yield common.ErrAuth.
func (s *AuthService) SignIn(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: username and password are required", common.ErrValidation)
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, common.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return "", common.ErrAuth
	case err != nil:
		return "", fmt.Errorf("sign in %s: %w", username, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", common.ErrAuth
	}

	now := s.now().Truncate(tokenPrecision)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies the signature and expiry of tokenString and returns
// the username it was issued to.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	switch {
	case err != nil:
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	case !token.Valid || claims.Username == "" || claims.ExpiresAt == nil:
		return "", common.ErrInvalidToken
	}
	// exp travels as a float; rounding undoes the sub-microsecond error.
	if !s.now().Before(claims.ExpiresAt.Round(tokenPrecision)) {
		return "", common.ErrExpiredToken
	}
	return claims.Username, nil
}
