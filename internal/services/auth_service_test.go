package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"qrhub/internal/common"
	"qrhub/internal/config"
	"qrhub/internal/models"
	"qrhub/internal/repositories"
	"qrhub/internal/services"
)

// MockAccountRepository is a mock implementation of repositories.AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

const testSecret = "test_jwt_secret"

var testAuthConfig = config.AuthConfig{
	JWTSecret:  testSecret,
	TokenTTL:   24 * time.Hour,
	BcryptCost: bcrypt.MinCost,
}

// fakeClock is a settable clock for token lifetime tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAuthService_Register(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	authService := services.NewAuthService(mockRepo, testAuthConfig)

	mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(a *models.Account) bool {
		return a.Username == "alice" && a.Email == "a@x.io" &&
			bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte("pw")) == nil
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Account).ID = 42
	}).Return(nil).Once()

	id, err := authService.Register(context.Background(), "  alice ", "a@x.io", "pw")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
	mockRepo.AssertExpectations(t)
}

func TestAuthService_Register_SaltsEachHash(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	authService := services.NewAuthService(mockRepo, testAuthConfig)

	var hashes []string
	mockRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Account")).Run(func(args mock.Arguments) {
		hashes = append(hashes, args.Get(1).(*models.Account).PasswordHash)
	}).Return(nil).Twice()

	_, err := authService.Register(context.Background(), "a", "a@x.io", "same")
	require.NoError(t, err)
	_, err = authService.Register(context.Background(), "b", "b@x.io", "same")
	require.NoError(t, err)

	require.Len(t, hashes, 2)
	assert.NotEqual(t, hashes[0], hashes[1])
	assert.NotContains(t, hashes[0], "same")
}

func TestAuthService_Register_Validation(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	authService := services.NewAuthService(mockRepo, testAuthConfig)

	cases := []struct{ name, username, email, password string }{
		{"empty username", "", "a@x.io", "pw"},
		{"blank username", "   ", "a@x.io", "pw"},
		{"empty email", "alice", "", "pw"},
		{"empty password", "alice", "a@x.io", ""},
		{"password too long", "alice", "a@x.io", strings.Repeat("p", 73)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := authService.Register(context.Background(), tc.username, tc.email, tc.password)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_Register_StorageErrors(t *testing.T) {
	for _, sentinel := range []error{common.ErrDuplicate, common.ErrStorage} {
		mockRepo := new(MockAccountRepository)
		authService := services.NewAuthService(mockRepo, testAuthConfig)
		mockRepo.On("Create", mock.Anything, mock.Anything).Return(sentinel).Once()

		_, err := authService.Register(context.Background(), "alice", "a@x.io", "pw")
		assert.ErrorIs(t, err, sentinel)
	}
}

func TestAuthService_SignIn(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	authService := services.NewAuthService(mockRepo, testAuthConfig, services.WithClock(clock.Now))

	account := &models.Account{ID: 1, Username: "alice", PasswordHash: hashed(t, "pw")}
	mockRepo.On("GetByUsername", mock.Anything, "alice").Return(account, nil)
	mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, common.ErrNotFound)

	token, err := authService.SignIn(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims := &services.Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithTimeFunc(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, clock.t.Add(24*time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, clock.t.Unix(), claims.IssuedAt.Unix())

	_, err = authService.SignIn(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrAuth)

	_, err = authService.SignIn(context.Background(), "ghost", "pw")
	assert.ErrorIs(t, err, common.ErrAuth)

	_, err = authService.SignIn(context.Background(), "", "pw")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAuthService_SignIn_StorageFailure(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	authService := services.NewAuthService(mockRepo, testAuthConfig)
	mockRepo.On("GetByUsername", mock.Anything, "alice").Return(nil, common.ErrStorage)

	_, err := authService.SignIn(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.False(t, errors.Is(err, common.ErrAuth))
}

func TestAuthService_TokenLifetime(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	issued := time.Unix(1_700_000_000, 0)
	clock := &fakeClock{t: issued}
	authService := services.NewAuthService(mockRepo, testAuthConfig, services.WithClock(clock.Now))
	mockRepo.On("GetByUsername", mock.Anything, "alice").
		Return(&models.Account{Username: "alice", PasswordHash: hashed(t, "pw")}, nil)

	token, err := authService.SignIn(context.Background(), "alice", "pw")
	require.NoError(t, err)

	for _, offset := range []time.Duration{0, time.Hour, 24*time.Hour - time.Second} {
		clock.t = issued.Add(offset)
		username, err := authService.ValidateToken(token)
		require.NoError(t, err, "offset %s", offset)
		assert.Equal(t, "alice", username)
	}

	for _, offset := range []time.Duration{24 * time.Hour, 25 * time.Hour} {
		clock.t = issued.Add(offset)
		_, err := authService.ValidateToken(token)
		assert.ErrorIs(t, err, common.ErrExpiredToken, "offset %s", offset)
	}
}

func TestAuthService_TokenLifetime_FractionalIssueTime(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	issued := time.Unix(1_700_000_000, 900_000_000)
	clock := &fakeClock{t: issued}
	authService := services.NewAuthService(mockRepo, testAuthConfig, services.WithClock(clock.Now))
	mockRepo.On("GetByUsername", mock.Anything, "alice").
		Return(&models.Account{Username: "alice", PasswordHash: hashed(t, "pw")}, nil)

	token, err := authService.SignIn(context.Background(), "alice", "pw")
	require.NoError(t, err)

	for _, offset := range []time.Duration{24*time.Hour - 500*time.Millisecond, 24*time.Hour - time.Millisecond} {
		clock.t = issued.Add(offset)
		_, err := authService.ValidateToken(token)
		require.NoError(t, err, "offset %s", offset)
	}

	clock.t = issued.Add(24 * time.Hour)
	_, err = authService.ValidateToken(token)
	assert.ErrorIs(t, err, common.ErrExpiredToken)
}

func TestAuthService_SignIn_TrimsUsername(t *testing.T) {
	accounts := repositories.NewMemoryAccountRepository()
	authService := services.NewAuthService(accounts, testAuthConfig)
	ctx := context.Background()

	_, err := authService.Register(ctx, " bob ", "bob@x.io", "pw")
	require.NoError(t, err)

	for _, username := range []string{" bob ", "bob", "bob\t"} {
		token, err := authService.SignIn(ctx, username, "pw")
		require.NoError(t, err, "%q", username)
		got, err := authService.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "bob", got)
	}

	_, err = authService.SignIn(ctx, "   ", "pw")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAuthService_ValidateToken_Rejects(t *testing.T) {
	mockRepo := new(MockAccountRepository)
	now := time.Unix(1_700_000_000, 0)
	authService := services.NewAuthService(mockRepo, testAuthConfig, services.WithClock(func() time.Time { return now }))

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := services.Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}
	expired := services.Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour))},
	}

	good := sign(jwt.SigningMethodHS256, []byte(testSecret), valid)
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	cases := map[string]string{
		"garbage":            "not-a-token",
		"empty":              "",
		"wrong secret":       sign(jwt.SigningMethodHS256, []byte("other"), valid),
		"other algorithm":    sign(jwt.SigningMethodHS512, []byte(testSecret), valid),
		"unsigned":           sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid),
		"tampered signature": tampered,
		"missing exp":        sign(jwt.SigningMethodHS256, []byte(testSecret), services.Claims{Username: "alice"}),
		"missing username":   sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}),
		"expired wrong key":  sign(jwt.SigningMethodHS256, []byte("other"), expired),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := authService.ValidateToken(token)
			assert.ErrorIs(t, err, common.ErrInvalidToken)
		})
	}

	_, err := authService.ValidateToken(sign(jwt.SigningMethodHS256, []byte(testSecret), expired))
	assert.ErrorIs(t, err, common.ErrExpiredToken)

	username, err := authService.ValidateToken(good)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}
