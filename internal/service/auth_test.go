package service

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stylesync/quota-server-go/internal/auth"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/util"
)

const testSessionSecret = "session-secret-for-tests"

type authFixture struct {
	svc      *AuthService
	users    *mockUserRepo
	sessions *mockSessionRepo
	accounts *memAccountRepo
}

func newAuthFixture(accounts ...model.Account) *authFixture {
	ledger, repo, _ := newTestLedger(nil, accounts...)
	users := &mockUserRepo{}
	sessions := &mockSessionRepo{}
	tokens := auth.NewTokenIssuer("jwt-secret-for-tests-0123456789abcdef", 15*time.Minute)

	svc := NewAuthService(users, sessions, ledger, tokens, testSessionSecret, 720*time.Hour, time.Second)
	svc.hashPassword = cheapHash
	return &authFixture{svc: svc, users: users, sessions: sessions, accounts: repo}
}

func cheapHash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(hash), err
}

func testUser(t *testing.T, id, email, password string) *model.User {
	t.Helper()
	hash, err := cheapHash(password)
	require.NoError(t, err)
	return &model.User{ID: id, Email: email, PasswordHash: hash}
}

func TestAuthService_SignUp(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	f.users.On("FindByEmail", mock.Anything, "new@example.com").Return(nil, nil).Once()
	f.users.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateUserParams) bool {
		return p.Email == "new@example.com" && util.CheckPasswordHash("password123", p.PasswordHash)
	})).Return(&model.User{ID: "u1", Email: "new@example.com"}, nil).Once()
	f.sessions.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateSessionParams) bool {
		return p.UserID == "u1" && len(p.RefreshTokenHash) == 64
	})).Return(&model.Session{ID: "s1"}, nil).Once()

	result, err := f.svc.SignUp(ctx, SignUpInput{
		Email:           "  New@Example.com ",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.AccessToken)
	assert.Len(t, result.RefreshToken, 64)
	assert.Equal(t, model.TierFree, result.Account.Tier)
	assert.Equal(t, int64(5), result.Account.CreditsRemaining)

	claims, err := f.svc.Tokens().Verify(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, result.Account.ID, claims.AccountID)

	f.users.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
}

func TestAuthService_SignUp_Validation(t *testing.T) {
	tests := []struct {
		name     string
		input    SignUpInput
		wantCode apperrors.ErrorCode
	}{
		{"missing email", SignUpInput{Password: "password123", ConfirmPassword: "password123"}, apperrors.ErrCodeMissingRequired},
		{"bad email", SignUpInput{Email: "nope", Password: "password123", ConfirmPassword: "password123"}, apperrors.ErrCodeInvalidInput},
		{"short password", SignUpInput{Email: "a@example.com", Password: "short", ConfirmPassword: "short"}, apperrors.ErrCodeInvalidInput},
		{"mismatch", SignUpInput{Email: "a@example.com", Password: "password123", ConfirmPassword: "password124"}, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			_, err := f.svc.SignUp(context.Background(), tt.input)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
			f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestAuthService_SignUp_Duplicate(t *testing.T) {
	input := SignUpInput{Email: "a@example.com", Password: "password123", ConfirmPassword: "password123"}

	t.Run("found before insert", func(t *testing.T) {
		f := newAuthFixture()
		f.users.On("FindByEmail", mock.Anything, "a@example.com").Return(&model.User{ID: "u1"}, nil).Once()

		_, err := f.svc.SignUp(context.Background(), input)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyExists))
	})

	t.Run("lost the insert race", func(t *testing.T) {
		f := newAuthFixture()
		f.users.On("FindByEmail", mock.Anything, "a@example.com").Return(nil, nil).Once()
		f.users.On("Create", mock.Anything, mock.Anything).Return(nil, &pq.Error{Code: "23505"}).Once()

		_, err := f.svc.SignUp(context.Background(), input)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyExists))
	})
}

func TestAuthService_SignIn(t *testing.T) {
	ctx := context.Background()
	existing := freeAccount("a1")
	existing.UserID = "u1"

	t.Run("valid credentials", func(t *testing.T) {
		f := newAuthFixture(existing)
		user := testUser(t, "u1", "a@example.com", "password123")
		f.users.On("FindByEmail", mock.Anything, "a@example.com").Return(user, nil).Once()
		f.users.On("UpdateLastLogin", mock.Anything, "u1").Return(nil).Once()
		f.sessions.On("Create", mock.Anything, mock.Anything).Return(&model.Session{ID: "s1"}, nil).Once()

		result, err := f.svc.SignIn(ctx, SignInInput{Email: "A@example.com", Password: "password123"})
		require.NoError(t, err)
		assert.Equal(t, "a1", result.Account.ID)
		f.users.AssertExpectations(t)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newAuthFixture(existing)
		user := testUser(t, "u1", "a@example.com", "password123")
		f.users.On("FindByEmail", mock.Anything, "a@example.com").Return(user, nil).Once()

		_, err := f.svc.SignIn(ctx, SignInInput{Email: "a@example.com", Password: "wrong-password"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
		f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newAuthFixture()
		f.users.On("FindByEmail", mock.Anything, "ghost@example.com").Return(nil, nil).Once()

		_, err := f.svc.SignIn(ctx, SignInInput{Email: "ghost@example.com", Password: "password123"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newAuthFixture()
		_, err := f.svc.SignIn(ctx, SignInInput{Email: "a@example.com"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()
	existing := freeAccount("a1")
	existing.UserID = "u1"

	t.Run("rotates the refresh token", func(t *testing.T) {
		f := newAuthFixture(existing)
		oldToken := "old-refresh-token"
		f.sessions.On("FindByTokenHash", mock.Anything, util.HmacSHA256(testSessionSecret, oldToken)).
			Return(&model.Session{ID: "s1", UserID: "u1"}, nil).Once()
		f.users.On("FindByID", mock.Anything, "u1").Return(&model.User{ID: "u1", Email: "a@example.com"}, nil).Once()
		f.sessions.On("Rotate", mock.Anything, "s1", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil).Once()

		result, err := f.svc.Refresh(ctx, oldToken)
		require.NoError(t, err)
		assert.NotEqual(t, oldToken, result.RefreshToken)
		assert.Equal(t, "a1", result.Account.ID)
		f.sessions.AssertExpectations(t)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newAuthFixture()
		f.sessions.On("FindByTokenHash", mock.Anything, mock.Anything).Return(nil, nil).Once()

		_, err := f.svc.Refresh(ctx, "nope")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("missing token", func(t *testing.T) {
		f := newAuthFixture()
		_, err := f.svc.Refresh(ctx, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
	})
}

func TestAuthService_SignOut(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the session", func(t *testing.T) {
		f := newAuthFixture()
		f.sessions.On("FindByTokenHash", mock.Anything, util.HmacSHA256(testSessionSecret, "tok")).
			Return(&model.Session{ID: "s1", UserID: "u1"}, nil).Once()
		f.sessions.On("Delete", mock.Anything, "s1").Return(nil).Once()

		require.NoError(t, f.svc.SignOut(ctx, "tok"))
		f.sessions.AssertExpectations(t)
	})

	t.Run("unknown token is fine", func(t *testing.T) {
		f := newAuthFixture()
		f.sessions.On("FindByTokenHash", mock.Anything, mock.Anything).Return(nil, nil).Once()

		require.NoError(t, f.svc.SignOut(ctx, "tok"))
		f.sessions.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestAuthService_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	valid := UpdatePasswordInput{CurrentPassword: "old-password", NewPassword: "new-password", ConfirmPassword: "new-password"}

	t.Run("updates and revokes sessions", func(t *testing.T) {
		f := newAuthFixture()
		f.users.On("FindByID", mock.Anything, "u1").Return(testUser(t, "u1", "a@example.com", "old-password"), nil).Once()
		f.users.On("UpdatePassword", mock.Anything, "u1", mock.MatchedBy(func(hash string) bool {
			return util.CheckPasswordHash("new-password", hash)
		})).Return(nil).Once()
		f.sessions.On("DeleteByUserID", mock.Anything, "u1").Return(int64(2), nil).Once()

		require.NoError(t, f.svc.UpdatePassword(ctx, "u1", valid))
		f.users.AssertExpectations(t)
		f.sessions.AssertExpectations(t)
	})

	t.Run("wrong current password", func(t *testing.T) {
		f := newAuthFixture()
		f.users.On("FindByID", mock.Anything, "u1").Return(testUser(t, "u1", "a@example.com", "old-password"), nil).Once()

		err := f.svc.UpdatePassword(ctx, "u1", UpdatePasswordInput{
			CurrentPassword: "guess-password",
			NewPassword:     "new-password",
			ConfirmPassword: "new-password",
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		f.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		f := newAuthFixture()
		err := f.svc.UpdatePassword(ctx, "u1", UpdatePasswordInput{
			CurrentPassword: "old-password",
			NewPassword:     "new-password",
			ConfirmPassword: "other-password",
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("slow hash times out", func(t *testing.T) {
		f := newAuthFixture()
		f.svc.passwordTimeout = 10 * time.Millisecond
		f.svc.hashPassword = func(p string) (string, error) {
			time.Sleep(200 * time.Millisecond)
			return cheapHash(p)
		}
		f.users.On("FindByID", mock.Anything, "u1").Return(testUser(t, "u1", "a@example.com", "old-password"), nil).Once()

		err := f.svc.UpdatePassword(ctx, "u1", valid)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTimeout))
		f.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthService_GetSession(t *testing.T) {
	existing := freeAccount("a1")
	existing.UserID = "u1"
	f := newAuthFixture(existing)
	f.users.On("FindByID", mock.Anything, "u1").Return(&model.User{ID: "u1"}, nil)

	info, err := f.svc.GetSession(context.Background(), &auth.Claims{UserID: "u1", AccountID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", info.Account.ID)

	_, err = f.svc.GetSession(context.Background(), &auth.Claims{UserID: "u1", AccountID: "missing"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}
