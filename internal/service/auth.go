package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/auth"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/repository"
	"github.com/stylesync/quota-server-go/internal/util"
)

func invalidCredentials() *apperrors.AppError {
	return apperrors.Unauthorized("Invalid email or password")
}

// AccountProvisioner creates and reads the account behind a user.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, userID, email string) (*model.Account, error)
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
}

var _ AccountProvisioner = (*LedgerService)(nil)

type SignUpInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdatePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// AuthResult is returned by every flow that opens or refreshes a session.
type AuthResult struct {
	AccessToken           string         `json:"accessToken"`
	AccessTokenExpiresAt  time.Time      `json:"accessTokenExpiresAt"`
	RefreshToken          string         `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time      `json:"refreshTokenExpiresAt"`
	User                  *model.User    `json:"user"`
	Account               *model.Account `json:"account"`
}

type SessionInfo struct {
	User    *model.User    `json:"user"`
	Account *model.Account `json:"account"`
}

type AuthService struct {
	userRepo        repository.UserRepository
	sessionRepo     repository.SessionRepository
	accounts        AccountProvisioner
	tokens          *auth.TokenIssuer
	sessionSecret   string
	refreshTTL      time.Duration
	passwordTimeout time.Duration
	hashPassword    func(string) (string, error)
	now             func() time.Time
}

func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	accounts AccountProvisioner,
	tokens *auth.TokenIssuer,
	sessionSecret string,
	refreshTTL time.Duration,
	passwordTimeout time.Duration,
) *AuthService {
	return &AuthService{
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		accounts:        accounts,
		tokens:          tokens,
		sessionSecret:   sessionSecret,
		refreshTTL:      refreshTTL,
		passwordTimeout: passwordTimeout,
		hashPassword:    util.HashPassword,
		now:             time.Now,
	}
}

func (s *AuthService) Tokens() *auth.TokenIssuer {
	return s.tokens
}

func (s *AuthService) SignUp(ctx context.Context, input SignUpInput) (*AuthResult, error) {
	email := util.NormalizeEmail(input.Email)
	if err := validateCredentials(email, input.Password); err != nil {
		return nil, err
	}
	if input.Password != input.ConfirmPassword {
		return nil, apperrors.InvalidInput("confirmPassword", "passwords do not match")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("User")
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to hash password", err)
	}

	user, err := s.userRepo.Create(ctx, model.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("User")
		}
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("userId", user.ID).
		Str("email", util.MaskEmail(email)).
		Msg("user signed up")

	return s.openSession(ctx, user)
}

func (s *AuthService) SignIn(ctx context.Context, input SignInInput) (*AuthResult, error) {
	email := util.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.ValidationError("Email and password are required")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil || !util.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, invalidCredentials()
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("failed to update last login")
	}

	return s.openSession(ctx, user)
}

// SignOut drops the session behind the refresh token. Unknown tokens are
// not an error.
func (s *AuthService) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.MissingRequired("refreshToken")
	}

	session, err := s.sessionRepo.FindByTokenHash(ctx, s.hashRefreshToken(refreshToken))
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return nil
	}

	if err := s.sessionRepo.Delete(ctx, session.ID); err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("userId", session.UserID).Msg("user signed out")
	return nil
}

// Refresh exchanges a refresh token for a new access token and rotates the
// refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, apperrors.MissingRequired("refreshToken")
	}

	session, err := s.sessionRepo.FindByTokenHash(ctx, s.hashRefreshToken(refreshToken))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.InvalidToken("Refresh token is invalid or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.InvalidToken("Refresh token is invalid or expired")
	}

	account, err := s.accounts.EnsureAccount(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	newToken, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiresAt := s.now().Add(s.refreshTTL)
	if err := s.sessionRepo.Rotate(ctx, session.ID, s.hashRefreshToken(newToken), refreshExpiresAt); err != nil {
		return nil, apperrors.Database(err)
	}

	accessToken, accessExpiresAt, err := s.tokens.Issue(user.ID, account.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &AuthResult{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          newToken,
		RefreshTokenExpiresAt: refreshExpiresAt,
		User:                  user,
		Account:               account,
	}, nil
}

// GetSession loads the user and account named by verified access token claims.
func (s *AuthService) GetSession(ctx context.Context, claims *auth.Claims) (*SessionInfo, error) {
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.Unauthorized("User no longer exists")
	}

	account, err := s.accounts.GetAccount(ctx, claims.AccountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != user.ID {
		return nil, apperrors.Unauthorized("Session does not match account")
	}

	return &SessionInfo{User: user, Account: account}, nil
}

// UpdatePassword changes the password under the password update timeout and
// revokes every session of the user.
func (s *AuthService) UpdatePassword(ctx context.Context, userID string, input UpdatePasswordInput) error {
	if len(input.NewPassword) < util.MinPasswordLength {
		return apperrors.InvalidInput("newPassword", fmt.Sprintf("must be at least %d characters", util.MinPasswordLength))
	}
	if input.NewPassword != input.ConfirmPassword {
		return apperrors.InvalidInput("confirmPassword", "passwords do not match")
	}

	ctx, cancel := context.WithTimeout(ctx, s.passwordTimeout)
	defer cancel()

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return passwordStoreError(ctx, err)
	}
	if user == nil {
		return apperrors.NotFound("User")
	}
	if !util.CheckPasswordHash(input.CurrentPassword, user.PasswordHash) {
		return apperrors.InvalidInput("currentPassword", "is incorrect")
	}

	hash, err := s.hashWithContext(ctx, input.NewPassword)
	if err != nil {
		return passwordStoreError(ctx, err)
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		return passwordStoreError(ctx, err)
	}

	revoked, err := s.sessionRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to revoke sessions after password update")
	}

	log.Info().
		Str("userId", userID).
		Int64("revokedSessions", revoked).
		Msg("password updated")
	return nil
}

// hashWithContext runs bcrypt off the request goroutine so the deadline can
// win over a slow hash.
func (s *AuthService) hashWithContext(ctx context.Context, password string) (string, error) {
	type result struct {
		hash string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		hash, err := s.hashPassword(password)
		done <- result{hash, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.hash, r.err
	}
}

func passwordStoreError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout("Password update", err)
	}
	return apperrors.Database(err)
}

func (s *AuthService) openSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	account, err := s.accounts.EnsureAccount(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	refreshToken, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiresAt := s.now().Add(s.refreshTTL)

	if _, err := s.sessionRepo.Create(ctx, model.CreateSessionParams{
		UserID:           user.ID,
		RefreshTokenHash: s.hashRefreshToken(refreshToken),
		ExpiresAt:        refreshExpiresAt,
	}); err != nil {
		return nil, apperrors.Database(err)
	}

	accessToken, accessExpiresAt, err := s.tokens.Issue(user.ID, account.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &AuthResult{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt,
		User:                  user,
		Account:               account,
	}, nil
}

func (s *AuthService) hashRefreshToken(token string) string {
	return util.HmacSHA256(s.sessionSecret, token)
}

func validateCredentials(email, password string) error {
	if email == "" {
		return apperrors.MissingRequired("email")
	}
	if !util.IsValidEmail(email) {
		return apperrors.InvalidInput("email", "is not a valid email address")
	}
	if len(password) < util.MinPasswordLength {
		return apperrors.InvalidInput("password", fmt.Sprintf("must be at least %d characters", util.MinPasswordLength))
	}
	return nil
}
