package handler

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/stylesync/quota-server-go/internal/auth"
	"github.com/stylesync/quota-server-go/internal/middleware"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/quota"
	"github.com/stylesync/quota-server-go/internal/service"
	"github.com/stylesync/quota-server-go/internal/tier"
)

var testClaims = &auth.Claims{UserID: "user-1", AccountID: "acc-1", Email: "a@example.com"}

func withClaims(r *http.Request) *http.Request {
	return r.WithContext(middleware.WithClaims(r.Context(), testClaims))
}

func passthrough(next http.Handler) http.Handler { return next }

type mockAuthAPI struct {
	mock.Mock
}

func (m *mockAuthAPI) SignUp(ctx context.Context, input service.SignUpInput) (*service.AuthResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AuthResult), args.Error(1)
}

func (m *mockAuthAPI) SignIn(ctx context.Context, input service.SignInInput) (*service.AuthResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AuthResult), args.Error(1)
}

func (m *mockAuthAPI) SignOut(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

func (m *mockAuthAPI) Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AuthResult), args.Error(1)
}

func (m *mockAuthAPI) GetSession(ctx context.Context, claims *auth.Claims) (*service.SessionInfo, error) {
	args := m.Called(ctx, claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SessionInfo), args.Error(1)
}

func (m *mockAuthAPI) UpdatePassword(ctx context.Context, userID string, input service.UpdatePasswordInput) error {
	args := m.Called(ctx, userID, input)
	return args.Error(0)
}

type mockAccountAPI struct {
	mock.Mock
	tiers *tier.Table
}

func newMockAccountAPI() *mockAccountAPI {
	return &mockAccountAPI{tiers: tier.Default()}
}

func (m *mockAccountAPI) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountAPI) Usage(ctx context.Context, accountID string) (*model.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountAPI) Snapshot(account *model.Account) quota.Usage {
	return quota.Usage{
		Tier:             account.Tier,
		Unit:             m.tiers.Limits(account.Tier).Unit,
		CreditsRemaining: account.CreditsRemaining,
		DailyUsed:        account.DailyUsed,
		MonthlyUsed:      account.MonthlyUsed,
		MonthlyCap:       m.tiers.Limits(account.Tier).MonthlyCap,
	}
}

func (m *mockAccountAPI) Tiers() *tier.Table {
	return m.tiers
}

type mockRewriteAPI struct {
	mock.Mock
}

func (m *mockRewriteAPI) Rewrite(ctx context.Context, accountID string, input service.RewriteInput) (*service.RewriteResult, error) {
	args := m.Called(ctx, accountID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RewriteResult), args.Error(1)
}

func (m *mockRewriteAPI) History(ctx context.Context, accountID string, limit, offset int) (*service.HistoryPage, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.HistoryPage), args.Error(1)
}

func (m *mockRewriteAPI) Export(ctx context.Context, accountID string) (*service.ExportDocument, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ExportDocument), args.Error(1)
}

func (m *mockRewriteAPI) Stats(ctx context.Context, accountID string) (*model.RewriteStats, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RewriteStats), args.Error(1)
}

type mockSubscriptionAPI struct {
	mock.Mock
}

func (m *mockSubscriptionAPI) ChangeTier(ctx context.Context, accountID string, to model.Tier) (*model.Account, error) {
	args := m.Called(ctx, accountID, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockSubscriptionAPI) Cancel(ctx context.Context, accountID string) (*model.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockSubscriptionAPI) ListBilling(ctx context.Context, accountID string) ([]model.BillingRecord, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BillingRecord), args.Error(1)
}
