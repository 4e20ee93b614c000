package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/stylesync/quota-server-go/internal/database"
	"github.com/stylesync/quota-server-go/internal/model"
	"github.com/stylesync/quota-server-go/internal/repository"
	"github.com/stylesync/quota-server-go/internal/rewriter"
	"github.com/stylesync/quota-server-go/internal/sse"
)

// serialTx runs every transaction under one mutex, standing in for the
// row lock Postgres takes in FindByIDForUpdate.
type serialTx struct {
	mu      sync.Mutex
	commits int
	aborts  int
}

func (t *serialTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := fn(nil); err != nil {
		t.aborts++
		return err
	}
	t.commits++
	return nil
}

// memAccountRepo keeps accounts in memory. Writes made inside a transaction
// are applied immediately; tests that need rollback check serialTx.aborts.
type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	updates  int
	failOn   error
}

func newMemAccountRepo(accounts ...model.Account) *memAccountRepo {
	r := &memAccountRepo{accounts: make(map[string]model.Account)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *memAccountRepo) get(id string) model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id]
}

func (r *memAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *memAccountRepo) FindByUserID(ctx context.Context, userID string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.UserID == userID {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return r.FindByID(ctx, id)
}

func (r *memAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := model.Account{
		ID:                 "acc-" + params.UserID,
		UserID:             params.UserID,
		Email:              params.Email,
		Tier:               params.Tier,
		CreditsRemaining:   params.CreditsRemaining,
		LastResetDate:      params.LastResetDate,
		MonthlyResetAnchor: params.MonthlyResetAnchor,
	}
	r.accounts[a.ID] = a
	return &a, nil
}

func (r *memAccountRepo) UpdateUsage(ctx context.Context, id string, params model.UsageParams) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return nil, r.failOn
	}
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	a.Tier = params.Tier
	a.CreditsRemaining = params.CreditsRemaining
	a.DailyUsed = params.DailyUsed
	a.MonthlyUsed = params.MonthlyUsed
	a.ParkedDailyUsed = params.ParkedDailyUsed
	a.ParkedMonthlyUsed = params.ParkedMonthlyUsed
	a.LastResetDate = params.LastResetDate
	a.SubscriptionExpiresAt = params.SubscriptionExpiresAt
	a.CancelledAt = params.CancelledAt
	a.Version++
	r.accounts[id] = a
	r.updates++
	return &a, nil
}

func (r *memAccountRepo) FindExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Account
	for _, a := range r.accounts {
		if a.Tier.Paid() && a.SubscriptionExpiresAt != nil && !now.Before(*a.SubscriptionExpiresAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository {
	return r
}

type mockAccountCache struct {
	mock.Mock
}

func (m *mockAccountCache) Get(ctx context.Context, accountID string) (*model.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountCache) Set(ctx context.Context, account *model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountCache) Invalidate(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, accountID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type mockRewriteRepo struct {
	mock.Mock
}

func (m *mockRewriteRepo) Create(ctx context.Context, params model.CreateRewriteParams) (*model.RewriteRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RewriteRecord), args.Error(1)
}

func (m *mockRewriteRepo) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.RewriteRecord, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RewriteRecord), args.Error(1)
}

func (m *mockRewriteRepo) CountByAccountID(ctx context.Context, accountID string) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

func (m *mockRewriteRepo) Stats(ctx context.Context, accountID string) (*model.RewriteStats, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RewriteStats), args.Error(1)
}

func (m *mockRewriteRepo) TopTags(ctx context.Context, accountID string, limit int) ([]model.TagCount, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TagCount), args.Error(1)
}

func (m *mockRewriteRepo) WithTx(tx *sqlx.Tx) repository.RewriteRepository {
	return m
}

type mockBillingRepo struct {
	mock.Mock
}

func (m *mockBillingRepo) Create(ctx context.Context, params model.CreateBillingRecordParams) (*model.BillingRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BillingRecord), args.Error(1)
}

func (m *mockBillingRepo) ListByAccountID(ctx context.Context, accountID string, limit int) ([]model.BillingRecord, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BillingRecord), args.Error(1)
}

func (m *mockBillingRepo) WithTx(tx *sqlx.Tx) repository.BillingRepository {
	return m
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockUserRepo) WithTx(tx *sqlx.Tx) repository.UserRepository {
	return m
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) Rotate(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, id, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return m
}

// stubRewriter returns a fixed result, optionally after a delay that
// ignores the context. during runs while the call is in flight.
type stubRewriter struct {
	result rewriter.Result
	err    error
	delay  time.Duration
	during func()
	calls  int
}

func (s *stubRewriter) Name() string { return "stub" }

func (s *stubRewriter) Rewrite(ctx context.Context, req rewriter.Request) (rewriter.Result, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return rewriter.Result{}, s.err
	}
	r := s.result
	if r.Text == "" {
		r.Text = req.Text
	}
	r.Backend = "stub"
	return r, nil
}

var errStore = errors.New("store unavailable")
